// Package lifecycle implements the per-service state machine: state
// transitions mediated entirely through the configuration tree, backing
// task cancellation, dependency-gated advancement, and requires-string
// parsing.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/edged/edged/internal/configtree"
)

// leafString returns the string value of topics's direct child named
// name, or "" if absent or not a string — the same shape as
// registry.leafString, duplicated here since registry imports lifecycle
// (not the reverse).
func leafString(topics *configtree.Topics, name string) string {
	child := topics.Get(name)
	topic, ok := child.(*configtree.Topic)
	if !ok {
		return ""
	}
	s, _ := topic.Value().(string)
	return s
}

// State is a service's lifecycle state. The first six values form a
// linear progression used for dependency satisfaction comparisons
// (New < Installing < ... < Finished); Errored, Shutdown and Unstable are
// side states reachable from (almost) anywhere and are never the target
// of a "dep >= requiredState" comparison a well-formed requires string
// would name.
type State int

const (
	New State = iota
	Installing
	AwaitingStartup
	Starting
	Running
	Finished
	Errored
	Shutdown
	// Unstable is retained for forward compatibility: the spec reserves it
	// as a state name but nothing in the core machine currently drives a
	// service into it.
	Unstable
)

var stateNames = [...]string{
	New:             "New",
	Installing:      "Installing",
	AwaitingStartup: "AwaitingStartup",
	Starting:        "Starting",
	Running:         "Running",
	Finished:        "Finished",
	Errored:         "Errored",
	Shutdown:        "Shutdown",
	Unstable:        "Unstable",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// ParseState resolves a state name (or any prefix of one, case
// insensitive) against the declared state list in declaration order —
// the first prefix match wins, matching the spec's dependency-syntax
// resolution rule.
func ParseState(s string) (State, bool) {
	lower := strings.ToLower(s)
	for i, name := range stateNames {
		if strings.HasPrefix(strings.ToLower(name), lower) {
			return State(i), true
		}
	}
	return 0, false
}

// GEQ reports whether s is at least as advanced as other along the linear
// progression New < Installing < AwaitingStartup < Starting < Running <
// Finished. Side states (Errored, Shutdown, Unstable) never satisfy a
// dependency requirement expressed against the linear progression.
func (s State) GEQ(other State) bool {
	if !s.inProgression() || !other.inProgression() {
		return false
	}
	return s >= other
}

func (s State) inProgression() bool {
	return s >= New && s <= Finished
}

// Dependency is one parsed entry of a requires/dependencies/dependency/
// defaultimpl string: depend on Name reaching at least MinState.
type Dependency struct {
	Name     string
	MinState State
}

// ErrBadDependencySyntax is returned by ParseDependencies when an entry's
// state-prefix can't be resolved against any known state name.
var ErrBadDependencySyntax = fmt.Errorf("lifecycle: bad dependency syntax")

// ParseDependencies splits raw on commas, semicolons or whitespace into
// `name[:state-prefix]` entries. A missing state-prefix defaults to
// Running. Malformed entries stop parsing and return
// ErrBadDependencySyntax wrapped with the offending entry; dependencies
// parsed before the failure are returned alongside the error so the
// caller (the spec requires "dependencies parsed so far are retained")
// can still use them.
func ParseDependencies(raw string) ([]Dependency, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	var deps []Dependency
	for _, f := range fields {
		name, statePrefix, hasState := strings.Cut(f, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		minState := Running
		if hasState {
			state, ok := ParseState(strings.TrimSpace(statePrefix))
			if !ok {
				return deps, fmt.Errorf("%w: %q", ErrBadDependencySyntax, f)
			}
			minState = state
		}
		deps = append(deps, Dependency{Name: name, MinState: minState})
	}
	return deps, nil
}
