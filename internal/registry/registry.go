// Package registry holds the table of service implementors: the dynamic
// class resolution the teacher calls out explicitly (matching
// internal/server/service's Type/Initializer split) rather than a fixed
// switch over known service kinds. A service's config carries a `type`
// leaf; the table maps that string to an Implementor that turns the rest
// of the service's config into the lifecycle.Scripts and dependency list
// Lifecycle actually runs.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/lifecycle"
)

// Implementor turns a service's config subtree into the shell scripts and
// dependency list its Lifecycle will run. Implementations never start or
// stop anything themselves — that stays ShellRunner/Lifecycle's job, so
// every implementor (docker included) produces ordinary shell commands.
// ctx bounds any preparatory work Build itself performs (DockerService
// uses it to ensure the image is pulled before boot proceeds).
type Implementor interface {
	// Type is the config `type` value this implementor handles, e.g.
	// "external" or "docker".
	Type() string
	Build(ctx context.Context, name string, cfg *configtree.Topics) (lifecycle.Scripts, []lifecycle.Dependency, error)
}

// Table is an ordered registration of Implementors, keyed by Type().
// Insertion order is the order Types() returns; lookup is by name.
type Table struct {
	byType map[string]Implementor
	order  []string
}

// New returns an empty Table. Callers typically Register GenericExternal
// and DockerService (when Docker support is desired) right after.
func New() *Table {
	return &Table{byType: make(map[string]Implementor)}
}

// Register adds impl, overwriting any prior implementor registered under
// the same Type().
func (t *Table) Register(impl Implementor) {
	typ := impl.Type()
	if _, exists := t.byType[typ]; !exists {
		t.order = append(t.order, typ)
	}
	t.byType[typ] = impl
}

// Lookup returns the implementor registered for typ, if any.
func (t *Table) Lookup(typ string) (Implementor, bool) {
	impl, ok := t.byType[typ]
	return impl, ok
}

// Types returns the registered type names in registration order.
func (t *Table) Types() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// leafString returns the string value of cfg's direct child named name,
// or "" if absent or not a string.
func leafString(cfg *configtree.Topics, name string) string {
	child := cfg.Get(name)
	topic, ok := child.(*configtree.Topic)
	if !ok {
		return ""
	}
	s, _ := topic.Value().(string)
	return s
}

// leafBool returns the bool value of cfg's direct child named name.
func leafBool(cfg *configtree.Topics, name string) bool {
	child := cfg.Get(name)
	topic, ok := child.(*configtree.Topic)
	if !ok {
		return false
	}
	b, _ := topic.Value().(bool)
	return b
}

// leafDuration parses cfg's direct child named name as a Go duration
// string (e.g. "30s"); zero if absent or unparsable.
func leafDuration(cfg *configtree.Topics, name string) time.Duration {
	s := leafString(cfg, name)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// GenericExternal implements a service whose config directly supplies
// shell fragments: install, awaitingstartup (or startup), run, shutdown,
// bashtimeout and requires. This is the fallback every unrecognised
// `type` value (and the absence of one) resolves to.
type GenericExternal struct{}

func (GenericExternal) Type() string { return "external" }

func (GenericExternal) Build(_ context.Context, name string, cfg *configtree.Topics) (lifecycle.Scripts, []lifecycle.Dependency, error) {
	scripts := lifecycle.Scripts{
		Install:         leafString(cfg, "install"),
		AwaitingStartup: firstNonEmpty(leafString(cfg, "awaitingstartup"), leafString(cfg, "startup")),
		Run:             leafString(cfg, "run"),
		Shutdown:        leafString(cfg, "shutdown"),
		Periodic:        leafBool(cfg, "periodic"),
		Interval:        leafDuration(cfg, "interval"),
	}

	deps, err := parseRequires(cfg)
	if err != nil {
		return lifecycle.Scripts{}, nil, fmt.Errorf("registry: service %q: %w", name, err)
	}
	return scripts, deps, nil
}

// parseRequires reads the dependency-declaration leaf under any of its
// documented synonyms — requires, dependencies, dependency, defaultimpl —
// preferring whichever is present first, same as the awaitingstartup/
// startup synonym pair above.
func parseRequires(cfg *configtree.Topics) ([]lifecycle.Dependency, error) {
	raw := firstNonEmpty(
		leafString(cfg, "requires"),
		leafString(cfg, "dependencies"),
		leafString(cfg, "dependency"),
		leafString(cfg, "defaultimpl"),
	)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return lifecycle.ParseDependencies(raw)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// portSpec is one `ports` entry, "<host>:<container>[/proto]" or a bare
// "<port>" meaning the same port on both sides.
type portSpec struct {
	host      string
	container string
	proto     string
}

func parsePortSpecs(raw string) []portSpec {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var specs []portSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		proto := "tcp"
		if i := strings.LastIndex(entry, "/"); i >= 0 {
			proto = entry[i+1:]
			entry = entry[:i]
		}
		host, container, ok := strings.Cut(entry, ":")
		if !ok {
			host, container = entry, entry
		}
		specs = append(specs, portSpec{host: host, container: container, proto: proto})
	}
	return specs
}

// validPort reports whether s parses as a TCP/UDP port number, so a
// malformed `ports` entry is dropped rather than producing a broken
// docker run invocation.
func validPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n < 65536
}
