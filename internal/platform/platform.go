// Package platform implements the kernel's OS/distro rank map and the
// pickByOS tie-breaking rule used to select platform-specific config
// subtrees (lifecycle scripts, dependency lists, and similar per-OS
// variants).
package platform

import (
	"os"
	"runtime"
	"strings"
)

// Standard ranks, per the spec: more specific tags outrank more general
// ones so pickByOS prefers the narrowest match a probe actually confirmed.
const (
	RankUnknown  = -1
	RankAny      = 0
	RankPosix    = 3
	RankWindows  = 5
	RankLinux    = 10
	RankDistro   = 11 // debian, fedora
	RankOSFamily = 20 // 20-22: distro/OS family
	RankHostname = 99 // always most specific
)

// Selector holds the rank map populated at startup from filesystem probes
// and kernel-name heuristics.
type Selector struct {
	ranks map[string]int
}

// Probes is the set of filesystem/command probes Detect uses to confirm
// tags beyond the static baseline; exposed so tests can substitute a fake
// filesystem without touching the real one.
type Probes struct {
	Exists   func(path string) bool
	Hostname func() (string, error)
	GOOS     string
}

// DefaultProbes returns the real-filesystem, real-hostname probe set.
func DefaultProbes() Probes {
	return Probes{
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		Hostname: os.Hostname,
		GOOS:     runtime.GOOS,
	}
}

// Detect builds a Selector by running probes against the current system:
// shell/proc/package-manager presence, kernel-name heuristics, and the
// current hostname (always rank 99 — the most specific tag there is).
func Detect(p Probes) *Selector {
	s := &Selector{ranks: map[string]int{
		"all": RankAny,
		"any": RankAny,
	}}

	if p.Exists("/bin/bash") || p.Exists("/usr/bin/bash") {
		s.ranks["posix"] = RankPosix
	}
	if p.Exists("/proc") {
		s.ranks["linux"] = RankLinux
	}
	if p.Exists("/usr/bin/apt-get") {
		s.ranks["debian"] = RankDistro
	}
	if p.Exists("/usr/bin/yum") {
		s.ranks["fedora"] = RankDistro
	}

	switch p.GOOS {
	case "windows":
		s.ranks["windows"] = RankWindows
	case "darwin":
		s.ranks["darwin"] = RankOSFamily
	}

	for _, name := range []string{"ubuntu", "raspbian", "qnx", "cygwin", "freebsd", "solaris"} {
		if kernelNameMatches(p, name) {
			s.ranks[name] = RankOSFamily
		}
	}

	if p.Hostname != nil {
		if host, err := p.Hostname(); err == nil && host != "" {
			s.ranks[host] = RankHostname
		}
	}

	return s
}

// kernelNameMatches probes for distro-identifying files/markers rather
// than shelling out to `uname`, since edged only needs a yes/no per name
// and not the full kernel string.
func kernelNameMatches(p Probes, name string) bool {
	switch name {
	case "raspbian":
		return p.Exists("/etc/rpi-issue")
	case "qnx":
		return p.Exists("/proc/qnx")
	case "cygwin":
		return strings.Contains(p.GOOS, "cygwin")
	case "freebsd", "solaris":
		return p.GOOS == name
	case "ubuntu":
		return p.Exists("/etc/lsb-release")
	default:
		return false
	}
}

// Rank returns tag's rank, or RankUnknown (-1) if the tag was never
// confirmed on this system.
func (s *Selector) Rank(tag string) int {
	if r, ok := s.ranks[tag]; ok {
		return r
	}
	return RankUnknown
}

// Set installs (or overrides) a tag's rank directly — used by tests and
// by explicit config overrides of auto-detected tags.
func (s *Selector) Set(tag string, rank int) {
	s.ranks[tag] = rank
}

// OSChild is the minimal surface pickByOS needs from a config node: a
// name (matched against the rank map) and a position (for insertion-order
// tie-breaking).
type OSChild interface {
	Name() string
}

// PickByOS returns the candidate with the highest rank; ties are broken
// by the candidate's position in children (first inserted wins), matching
// the spec's tie-break rule.
func (s *Selector) PickByOS(children []OSChild) OSChild {
	var best OSChild
	bestRank := RankUnknown - 1
	for _, c := range children {
		r := s.Rank(c.Name())
		if r > bestRank {
			best = c
			bestRank = r
		}
	}
	return best
}
