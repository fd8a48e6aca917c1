// Package template implements the kernel's $[...] substitution language:
// a minimal, pluggable token-expansion pass over configuration strings.
package template

import (
	"fmt"
	"strings"
)

// Evaluator resolves a single token's expression to a value, or returns
// (nil, false) to decline, letting the next registered evaluator try.
type Evaluator func(expr string) (value any, ok bool)

// Engine scans text for `$[ expr ]` tokens and substitutes each with the
// first evaluator (in registration order) that resolves it. Unresolved
// tokens are left verbatim. Rewriting a token's own expansion is never
// re-scanned, so an evaluator can't accidentally recurse by returning text
// that itself contains `$[...]`.
type Engine struct {
	evaluators []namedEvaluator
}

type namedEvaluator struct {
	name string
	fn   Evaluator
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{}
}

// Register appends an evaluator under name (used only for diagnostics/
// debugging, e.g. listing what's registered). Evaluators are consulted in
// registration order and the first non-declining one wins, so order is
// significant — the Supervisor registers its path evaluator (root, work,
// bin, config) before its free-form config-tree lookup evaluator, so
// well-known path tokens always resolve the same way regardless of what a
// service's own config defines.
func (e *Engine) Register(name string, fn Evaluator) {
	e.evaluators = append(e.evaluators, namedEvaluator{name, fn})
}

// Expand rewrites every `$[expr]` token in s, substituting the first
// evaluator's resolution coerced to a string. Expand is pure: calling it
// twice on text containing no tokens returns the input unchanged, and
// calling it on already-expanded text (no remaining tokens) is a no-op —
// the idempotence property the spec requires.
func (e *Engine) Expand(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "$[")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])

		end := findTokenEnd(s, start+2)
		if end < 0 {
			// No closing bracket within a valid expression run: this "$["
			// is not a token. Emit it verbatim and keep scanning after it.
			out.WriteString(s[start : start+2])
			i = start + 2
			continue
		}

		expr := s[start+2 : end]
		value, resolved := e.resolve(expr)
		if resolved {
			out.WriteString(coerceString(value))
		} else {
			out.WriteString(s[start : end+1])
		}
		i = end + 1
	}

	return out.String()
}

// findTokenEnd scans forward from pos (just after "$[") for the matching
// "]", requiring the expression contain none of '$', '[', ']' or '\n'.
// Returns the index of the closing ']', or -1 if the run is interrupted
// by a disallowed character before one is found.
func findTokenEnd(s string, pos int) int {
	for i := pos; i < len(s); i++ {
		switch s[i] {
		case ']':
			return i
		case '$', '[', '\n':
			return -1
		}
	}
	return -1
}

func (e *Engine) resolve(expr string) (any, bool) {
	for _, ev := range e.evaluators {
		if v, ok := ev.fn(expr); ok {
			return v, true
		}
	}
	return nil, false
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
