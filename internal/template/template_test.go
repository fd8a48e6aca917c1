package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edged/edged/internal/template"
)

func TestExpandFirstMatchWins(t *testing.T) {
	eng := template.New()
	eng.Register("first", func(expr string) (any, bool) {
		if expr == "root" {
			return "/opt/edged", true
		}
		return nil, false
	})
	eng.Register("second", func(expr string) (any, bool) {
		return "should-not-be-used", true
	})

	assert.Equal(t, "/opt/edged/bin", eng.Expand("$[root]/bin"))
}

func TestExpandUnresolvedLeftVerbatim(t *testing.T) {
	eng := template.New()
	assert.Equal(t, "$[missing]", eng.Expand("$[missing]"))
}

func TestExpandIdempotentOnPlainText(t *testing.T) {
	eng := template.New()
	eng.Register("any", func(string) (any, bool) { return "x", true })
	plain := "no tokens here"
	assert.Equal(t, plain, eng.Expand(plain))
}

func TestExpandDoesNotRescanExpansion(t *testing.T) {
	eng := template.New()
	eng.Register("echo", func(expr string) (any, bool) {
		if expr == "outer" {
			return "$[inner]", true
		}
		return nil, false
	})
	assert.Equal(t, "$[inner]", eng.Expand("$[outer]"))
}

func TestExpandRejectsNestedBracketsAndDollar(t *testing.T) {
	eng := template.New()
	eng.Register("always", func(string) (any, bool) { return "X", true })
	assert.Equal(t, "$[a[b]", eng.Expand("$[a[b]"))
	assert.Equal(t, "$[a$b]", eng.Expand("$[a$b]"))
}

func TestExpandCoercesNonString(t *testing.T) {
	eng := template.New()
	eng.Register("num", func(string) (any, bool) { return int64(42), true })
	assert.Equal(t, "port=42", eng.Expand("port=$[x]"))
}
