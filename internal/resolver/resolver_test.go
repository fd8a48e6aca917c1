package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edged/edged/internal/resolver"
)

type graph map[string][]string

func (g graph) DependenciesOf(name string) []string { return g[name] }

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}

func TestOrderedDependenciesRespectsEdges(t *testing.T) {
	g := graph{
		"web":   {"db", "cache"},
		"db":    {},
		"cache": {},
	}
	out := resolver.OrderedDependencies(g, []string{"web"})
	assert.ElementsMatch(t, []string{"web", "db", "cache"}, out)
	assert.Less(t, indexOf(out, "db"), indexOf(out, "web"))
	assert.Less(t, indexOf(out, "cache"), indexOf(out, "web"))
}

func TestOrderedDependenciesExcludesCycleButOrdersRest(t *testing.T) {
	g := graph{
		"a": {"b"},
		"b": {"a"},
		"c": {"a"},
	}
	out := resolver.OrderedDependencies(g, []string{"c"})
	assert.NotContains(t, out, "a")
	assert.NotContains(t, out, "b")
	assert.NotContains(t, out, "c")
}

func TestOrderedDependenciesHandlesDiamond(t *testing.T) {
	g := graph{
		"top":   {"left", "right"},
		"left":  {"base"},
		"right": {"base"},
		"base":  {},
	}
	out := resolver.OrderedDependencies(g, []string{"top"})
	assert.Less(t, indexOf(out, "base"), indexOf(out, "left"))
	assert.Less(t, indexOf(out, "base"), indexOf(out, "right"))
	assert.Less(t, indexOf(out, "left"), indexOf(out, "top"))
	assert.Less(t, indexOf(out, "right"), indexOf(out, "top"))
}
