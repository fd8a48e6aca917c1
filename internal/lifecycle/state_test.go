package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edged/edged/internal/lifecycle"
)

func TestParseStatePrefixMatch(t *testing.T) {
	st, ok := lifecycle.ParseState("run")
	require.True(t, ok)
	assert.Equal(t, lifecycle.Running, st)

	st, ok = lifecycle.ParseState("inst")
	require.True(t, ok)
	assert.Equal(t, lifecycle.Installing, st)

	_, ok = lifecycle.ParseState("zzz")
	assert.False(t, ok)
}

func TestGEQLinearProgression(t *testing.T) {
	assert.True(t, lifecycle.Running.GEQ(lifecycle.Starting))
	assert.False(t, lifecycle.Starting.GEQ(lifecycle.Running))
	assert.True(t, lifecycle.Finished.GEQ(lifecycle.New))
}

func TestGEQSideStatesNeverSatisfy(t *testing.T) {
	assert.False(t, lifecycle.Errored.GEQ(lifecycle.New))
	assert.False(t, lifecycle.Running.GEQ(lifecycle.Errored))
}

func TestParseDependenciesDefaultsToRunning(t *testing.T) {
	deps, err := lifecycle.ParseDependencies("db, cache ; logger")
	require.NoError(t, err)
	require.Len(t, deps, 3)
	for _, d := range deps {
		assert.Equal(t, lifecycle.Running, d.MinState)
	}
	assert.Equal(t, "db", deps[0].Name)
	assert.Equal(t, "cache", deps[1].Name)
	assert.Equal(t, "logger", deps[2].Name)
}

func TestParseDependenciesWithStatePrefix(t *testing.T) {
	deps, err := lifecycle.ParseDependencies("db:inst")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, lifecycle.Installing, deps[0].MinState)
}

func TestParseDependenciesBadSyntaxRetainsPriorEntries(t *testing.T) {
	deps, err := lifecycle.ParseDependencies("db cache:bogus")
	assert.ErrorIs(t, err, lifecycle.ErrBadDependencySyntax)
	require.Len(t, deps, 1)
	assert.Equal(t, "db", deps[0].Name)
}
