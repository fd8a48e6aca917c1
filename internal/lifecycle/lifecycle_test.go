package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/execx"
	"github.com/edged/edged/internal/lifecycle"
	"github.com/edged/edged/internal/logx"
	"github.com/edged/edged/internal/shellrunner"
)

// fakeRunner never actually executes; scriptResults maps a script body to
// whether it should be reported successful.
type fakeRunner struct {
	scriptResults map[string]bool
}

func (f fakeRunner) Setup(note, command string, _ *shellrunner.Service) (execx.Exec, bool) {
	if command == "" {
		return execx.Exec{}, false
	}
	return execx.Exec{Shell: command}, true
}

func (f fakeRunner) Successful(_ context.Context, ex execx.Exec, background bool, onExit func(int)) bool {
	ok := f.scriptResults[ex.Shell]
	if background {
		code := 1
		if ok {
			code = 0
		}
		if onExit != nil {
			go onExit(code)
		}
		return true
	}
	return ok
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestLifecycleInstallToRunningHappyPath(t *testing.T) {
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc/a")
	require.NoError(t, err)

	runner := fakeRunner{scriptResults: map[string]bool{
		"install": true,
		"check":   true,
	}}
	svc := &shellrunner.Service{Name: "a", Topics: topics, Logger: logx.Discard()}

	lc, err := lifecycle.New("a", topics, lifecycle.Scripts{
		Install:         "install",
		AwaitingStartup: "check",
	}, nil, runner, svc, logx.Discard(), func(string) (lifecycle.State, bool) { return 0, false }, nil)
	require.NoError(t, err)

	lc.SetState(lifecycle.Installing)
	waitFor(t, func() bool { return lc.State().GEQ(lifecycle.AwaitingStartup) })
	lc.Recheck()
	waitFor(t, func() bool { return lc.State() == lifecycle.Running })
}

func TestLifecycleInstallFailureGoesErrored(t *testing.T) {
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc/b")
	require.NoError(t, err)

	runner := fakeRunner{scriptResults: map[string]bool{"install": false}}
	svc := &shellrunner.Service{Name: "b", Topics: topics, Logger: logx.Discard()}

	lc, err := lifecycle.New("b", topics, lifecycle.Scripts{Install: "install"}, nil, runner, svc, logx.Discard(), func(string) (lifecycle.State, bool) { return 0, false }, nil)
	require.NoError(t, err)

	lc.SetState(lifecycle.Installing)
	waitFor(t, func() bool { return lc.State() == lifecycle.Errored })
}

func TestLifecycleWaitsOnUnsatisfiedDependency(t *testing.T) {
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc/c")
	require.NoError(t, err)

	runner := fakeRunner{scriptResults: map[string]bool{"check": true}}
	svc := &shellrunner.Service{Name: "c", Topics: topics, Logger: logx.Discard()}

	depState := lifecycle.Installing
	lc, err := lifecycle.New("c", topics,
		lifecycle.Scripts{AwaitingStartup: "check"},
		[]lifecycle.Dependency{{Name: "db", MinState: lifecycle.Running}},
		runner, svc, logx.Discard(),
		func(name string) (lifecycle.State, bool) {
			if name == "db" {
				return depState, true
			}
			return 0, false
		}, nil)
	require.NoError(t, err)

	lc.SetState(lifecycle.AwaitingStartup)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, lifecycle.AwaitingStartup, lc.State())

	depState = lifecycle.Running
	lc.Recheck()
	waitFor(t, func() bool { return lc.State().GEQ(lifecycle.Starting) })
}

func TestLifecycleSkipsInstallWhenExistsPathIsPresent(t *testing.T) {
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc/e")
	require.NoError(t, err)
	require.NoError(t, topics.SetLeafValue("exists", "/usr/bin/true"))

	// install is wired to fail if it ever actually runs, so the test fails
	// loudly (Errored) rather than silently passing for the wrong reason.
	runner := fakeRunner{scriptResults: map[string]bool{"install": false}}
	svc := &shellrunner.Service{Name: "e", Topics: topics, Logger: logx.Discard()}

	lc, err := lifecycle.New("e", topics, lifecycle.Scripts{Install: "install"}, nil, runner, svc, logx.Discard(), func(string) (lifecycle.State, bool) { return 0, false }, nil)
	require.NoError(t, err)

	lc.SetState(lifecycle.Installing)
	waitFor(t, func() bool { return lc.State() == lifecycle.AwaitingStartup })

	status, ok := topics.Get("status").(*configtree.Topic)
	require.True(t, ok)
	assert.Equal(t, "Skipping", status.Value())
}

func TestLifecycleRunsInstallWhenExistsPathIsAbsent(t *testing.T) {
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc/f")
	require.NoError(t, err)
	require.NoError(t, topics.SetLeafValue("exists", "/no/such/binary/anywhere"))

	runner := fakeRunner{scriptResults: map[string]bool{"install": true}}
	svc := &shellrunner.Service{Name: "f", Topics: topics, Logger: logx.Discard()}

	lc, err := lifecycle.New("f", topics, lifecycle.Scripts{Install: "install"}, nil, runner, svc, logx.Discard(), func(string) (lifecycle.State, bool) { return 0, false }, nil)
	require.NoError(t, err)

	lc.SetState(lifecycle.Installing)
	waitFor(t, func() bool { return lc.State() == lifecycle.AwaitingStartup })
}

func TestSetStateIdempotent(t *testing.T) {
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc/d")
	require.NoError(t, err)
	svc := &shellrunner.Service{Name: "d", Topics: topics, Logger: logx.Discard()}
	lc, err := lifecycle.New("d", topics, lifecycle.Scripts{}, nil, fakeRunner{}, svc, logx.Discard(), func(string) (lifecycle.State, bool) { return 0, false }, nil)
	require.NoError(t, err)

	lc.SetState(lifecycle.Errored)
	waitFor(t, func() bool { return lc.State() == lifecycle.Errored })
	lc.SetState(lifecycle.Errored)
	assert.Equal(t, lifecycle.Errored, lc.State())
}
