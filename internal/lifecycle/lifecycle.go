package lifecycle

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/logx"
	"github.com/edged/edged/internal/shellrunner"
)

// Scripts holds the shell fragments a Lifecycle runs at each transition.
// AwaitingStartup is the check/startup script run on entering Starting;
// Run is the long-lived service process started on entering Running;
// Periodic, when set, means a successful Starting->Finished transition
// should be followed (after Interval) by re-entering Running rather than
// staying Finished for good.
type Scripts struct {
	Install         string
	AwaitingStartup string
	Run             string
	Shutdown        string
	Periodic        bool
	Interval        time.Duration
}

// Lookup resolves another service's current state by name, for
// dependency-satisfaction checks.
type Lookup func(name string) (State, bool)

// Lifecycle drives one service's _State topic through the machine
// described in the package doc. All transitions are mediated through the
// tree: SetState always writes the `_State` leaf; the leaf's own
// subscriber (registered once, in New) performs the corresponding action.
type Lifecycle struct {
	Name string

	topics  *configtree.Topics
	state   *configtree.Topic
	scripts Scripts
	deps    []Dependency

	runner shellrunner.Interface
	svc    *shellrunner.Service
	logger logx.Logger

	lookup        Lookup
	recheckOthers func()

	mu           sync.Mutex
	backingDone  chan struct{}
	backingClose func()
	errHandling  bool
}

// New constructs a Lifecycle for a service, wiring its `_State` leaf's
// subscriber to execute transition actions, and sets the initial state to
// New if the leaf doesn't already hold a value (e.g. from tlog replay).
func New(name string, topics *configtree.Topics, scripts Scripts, deps []Dependency, runner shellrunner.Interface, svc *shellrunner.Service, logger logx.Logger, lookup Lookup, recheckOthers func()) (*Lifecycle, error) {
	state, err := topics.LookupChildTopic("_State")
	if err != nil {
		return nil, err
	}

	l := &Lifecycle{
		Name:          name,
		topics:        topics,
		state:         state,
		scripts:       scripts,
		deps:          deps,
		runner:        runner,
		svc:           svc,
		logger:        logger,
		lookup:        lookup,
		recheckOthers: recheckOthers,
	}

	state.Subscribe(func(what configtree.WhatHappened, _ *configtree.Topic, value configtree.Any) {
		if what == configtree.Removed {
			return
		}
		name, _ := value.(string)
		st, ok := ParseState(name)
		if !ok {
			return
		}
		l.onEnter(st)
	})

	if state.Value() == nil {
		l.SetState(New)
	}

	return l, nil
}

// State returns the service's current state.
func (l *Lifecycle) State() State {
	name, _ := l.state.Value().(string)
	st, ok := ParseState(name)
	if !ok {
		return New
	}
	return st
}

// SetState idempotently writes the target state to `_State`. Writing the
// same state the topic already holds is a no-op — no duplicate action runs.
func (l *Lifecycle) SetState(target State) {
	if current, _ := l.state.Value().(string); current == target.String() {
		return
	}
	_ = l.topics.SetLeafValue("_State", target.String())
}

// Satisfied reports whether every declared dependency has reached at
// least its required state.
func (l *Lifecycle) Satisfied() bool {
	for _, dep := range l.deps {
		st, ok := l.lookup(dep.Name)
		if !ok || !st.GEQ(dep.MinState) {
			return false
		}
	}
	return true
}

func (l *Lifecycle) onEnter(state State) {
	switch state {
	case Installing:
		if path := leafString(l.topics, "exists"); path != "" {
			if _, err := os.Stat(path); err == nil {
				_ = l.topics.SetLeafValue("status", "Skipping")
				l.SetState(AwaitingStartup)
				break
			}
		}
		l.runBackingOnce("install", l.scripts.Install, func(ok bool) {
			if ok {
				l.SetState(AwaitingStartup)
			} else {
				l.errored("install script failed", nil)
			}
		})
	case AwaitingStartup:
		l.maybeAdvanceToStarting()
	case Starting:
		l.runBackingOnce("awaitingStartup", l.scripts.AwaitingStartup, func(ok bool) {
			if !ok {
				l.errored("startup script failed", nil)
				return
			}
			if l.scripts.Periodic {
				l.SetState(Finished)
				l.schedulePeriodicRestart()
			} else {
				l.SetState(Running)
			}
		})
	case Running:
		if strings.TrimSpace(l.scripts.Run) == "" {
			// No long-lived process to back this state with; stay Running
			// until something else (shutdown, an error) moves it along.
			break
		}
		l.runBackingBackground("run", l.scripts.Run, func(ok bool) {
			if ok {
				l.SetState(Finished)
			} else {
				l.errored("run script exited non-zero", nil)
			}
		})
	case Shutdown:
		l.cancelBacking()
		l.runBackingOnce("shutdown", l.scripts.Shutdown, func(ok bool) {})
	case Finished, Errored:
		l.cancelBacking()
	}

	if l.recheckOthers != nil {
		l.recheckOthers()
	}
}

// maybeAdvanceToStarting checks dependency satisfaction and advances if
// ready. It is idempotent (SetState no-ops if already past AwaitingStartup)
// so it is safe to call both on entry and from the cross-service
// "recheck others" fixed-point pass.
func (l *Lifecycle) maybeAdvanceToStarting() {
	if l.State() != AwaitingStartup {
		return
	}
	if l.Satisfied() {
		l.SetState(Starting)
	}
}

// Recheck is called by the supervisor's fixed-point pass after any
// dependency's state changes.
func (l *Lifecycle) Recheck() {
	l.maybeAdvanceToStarting()
}

func (l *Lifecycle) schedulePeriodicRestart() {
	interval := l.scripts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	time.AfterFunc(interval, func() {
		if l.State() == Finished {
			l.SetState(Running)
		}
	})
}

// errored stores the root cause (unwrapping any wrapper), logs, and moves
// to Errored. A guard prevents a failure inside this handler itself (or
// inside the shutdown script it's not involved in) from recursing.
func (l *Lifecycle) errored(message string, cause error) {
	l.mu.Lock()
	if l.errHandling {
		l.mu.Unlock()
		return
	}
	l.errHandling = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.errHandling = false
		l.mu.Unlock()
	}()

	root := cause
	for root != nil {
		if unwrapped := errors.Unwrap(root); unwrapped != nil {
			root = unwrapped
			continue
		}
		break
	}

	event := l.logger.Error().Str("service", l.Name).Str("message", message)
	if root != nil {
		event = event.Err(root)
	}
	event.Msg("lifecycle error")

	_ = l.topics.SetLeafValue("error", message)
	l.SetState(Errored)
}

// runBackingOnce runs command to completion on the worker pool (here: a
// dedicated goroutine — callers never block on it) and invokes done with
// whether it exited 0. Empty commands are treated as trivially successful.
func (l *Lifecycle) runBackingOnce(note, command string, done func(ok bool)) {
	ex, has := l.runner.Setup(note, command, l.svc)
	if !has {
		done(true)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	l.setBacking(finished, cancel)

	go func() {
		defer close(finished)
		ok := l.runner.Successful(ctx, ex, false, nil)
		done(ok)
	}()
}

// runBackingBackground starts command in the background (e.g. the
// service's long-lived `run` process) and invokes done once it exits.
func (l *Lifecycle) runBackingBackground(note, command string, done func(ok bool)) {
	ex, has := l.runner.Setup(note, command, l.svc)
	if !has {
		done(true)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	l.setBacking(finished, cancel)

	l.runner.Successful(ctx, ex, true, func(exitCode int) {
		defer close(finished)
		done(exitCode == 0)
	})
}

// setBacking cancels any previously running backing task, waits up to five
// seconds for it to finish, and installs the new one.
func (l *Lifecycle) setBacking(finished chan struct{}, cancel context.CancelFunc) {
	l.cancelBacking()
	l.mu.Lock()
	l.backingDone = finished
	l.backingClose = cancel
	l.mu.Unlock()
}

func (l *Lifecycle) cancelBacking() {
	l.mu.Lock()
	done, cancel := l.backingDone, l.backingClose
	l.backingDone, l.backingClose = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}
