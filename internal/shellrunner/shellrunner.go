// Package shellrunner wraps execx.Executor with per-service context: a
// stable SVCUID, bashtimeout overrides, and status-updating output sinks.
package shellrunner

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/execx"
	"github.com/edged/edged/internal/logx"
)

const defaultTimeout = 120 * time.Second

const uidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service is the minimal surface ShellRunner needs from a service: where
// its scripts run, where its stable UID and status are stored, and what
// timeout override (if any) it has configured.
type Service struct {
	Name        string
	WorkDir     string
	BashTimeout time.Duration // 0 means "use the system default"
	Topics      *configtree.Topics
	Logger      logx.Logger
}

// Interface is what Lifecycle depends on, so the real Runner and its
// DryRun variant are interchangeable.
type Interface interface {
	Setup(note, command string, svc *Service) (execx.Exec, bool)
	Successful(ctx context.Context, ex execx.Exec, background bool, onExit func(exitCode int)) bool
}

// Runner builds Execs scoped to a Service.
type Runner struct {
	exec *execx.Executor
}

var (
	_ Interface = (*Runner)(nil)
	_ Interface = DryRun{}
)

// New wraps ex with service-scoping behavior.
func New(ex *execx.Executor) *Runner {
	return &Runner{exec: ex}
}

// Setup builds an Exec for command on behalf of svc, or returns
// (execx.Exec{}, false) when command is empty/whitespace — callers should
// treat false as "nothing to run," not an error.
func (r *Runner) Setup(note, command string, svc *Service) (execx.Exec, bool) {
	if strings.TrimSpace(command) == "" {
		return execx.Exec{}, false
	}

	timeout := defaultTimeout
	if svc.BashTimeout > 0 {
		timeout = svc.BashTimeout
	}

	uid := svcuid(svc.Topics)
	env := append([]string{"SVCUID=" + uid}, setenvChain(svc.Topics)...)

	ex := r.exec.Build(execx.Exec{
		Shell:   command,
		Dir:     svc.WorkDir,
		Timeout: timeout,
		Env:     env,
		Stdout: func(stream, line string) {
			svc.Logger.Info().Str("service", svc.Name).Str("stream", stream).Str("note", note).Msg(line)
			setStatus(svc.Topics, line)
		},
		Stderr: func(stream, line string) {
			svc.Logger.Error().Str("service", svc.Name).Str("stream", stream).Str("note", note).Msg(line)
			setStatus(svc.Topics, line)
		},
	})
	return ex, true
}

// Successful runs ex, optionally in the background. In background mode a
// run is reported successful as soon as the process starts (it has not
// finished yet), and false only if it could not be started; in foreground
// mode it blocks and reports exit code 0 as success.
func (r *Runner) Successful(ctx context.Context, ex execx.Exec, background bool, onExit func(exitCode int)) bool {
	if background {
		_, err := ex.Start(ctx, onExit)
		return err == nil
	}
	code, _, err := ex.Run(ctx)
	return err == nil && code == 0
}

// svcuid returns the service's stable 16-character id, generating and
// persisting one to the `_UID` leaf on first use so it survives restarts.
func svcuid(topics *configtree.Topics) string {
	if topics == nil {
		return randomUID()
	}
	existing, err := topics.GetOrCreateLeaf("_UID", randomUID)
	if err != nil {
		return randomUID()
	}
	return existing
}

func randomUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable system state;
		// fall back to a fixed-but-distinguishable value rather than panic.
		return "0000000000000000"
	}
	out := make([]byte, 16)
	for i, b := range buf {
		out[i] = uidAlphabet[int(b)%len(uidAlphabet)]
	}
	return string(out)
}

// setenvChain walks from svc's own Topics up to the tree root collecting
// every `setenv` map along the way, then merges them root-first so a
// service's own setenv entries override any ancestor's with the same
// name — the "config chain, parent-first, child-overrides" precedence
// spec.md §6 documents alongside SVCUID/HOME/GGHOME.
func setenvChain(topics *configtree.Topics) []string {
	var chain []*configtree.Topics
	for t := topics; t != nil; t = t.Parent() {
		chain = append(chain, t)
	}

	merged := make(map[string]string)
	for i := len(chain) - 1; i >= 0; i-- {
		setenv, ok := chain[i].Get("setenv").(*configtree.Topics)
		if !ok {
			continue
		}
		for _, child := range setenv.Children() {
			leaf, ok := child.(*configtree.Topic)
			if !ok {
				continue
			}
			if s, ok := leaf.Value().(string); ok {
				merged[child.Name()] = s
			}
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

func setStatus(topics *configtree.Topics, line string) {
	if topics == nil {
		return
	}
	status, err := topics.LookupChildTopic("status")
	if err != nil {
		return
	}
	status.SetValue(status.ModTime()+1, line)
}

// DryRun is a stand-in for Runner that never actually executes: Setup
// returns an Exec carrying only the command and working directory (no
// SVCUID, environment, timeout or output sinks), and Successful only
// prints (via the logger) what would have run, calls onExit(0) if given,
// and reports success, so operators can simulate a boot sequence.
type DryRun struct {
	Logger logx.Logger
}

func (d DryRun) Setup(note, command string, svc *Service) (execx.Exec, bool) {
	if strings.TrimSpace(command) == "" {
		return execx.Exec{}, false
	}
	return execx.Exec{Shell: command, Dir: svc.WorkDir}, true
}

func (d DryRun) Successful(_ context.Context, ex execx.Exec, background bool, onExit func(exitCode int)) bool {
	d.Logger.Info().Bool("dryrun", true).Bool("background", background).Msg(ex.Shell)
	if onExit != nil {
		onExit(0)
	}
	return true
}
