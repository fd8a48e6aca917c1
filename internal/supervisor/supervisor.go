// Package supervisor wires every other internal package into the boot
// sequence the kernel runs once at process start: Context construction,
// root-path directory management, ConfigTree seeding from a config file or
// prior transaction log, service resolution and ordered install/start, and
// reverse-order shutdown on signal. Nothing here is reusable outside
// cmd/edged — it is glue, not a library surface.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edged/edged/internal/commitio"
	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/ctxreg"
	"github.com/edged/edged/internal/execx"
	"github.com/edged/edged/internal/lifecycle"
	"github.com/edged/edged/internal/logx"
	"github.com/edged/edged/internal/platform"
	"github.com/edged/edged/internal/registry"
	"github.com/edged/edged/internal/resolver"
	"github.com/edged/edged/internal/shellrunner"
	"github.com/edged/edged/internal/template"
)

const fallbackMain = "main"

// Context-registry tags the Supervisor registers itself and its
// collaborators under, so any component holding a *ctxreg.Context can look
// them back up rather than needing them threaded through call sites.
const (
	TagSupervisor  = "supervisor"
	TagExecutor    = "executor"
	TagSelector    = "platform"
	TagEngine      = "template"
	TagShellRunner = "shellrunner"
)

// Options configures one boot, mirroring the documented command-line
// flags exactly (cmd/edged.main does nothing but parse flags into this
// struct and call Boot).
type Options struct {
	RootPath    string
	ConfigSrc   string
	LogPath     string
	MainName    string
	DryRun      bool
	InstallOnly bool
	Print       bool
}

// Supervisor owns the process-wide Context, ConfigTree, and the set of
// live Lifecycles, and drives them through the boot/shutdown sequence.
type Supervisor struct {
	Ctx    *ctxreg.Context
	Tree   *configtree.Tree
	Logger logx.Logger

	InstanceID string

	selector *platform.Selector
	engine   *template.Engine
	executor *execx.Executor
	runner   shellrunner.Interface
	table    *registry.Table

	rootPath, configDir, binDir, workDir string

	mainResolved string

	services map[string]*lifecycle.Lifecycle
	order    []string // dependency order resolved at install time

	cfgWriter *commitio.ConfigurationWriter
	watcher   *FileWatcher

	broken bool
}

// New constructs a Supervisor with an empty ConfigTree and Context, and
// registers the fixed platform/template/executor/shellrunner singletons
// step 1 of the boot sequence calls for. It writes nothing; its only I/O
// is platform detection's file-existence probes and hostname lookup.
func New(logger logx.Logger, dryRun bool) *Supervisor {
	tree := configtree.New()
	ctx := ctxreg.New(tree)

	s := &Supervisor{
		Ctx:        ctx,
		Tree:       tree,
		Logger:     logger,
		InstanceID: uuid.NewString(),
		engine:     template.New(),
		table:      registry.New(),
		services:   make(map[string]*lifecycle.Lifecycle),
	}

	ctx.Put(ctxreg.Key{Tag: TagSupervisor}, s)

	s.selector = platform.Detect(platform.DefaultProbes())
	ctx.Put(ctxreg.Key{Tag: TagSelector}, s.selector)

	s.executor = execx.New("")
	ctx.Put(ctxreg.Key{Tag: TagExecutor}, s.executor)

	if dryRun {
		s.runner = shellrunner.DryRun{Logger: logger}
	} else {
		s.runner = shellrunner.New(s.executor)
	}
	ctx.Put(ctxreg.Key{Tag: TagShellRunner}, s.runner)

	s.table.Register(registry.GenericExternal{})
	s.table.Register(registry.DockerService{})

	ctx.Put(ctxreg.Key{Tag: TagEngine}, s.engine)

	return s
}

// Boot runs the full sequence documented in spec.md §4.9: paths, config
// seeding, template evaluators, main-service resolution, install, and
// (unless opts.InstallOnly) start. It returns the first error encountered;
// a ConfigParseError or PathCreationError sets Supervisor.broken and
// short-circuits install/start (shutdown still runs, driven by the
// caller's signal handler, per §7's propagation policy).
func (s *Supervisor) Boot(ctx context.Context, opts Options) error {
	if err := s.setupPaths(opts.RootPath); err != nil {
		s.broken = true
		return fmt.Errorf("supervisor: path setup: %w", err)
	}

	startSeq, err := s.seedConfig(opts.ConfigSrc)
	if err != nil {
		s.broken = true
		return fmt.Errorf("supervisor: config seed: %w", err)
	}

	if err := s.beginTransactionLog(startSeq); err != nil {
		s.broken = true
		return fmt.Errorf("supervisor: tlog: %w", err)
	}

	s.watchForExternalChanges()

	s.installTemplateEvaluators()

	s.setLogPath(opts.LogPath)

	if err := s.installCliTool("edged-launch.sh"); err != nil {
		s.Logger.Error().Err(err).Msg("installing launcher script")
	}

	mainName := opts.MainName
	if mainName == "" {
		mainName = fallbackMain
	}
	if err := s.resolveMain(mainName); err != nil {
		s.broken = true
		return fmt.Errorf("supervisor: %w", err)
	}

	if opts.Print {
		return nil
	}

	if err := s.buildServices(ctx); err != nil {
		return fmt.Errorf("supervisor: build services: %w", err)
	}

	s.installEverything()
	if !opts.InstallOnly {
		s.startEverything()
	}
	return nil
}

// watchForExternalChanges installs the optional fsnotify-backed watcher.
// Failure to start it (e.g. no inotify support in a sandboxed environment)
// is logged and otherwise ignored — boot-time tlog replay already gives
// the supervisor a correct starting state without it.
func (s *Supervisor) watchForExternalChanges() {
	configPath := filepath.Join(s.configDir, "config.yaml")
	w, err := WatchRoot(s.rootPath, configPath,
		func() { s.Logger.Info().Msg("config.yaml changed externally") },
		func() { s.Logger.Error().Msg("root path removed out from under the supervisor") },
	)
	if err != nil {
		s.Logger.Error().Err(err).Msg("file watcher unavailable")
		return
	}
	s.watcher = w
}

// resolveMain checks that name (or, failing that, fallbackMain) resolves
// to a service subtree; aborts boot (UnrecoverableBoot) if neither does.
func (s *Supervisor) resolveMain(name string) error {
	if s.Tree.Find("services/"+name) != nil {
		s.mainResolved = name
		return nil
	}
	if name != fallbackMain && s.Tree.Find("services/"+fallbackMain) != nil {
		s.Logger.Error().Str("requested", name).Msg("main service not found, falling back")
		s.mainResolved = fallbackMain
		return nil
	}
	return fmt.Errorf("no main service %q and no fallback %q: %w", name, fallbackMain, errUnrecoverableBoot)
}

// installTemplateEvaluators wires the system evaluator: root/work/bin/
// config resolve to Supervisor paths, and anything else is looked up in
// the ConfigTree by splitting the expression on ".".
func (s *Supervisor) installTemplateEvaluators() {
	s.engine.Register("system-paths", func(expr string) (any, bool) {
		switch expr {
		case "root":
			return s.rootPath, true
		case "work":
			return s.workDir, true
		case "bin":
			return s.binDir, true
		case "config":
			return s.configDir, true
		}
		return nil, false
	})
	s.engine.Register("configtree-lookup", func(expr string) (any, bool) {
		path := strings.ReplaceAll(expr, ".", "/")
		node := s.Tree.Find(path)
		topic, ok := node.(*configtree.Topic)
		if !ok {
			return nil, false
		}
		v := topic.Value()
		if v == nil {
			return nil, false
		}
		return v, true
	})
}

// Shutdown enumerates services in reverse dependency order and, for each
// currently Running, writes Shutdown to its `_State`. Per-service failures
// are logged, never propagated — matching §7's "errors local to one
// service never crash the supervisor."
func (s *Supervisor) Shutdown(grace time.Duration) {
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		lc, ok := s.services[name]
		if !ok {
			continue
		}
		if lc.State() != lifecycle.Running {
			continue
		}
		lc.SetState(lifecycle.Shutdown)
	}
	if grace > 0 {
		time.Sleep(grace)
	}
	s.Tree.Drain()
	if s.cfgWriter != nil {
		if err := s.cfgWriter.Close(); err != nil {
			s.Logger.Error().Err(err).Msg("closing transaction log")
		}
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.Tree.Close()
}

var errUnrecoverableBoot = fmt.Errorf("supervisor: both main and fallback service resolution failed")

// DependencyResolver adapter: resolver.Graph backed by the built
// Lifecycles' parsed requires.
type serviceGraph struct {
	deps map[string][]string
}

func (g serviceGraph) DependenciesOf(name string) []string { return g.deps[name] }

var _ resolver.Graph = serviceGraph{}
