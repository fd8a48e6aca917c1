package supervisor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/lifecycle"
	"github.com/edged/edged/internal/logx"
	"github.com/edged/edged/internal/registry"
	"github.com/edged/edged/internal/resolver"
	"github.com/edged/edged/internal/shellrunner"
)

// buildServices walks the `services` subtree, resolves each one's
// implementor (by its `type` leaf, defaulting to "external" — the
// ServiceLocationError fallback from spec.md §7 when no implementor
// class and no generic fallback exist is represented as an Errored
// Lifecycle instead of aborting the rest of boot), and constructs a
// Lifecycle for each, then computes the install/start order over the
// whole set via internal/resolver.
func (s *Supervisor) buildServices(ctx context.Context) error {
	root := s.Tree.Find("services")
	topics, ok := root.(*configtree.Topics)
	if !ok {
		s.order = nil
		return nil
	}

	names := topics.ChildNames()
	deps := make(map[string][]string, len(names))

	for _, name := range names {
		child, ok := topics.Get(name).(*configtree.Topics)
		if !ok {
			continue
		}
		lc, depNames, err := s.buildOneService(ctx, name, child)
		if err != nil {
			s.Logger.Error().Err(err).Str("service", name).Msg("service location error")
			lc = s.buildErrNode(name, child)
			depNames = nil
		}
		if lc == nil {
			continue
		}
		s.services[name] = lc
		deps[name] = depNames
	}

	s.order = resolver.OrderedDependencies(serviceGraph{deps: deps}, names)
	return nil
}

func (s *Supervisor) buildOneService(ctx context.Context, name string, cfg *configtree.Topics) (*lifecycle.Lifecycle, []string, error) {
	typeName := "external"
	if t, ok := cfg.Get("type").(*configtree.Topic); ok {
		if v, ok := t.Value().(string); ok && v != "" {
			typeName = v
		}
	}

	impl, ok := s.table.Lookup(typeName)
	if !ok {
		impl = registry.GenericExternal{}
	}

	scripts, deps, err := impl.Build(ctx, name, cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := &shellrunner.Service{
		Name:    name,
		WorkDir: filepath.Join(s.workDir, name),
		Topics:  cfg,
		Logger:  logx.Named(s.Logger, name),
	}
	if bt, ok := cfg.Get("bashtimeout").(*configtree.Topic); ok {
		if secs, ok := bt.Value().(int64); ok && secs > 0 {
			svc.BashTimeout = time.Duration(secs) * time.Second
		}
	}

	depNames := make([]string, len(deps))
	for i, d := range deps {
		depNames[i] = d.Name
	}

	lc, err := lifecycle.New(name, cfg, scripts, deps, s.runner, svc, svc.Logger, s.lookupState, s.recheckAll)
	if err != nil {
		return nil, nil, err
	}
	return lc, depNames, nil
}

// buildErrNode constructs a Lifecycle with no scripts or dependencies and
// immediately moves it to Errored — the ServiceLocationError policy from
// spec.md §7: a service with no implementor and no generic fallback still
// gets a Lifecycle (so dependents see a real, stable Errored state rather
// than "unknown"), it just never does anything.
func (s *Supervisor) buildErrNode(name string, cfg *configtree.Topics) *lifecycle.Lifecycle {
	svc := &shellrunner.Service{Name: name, WorkDir: filepath.Join(s.workDir, name), Topics: cfg, Logger: logx.Named(s.Logger, name)}
	lc, err := lifecycle.New(name, cfg, lifecycle.Scripts{}, nil, s.runner, svc, svc.Logger, s.lookupState, s.recheckAll)
	if err != nil {
		s.Logger.Error().Err(err).Str("service", name).Msg("failed to construct err node")
		return nil
	}
	lc.SetState(lifecycle.Errored)
	return lc
}

// lookupState is the lifecycle.Lookup every service's dependency gate
// calls to resolve another service's current state by name.
func (s *Supervisor) lookupState(name string) (lifecycle.State, bool) {
	lc, ok := s.services[name]
	if !ok {
		return lifecycle.New, false
	}
	return lc.State(), true
}

// recheckAll is the fixed-point driver §5 calls for: after any state
// change, every other Lifecycle's dependency gate is rechecked within the
// same publish-queue job, repeating the pass until one advances nothing,
// so a chain of newly-unblocked services advances to Starting in one
// logical step rather than needing an external poll.
func (s *Supervisor) recheckAll() {
	for {
		progressed := false
		for _, lc := range s.services {
			before := lc.State()
			lc.Recheck()
			if lc.State() != before {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// installEverything sets every resolved service to Installing, in
// dependency order (spec.md §4.9 step 7).
func (s *Supervisor) installEverything() {
	for _, name := range s.order {
		lc, ok := s.services[name]
		if !ok {
			continue
		}
		lc.SetState(lifecycle.Installing)
	}
}

// startEverything sets every resolved service to AwaitingStartup, in
// dependency order (spec.md §4.9 step 8); each Lifecycle only actually
// advances past it once its own dependency gate is satisfied.
func (s *Supervisor) startEverything() {
	for _, name := range s.order {
		lc, ok := s.services[name]
		if !ok {
			continue
		}
		lc.SetState(lifecycle.AwaitingStartup)
	}
}
