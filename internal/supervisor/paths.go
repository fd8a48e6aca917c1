package supervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/edged/edged/internal/configtree"
)

// dirPerm is owner-rwx-only, restrictive per spec.md §4.9 step 2 ("where
// platform supports it" — os.MkdirAll already no-ops the bits Windows
// can't express).
const dirPerm = 0o700

// setupPaths resolves the root path (explicit override, else whatever
// `system.rootpath` already holds, else the working directory), subscribes
// to the topic so future changes re-derive and recreate the dependent
// directories, and creates the initial layout.
func (s *Supervisor) setupPaths(override string) error {
	topic, err := s.Tree.LookupTopic("system/rootpath")
	if err != nil {
		return err
	}

	root := override
	if root == "" {
		if existing, ok := topic.Value().(string); ok && existing != "" {
			root = existing
		}
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}

	// Apply synchronously before subscribing so the directories this boot
	// needs (config/bin/work) exist the moment setupPaths returns — the
	// topic's own notification (via the publish queue) only reaches
	// subscribers asynchronously, which is fine for *later* root-path
	// changes but too late for the rest of Boot, which runs immediately
	// after this call.
	if err := s.applyRootPath(root); err != nil {
		return err
	}

	topic.Subscribe(func(what configtree.WhatHappened, _ *configtree.Topic, value configtree.Any) {
		if what == configtree.Removed {
			return
		}
		path, ok := value.(string)
		if !ok || path == "" || path == s.rootPath {
			return
		}
		if err := s.applyRootPath(path); err != nil {
			s.Logger.Error().Err(err).Str("root", path).Msg("apply root path")
		}
	})

	topic.SetValue(s.Tree.NextModTime(), root)
	return nil
}

// applyRootPath recomputes config/bin/work under root and creates all
// five directories (root, config, bin, work, plugins) in parallel (errgroup, first-error-wins), matching the
// teacher's sync.WaitGroup fan-out in server/orchestrator.go but with
// error propagation instead of a best-effort fire-and-forget.
func (s *Supervisor) applyRootPath(root string) error {
	s.rootPath = root
	s.configDir = filepath.Join(root, "config")
	s.binDir = filepath.Join(root, "bin")
	s.workDir = filepath.Join(root, "work")
	pluginsDir := filepath.Join(root, "plugins")

	var g errgroup.Group
	for _, dir := range []string{root, s.configDir, s.binDir, s.workDir, pluginsDir} {
		dir := dir
		g.Go(func() error {
			if err := os.MkdirAll(dir, dirPerm); err != nil {
				return fmt.Errorf("mkdir %s: %w", dir, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Every script Executor runs sees HOME as its work directory and GGHOME
	// as the root path, per spec.md §6 — alongside SVCUID, these are the
	// only environment variables the supervisor itself injects.
	if s.executor != nil {
		s.executor.SetBaseEnv("HOME", s.workDir)
		s.executor.SetBaseEnv("GGHOME", s.rootPath)
	}
	return nil
}
