package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edged/edged/internal/logx"
	"github.com/edged/edged/internal/supervisor"
)

func newTestSupervisor(t *testing.T) (*supervisor.Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	s := supervisor.New(logx.Discard(), true)
	return s, dir
}

func TestBootCreatesDirectoryLayout(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  main:
    type: external
`), 0o644))

	err := s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, InstallOnly: true})
	require.NoError(t, err)

	for _, sub := range []string{"config", "bin", "work", "plugins"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestBootSeedsConfigAndPersistsYAML(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  main:
    type: external
    run: ""
`), 0o644))

	err := s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, InstallOnly: true})
	require.NoError(t, err)

	persisted := filepath.Join(dir, "config", "config.yaml")
	_, err = os.Stat(persisted)
	require.NoError(t, err)

	tlog := filepath.Join(dir, "config", "config.tlog")
	_, err = os.Stat(tlog)
	require.NoError(t, err)
}

func TestBootInstallsLauncherScript(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  main:
    type: external
`), 0o644))
	require.NoError(t, s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, InstallOnly: true}))

	launcher := filepath.Join(dir, "bin", "edged-launch.sh")
	data, err := os.ReadFile(launcher)
	require.NoError(t, err)
	assert.Contains(t, string(data), dir)
	assert.NotContains(t, string(data), "$[root]")

	info, err := os.Stat(launcher)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o550), info.Mode().Perm())
}

func TestBootFallsBackToMainWithDependentServices(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  db:
    type: external
  main:
    type: external
    requires: "db"
`), 0o644))

	err := s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, MainName: "nonexistent", InstallOnly: true})
	require.NoError(t, err)
}

func TestBootAbortsWhenNoMainAndNoFallback(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  other:
    type: external
`), 0o644))

	err := s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, MainName: "nonexistent", InstallOnly: true})
	assert.Error(t, err)
}

func TestBootRejectsMalformedRequiresSyntax(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  main:
    type: external
    requires: "db:!!!"
`), 0o644))

	err := s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, InstallOnly: true})
	assert.Error(t, err)
}

func TestPrintModeStopsBeforeBuildingServices(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  main:
    type: external
`), 0o644))
	err := s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, Print: true})
	require.NoError(t, err)
}

func TestShutdownAfterInstallOnlyBootDoesNotPanic(t *testing.T) {
	s, dir := newTestSupervisor(t)
	srcPath := filepath.Join(dir, "src.yaml")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
services:
  main:
    type: external
`), 0o644))
	require.NoError(t, s.Boot(context.Background(), supervisor.Options{RootPath: dir, ConfigSrc: srcPath, InstallOnly: true}))
	assert.NotPanics(t, func() { s.Shutdown(0) })
}
