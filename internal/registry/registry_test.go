package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/registry"
)

func newCfg(t *testing.T, fields map[string]configtree.Any) *configtree.Topics {
	t.Helper()
	tree := configtree.New()
	topics, err := tree.LookupTopics("svc")
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, topics.SetLeafValue(k, v))
	}
	return topics
}

func TestTableRegisterAndLookup(t *testing.T) {
	table := registry.New()
	table.Register(registry.GenericExternal{})
	table.Register(registry.DockerService{})

	impl, ok := table.Lookup("external")
	require.True(t, ok)
	assert.Equal(t, "external", impl.Type())

	_, ok = table.Lookup("nonexistent")
	assert.False(t, ok)

	assert.Equal(t, []string{"external", "docker"}, table.Types())
}

func TestTableRegisterOverwritesSameType(t *testing.T) {
	table := registry.New()
	table.Register(registry.GenericExternal{})
	table.Register(registry.GenericExternal{})
	assert.Equal(t, []string{"external"}, table.Types())
}

func TestGenericExternalBuildsScriptsAndDeps(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{
		"install":  "make build",
		"startup":  "curl -f localhost:8080/health",
		"run":      "./server",
		"shutdown": "kill $PID",
		"requires": "db:running, cache",
	})

	scripts, deps, err := registry.GenericExternal{}.Build(context.Background(), "api", cfg)
	require.NoError(t, err)
	assert.Equal(t, "make build", scripts.Install)
	assert.Equal(t, "curl -f localhost:8080/health", scripts.AwaitingStartup)
	assert.Equal(t, "./server", scripts.Run)
	assert.Equal(t, "kill $PID", scripts.Shutdown)
	require.Len(t, deps, 2)
	assert.Equal(t, "db", deps[0].Name)
}

func TestGenericExternalAwaitingStartupPrefersExplicitField(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{
		"awaitingstartup": "explicit",
		"startup":         "fallback",
	})
	scripts, _, err := registry.GenericExternal{}.Build(context.Background(), "api", cfg)
	require.NoError(t, err)
	assert.Equal(t, "explicit", scripts.AwaitingStartup)
}

func TestGenericExternalRequiresSynonyms(t *testing.T) {
	for _, key := range []string{"requires", "dependencies", "dependency", "defaultimpl"} {
		cfg := newCfg(t, map[string]configtree.Any{key: "db, cache"})
		_, deps, err := registry.GenericExternal{}.Build(context.Background(), "api", cfg)
		require.NoError(t, err, key)
		require.Len(t, deps, 2, key)
		assert.Equal(t, "db", deps[0].Name, key)
	}
}

func TestGenericExternalRequiresPrefersExplicitFieldOverSynonyms(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{
		"requires":     "db",
		"dependencies": "cache",
	})
	_, deps, err := registry.GenericExternal{}.Build(context.Background(), "api", cfg)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "db", deps[0].Name)
}

func TestGenericExternalBadRequiresSyntaxErrors(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{
		"requires": "db cache:!!!",
	})
	_, _, err := registry.GenericExternal{}.Build(context.Background(), "api", cfg)
	assert.Error(t, err)
}

func TestDockerHostForPrefersExplicitDockerhostOverSocket(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{
		"dockerhost":    "tcp://remote:2376",
		"docker.socket": "/var/run/colima/docker.sock",
	})
	assert.Equal(t, "tcp://remote:2376", registry.DockerHostFor(cfg))
}

func TestDockerHostForRewritesBareSocketPath(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{
		"docker.socket": "/var/run/colima/docker.sock",
	})
	assert.Equal(t, "unix:///var/run/colima/docker.sock", registry.DockerHostFor(cfg))
}

func TestDockerHostForEmptyWhenUnconfigured(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{})
	assert.Equal(t, "", registry.DockerHostFor(cfg))
}

func TestDockerServiceMissingImageErrors(t *testing.T) {
	cfg := newCfg(t, map[string]configtree.Any{})
	_, _, err := registry.DockerService{}.Build(context.Background(), "cache", cfg)
	assert.Error(t, err)
}
