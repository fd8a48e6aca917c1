package registry

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/client"
)

var (
	clientsMu sync.Mutex
	clients   = map[string]*client.Client{}
)

// dockerClient returns a cached Docker client for host, probing common
// socket paths when host is empty and DOCKER_HOST isn't set either, so the
// SDK finds a local daemon without extra configuration. A non-empty host
// (from a service's own `dockerhost`/`docker.socket` config leaf — see
// DockerHostFor in docker.go) gets its own cached client, so one service
// can target a different daemon (a rootless Colima instance, a remote
// TCP endpoint) without disturbing every other DockerService sharing the
// default. Callers must not Close the returned client.
func dockerClient(host string) (*client.Client, error) {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if cli, ok := clients[host]; ok {
		return cli, nil
	}
	cli, err := newDockerClient(host)
	if err != nil {
		return nil, err
	}
	clients[host] = cli
	return cli, nil
}

func newDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	switch {
	case host != "":
		opts = append(opts, client.WithHost(host))
	case os.Getenv("DOCKER_HOST") == "":
		if sock := findDockerSocket(); sock != "" {
			opts = append(opts, client.WithHost("unix://"+sock))
		}
	}
	return client.NewClientWithOpts(opts...)
}

func findDockerSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	candidates := []string{"/var/run/docker.sock"}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
