package registry

import (
	"context"
	"fmt"
	"io"
	"strings"

	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"

	"github.com/edged/edged/internal/configtree"
	"github.com/edged/edged/internal/lifecycle"
)

// DockerService implements a service backed by a single Docker container.
// Config fields: image (required), cmd, env (comma-separated KEY=VALUE
// pairs), ports (comma-separated "host:container[/proto]" or bare
// "port"), requires, bashtimeout. Build ensures the image is present
// locally (pulling it via the real Docker client if not) and then
// produces ordinary `docker run`/`docker stop` shell commands — Lifecycle
// and ShellRunner run those exactly like any external service's scripts,
// so no process-supervision path needs to know a container is involved.
type DockerService struct{}

func (DockerService) Type() string { return "docker" }

func (DockerService) Build(ctx context.Context, name string, cfg *configtree.Topics) (lifecycle.Scripts, []lifecycle.Dependency, error) {
	image := leafString(cfg, "image")
	if strings.TrimSpace(image) == "" {
		return lifecycle.Scripts{}, nil, fmt.Errorf("registry: docker service %q: missing image", name)
	}

	if err := ensureImage(ctx, image, DockerHostFor(cfg)); err != nil {
		return lifecycle.Scripts{}, nil, fmt.Errorf("registry: docker service %q: %w", name, err)
	}

	containerName := "edged-" + name
	runCmd := buildRunCommand(containerName, image, leafString(cfg, "cmd"), leafString(cfg, "env"), leafString(cfg, "ports"))

	scripts := lifecycle.Scripts{
		Run:      runCmd,
		Shutdown: fmt.Sprintf("docker stop %s && docker rm %s", containerName, containerName),
	}

	deps, err := parseRequires(cfg)
	if err != nil {
		return lifecycle.Scripts{}, nil, fmt.Errorf("registry: docker service %q: %w", name, err)
	}
	return scripts, deps, nil
}

// DockerHostFor returns the Docker daemon endpoint a service's own config
// asks for, if any: an explicit `dockerhost` (e.g. "tcp://host:2376") wins
// over a bare `docker.socket` path (rewritten to "unix://..."). Absent
// either, "" lets dockerClient fall back to DOCKER_HOST/socket probing.
func DockerHostFor(cfg *configtree.Topics) string {
	if h := leafString(cfg, "dockerhost"); strings.TrimSpace(h) != "" {
		return h
	}
	if sock := leafString(cfg, "docker.socket"); strings.TrimSpace(sock) != "" {
		return "unix://" + sock
	}
	return ""
}

// ensureImage pulls image if it isn't already present in the local
// daemon, the same breadcrumb-free check-then-pull shape the teacher's
// DockerPull artifact uses, minus the on-disk cache (the daemon's own
// image store is the cache here).
func ensureImage(ctx context.Context, image, host string) error {
	cli, err := dockerClient(host)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if _, _, err := cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	rc, err := cli.ImagePull(ctx, image, dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker pull %s: %w", image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker pull %s: read response: %w", image, err)
	}
	return nil
}

// buildRunCommand assembles a foreground `docker run` invocation so it
// can be managed exactly like any other Scripts.Run process: ShellRunner
// owns the OS process (`docker run` itself, attached via --rm so the
// container dies with it), not the container's PID.
func buildRunCommand(containerName, image, cmd, envSpec, portSpec string) string {
	var b strings.Builder
	b.WriteString("docker run --rm --name ")
	b.WriteString(containerName)

	for _, kv := range strings.Split(envSpec, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		b.WriteString(" -e ")
		b.WriteString(kv)
	}

	_, bindings := buildPortArgs(portSpec)
	for _, flag := range bindings {
		b.WriteString(" -p ")
		b.WriteString(flag)
	}

	b.WriteString(" ")
	b.WriteString(image)
	if strings.TrimSpace(cmd) != "" {
		b.WriteString(" ")
		b.WriteString(cmd)
	}
	return b.String()
}

// buildPortArgs turns a "host:container[/proto]" spec list into a
// nat.PortSet (the exposed-port structure docker run itself uses
// internally) and a parallel slice of "-p" flag
// values, so the port-spec parsing is grounded on the same nat types the
// teacher's container service uses even though this path shells out to
// the docker CLI rather than calling the container-create API directly.
func buildPortArgs(portSpec string) (nat.PortSet, []string) {
	exposed := make(nat.PortSet)
	var flags []string
	for _, spec := range parsePortSpecs(portSpec) {
		if !validPort(spec.host) || !validPort(spec.container) {
			continue
		}
		port := nat.Port(fmt.Sprintf("%s/%s", spec.container, spec.proto))
		exposed[port] = struct{}{}
		flags = append(flags, fmt.Sprintf("%s:%s/%s", spec.host, spec.container, spec.proto))
	}
	return exposed, flags
}
