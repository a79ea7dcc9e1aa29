// Package sandbox provides Docker-backed execution environments for
// projects. Each project gets at most one sandbox container, bind-mounted
// to the project's working directory, with the dev-server port published
// to an ephemeral host port.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	containerUser = "sandbox"
	mountTarget   = "/home/sandbox/app"

	// devServerPort is the in-container dev-server preview port. It is
	// published to host port 0 so Docker assigns an ephemeral port.
	devServerPort = "5173/tcp"

	// Shell defaults.
	defaultCols = 80
	defaultRows = 24

	readyPollInterval = 100 * time.Millisecond
	readyTimeout      = 15 * time.Second
)

// Manager defines the sandbox lifecycle operations the terminal bridge
// and editor protocol depend on.
type Manager interface {
	// EnsureSandbox makes sure a sandbox container for the project exists
	// and is running, creating it if needed, and returns its container ID.
	// Concurrent calls for the same project collapse into one attempt.
	EnsureSandbox(ctx context.Context, projectID, projectPath string) (string, error)

	// OpenShell starts an interactive shell inside the sandbox and
	// returns the exec ID plus the attached byte stream.
	OpenShell(ctx context.Context, containerID string) (string, io.ReadWriteCloser, error)

	// ResizeShell resizes a running shell's TTY.
	ResizeShell(ctx context.Context, execID string, cols, rows uint) error

	// PreviewPort returns the published dev-server port for a project's
	// sandbox, or nil when no sandbox is running.
	PreviewPort(ctx context.Context, projectID string) (*int, error)
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli   *client.Client
	image string
	guard *creationGuard
}

// NewDockerManager creates a Docker-backed sandbox manager.
func NewDockerManager(image string) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "image", image)
	return &DockerManager{cli: cli, image: image, guard: newCreationGuard()}, nil
}

func containerName(projectID string) string {
	return "project-" + projectID
}

// EnsureSandbox makes sure a running sandbox exists for the project.
func (m *DockerManager) EnsureSandbox(ctx context.Context, projectID, projectPath string) (string, error) {
	return m.guard.do(ctx, projectID, func() (string, error) {
		return m.ensure(ctx, projectID, projectPath)
	})
}

func (m *DockerManager) ensure(ctx context.Context, projectID, projectPath string) (string, error) {
	name := containerName(projectID)

	inspect, err := m.cli.ContainerInspect(ctx, name)
	if err == nil {
		if inspect.State.Running {
			return inspect.ID, nil
		}
		slog.Info("Starting stopped sandbox", "container_id", inspect.ID, "project_id", projectID)
		if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("start sandbox %s: %w", inspect.ID, err)
		}
		if err := m.awaitReady(ctx, inspect.ID); err != nil {
			return "", err
		}
		return inspect.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect sandbox %s: %w", name, err)
	}

	slog.Info("Creating sandbox", "project_id", projectID, "path", projectPath)

	config := &container.Config{
		Image:     m.image,
		User:      containerUser,
		Tty:       true,
		OpenStdin: true,
		Env:       []string{"HOST=0.0.0.0"},
		ExposedPorts: nat.PortSet{
			devServerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: projectPath,
			Target: mountTarget,
		}},
		PortBindings: nat.PortMap{
			devServerPort: []nat.PortBinding{{HostPort: "0"}},
		},
	}

	resp, err := m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create sandbox for project %s: %w", projectID, err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Warn("Failed to remove sandbox after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start sandbox %s: %w", resp.ID, err)
	}

	if err := m.awaitReady(ctx, resp.ID); err != nil {
		return "", err
	}

	slog.Info("Sandbox created and started", "container_id", resp.ID, "project_id", projectID)
	return resp.ID, nil
}

// awaitReady polls the container state until it reports running. This is
// an explicit readiness probe, so shell attachment never races a sandbox
// that has not finished starting.
func (m *DockerManager) awaitReady(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(readyTimeout)
	for {
		inspect, err := m.cli.ContainerInspect(ctx, containerID)
		if err != nil {
			return fmt.Errorf("probe sandbox %s: %w", containerID, err)
		}
		if inspect.State.Running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sandbox %s not ready after %s", containerID, readyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// OpenShell starts an interactive shell inside the sandbox.
func (m *DockerManager) OpenShell(ctx context.Context, containerID string) (string, io.ReadWriteCloser, error) {
	execConfig := container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          []string{"/bin/bash"},
		User:         containerUser,
		ConsoleSize:  &[2]uint{defaultCols, defaultRows},
	}

	resp, err := m.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return "", nil, fmt.Errorf("create shell in sandbox %s: %w", containerID, err)
	}

	attachResp, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return "", nil, fmt.Errorf("attach to shell %s: %w", resp.ID, err)
	}

	slog.Info("Shell opened", "exec_id", resp.ID, "container_id", containerID)
	return resp.ID, attachResp.Conn, nil
}

// ResizeShell resizes a running shell's TTY.
func (m *DockerManager) ResizeShell(ctx context.Context, execID string, cols, rows uint) error {
	if err := m.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	}); err != nil {
		return fmt.Errorf("resize shell %s to %dx%d: %w", execID, cols, rows, err)
	}
	return nil
}

// PreviewPort returns the ephemeral host port published for the project's
// dev server. Absence of a running sandbox yields a nil port, not an
// error, so clients can poll before provisioning.
func (m *DockerManager) PreviewPort(ctx context.Context, projectID string) (*int, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerName(projectID))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspect sandbox for project %s: %w", projectID, err)
	}
	if !inspect.State.Running || inspect.NetworkSettings == nil {
		return nil, nil
	}

	bindings := inspect.NetworkSettings.Ports[devServerPort]
	if len(bindings) == 0 {
		return nil, nil
	}
	port, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return nil, fmt.Errorf("parse published port %q: %w", bindings[0].HostPort, err)
	}
	return &port, nil
}
