package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/jamesturk/bobsled/internal/storage"
)

// DockerBackend runs tasks as containers on the local Docker daemon.
type DockerBackend struct {
	client *client.Client
}

// NewDockerBackend creates a backend talking to the daemon configured by
// the standard environment variables (DOCKER_HOST, etc.).
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerBackend{client: cli}, nil
}

func (d *DockerBackend) Kind() storage.BackendKind { return storage.BackendDocker }

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Launch pulls the image if it is not present locally, then creates and
// starts a container for the task.
func (d *DockerBackend) Launch(ctx context.Context, task *storage.Task, env map[string]string) (storage.RunInfo, error) {
	if _, err := d.client.ImageInspect(ctx, task.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, task.Image, image.PullOptions{})
		if err != nil {
			return storage.RunInfo{}, fmt.Errorf("failed to pull image %s: %w", task.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	config := &container.Config{
		Image: task.Image,
		Cmd:   task.Entrypoint,
		Env:   mapToEnvList(env),
		Tty:   true,
	}
	hostConfig := &container.HostConfig{}
	if task.Memory > 0 {
		hostConfig.Resources.Memory = int64(task.Memory) * 1024 * 1024
	}
	if task.CPU > 0 {
		// task CPU units follow the 1024-per-vCPU convention
		hostConfig.Resources.NanoCPUs = int64(task.CPU) * 1_000_000_000 / 1024
	}

	created, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return storage.RunInfo{}, fmt.Errorf("failed to create container for %s: %w", task.Name, err)
	}
	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return storage.RunInfo{}, fmt.Errorf("failed to start container for %s: %w", task.Name, err)
	}

	return storage.RunInfo{
		Kind:   storage.BackendDocker,
		Docker: &storage.DockerInfo{ContainerID: created.ID},
	}, nil
}

func (d *DockerBackend) Inspect(ctx context.Context, info storage.RunInfo) (Inspection, error) {
	if info.Docker == nil {
		return Inspection{}, fmt.Errorf("run info does not hold a docker handle")
	}

	inspect, err := d.client.ContainerInspect(ctx, info.Docker.ContainerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Inspection{State: StateGone}, nil
		}
		return Inspection{}, fmt.Errorf("failed to inspect container: %w", err)
	}

	if inspect.State != nil && inspect.State.Status == "exited" {
		return Inspection{
			State:     StateExited,
			ExitCode:  inspect.State.ExitCode,
			ExitError: inspect.State.Error,
		}, nil
	}
	return Inspection{State: StateActive}, nil
}

func (d *DockerBackend) Logs(ctx context.Context, info storage.RunInfo) (string, error) {
	if info.Docker == nil {
		return "", fmt.Errorf("run info does not hold a docker handle")
	}

	// Containers are created with a TTY, so the log stream is plain
	// text rather than the multiplexed format.
	rc, err := d.client.ContainerLogs(ctx, info.Docker.ContainerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to fetch container logs: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return string(data), nil
}

func (d *DockerBackend) Remove(ctx context.Context, info storage.RunInfo, force bool) error {
	if info.Docker == nil {
		return fmt.Errorf("run info does not hold a docker handle")
	}

	err := d.client.ContainerRemove(ctx, info.Docker.ContainerID, container.RemoveOptions{Force: force})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

var _ Backend = (*DockerBackend)(nil)
