package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/splax/minivercel/builder/internal/runner"
)

// containerWorkdir is where the project workspace is mounted.
const containerWorkdir = "/workspace"

// Runner executes build commands in a throwaway container with the project
// workspace bind-mounted, so toolchains need not exist on the builder host.
type Runner struct {
	client *Client
	image  string
	env    []string
	logger *slog.Logger
}

// NewRunner returns a runner using image for every command.
func NewRunner(c *Client, image string, env []string, logger *slog.Logger) *Runner {
	return &Runner{client: c, image: image, env: env, logger: logger}
}

// Pull fetches the build image so the first build does not pay for it.
func (r *Runner) Pull(ctx context.Context) error {
	rc, err := r.client.inner.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", r.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", r.image, err)
	}
	return nil
}

// Run creates, starts and waits for a container running cmd.Line.
func (r *Runner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	args, err := runner.Split(cmd.Line)
	if err != nil {
		return runner.Result{ExitCode: -1}, err
	}
	if strings.TrimSpace(cmd.Dir) == "" {
		return runner.Result{ExitCode: -1}, fmt.Errorf("workspace directory cannot be empty")
	}
	cfg := &container.Config{
		Image:      r.image,
		Cmd:        args,
		Env:        append(append([]string{}, r.env...), cmd.Env...),
		WorkingDir: containerWorkdir,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{cmd.Dir + ":" + containerWorkdir},
	}
	created, err := r.client.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return runner.Result{ExitCode: -1}, fmt.Errorf("container create: %w", err)
	}
	defer r.remove(created.ID)

	if err := r.client.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return runner.Result{ExitCode: -1}, fmt.Errorf("container start: %w", err)
	}
	code, waitErr := r.waitForStop(ctx, created.ID)
	output := r.collectLogs(created.ID)
	res := runner.Result{Output: output, ExitCode: int(code)}
	if output != "" && r.logger != nil {
		r.logger.Debug("command output", "command", cmd.Line, "container_id", created.ID, "output", output)
	}
	if waitErr != nil {
		res.ExitCode = -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("command %s: %w", cmd.Line, runner.ErrTimedOut)
		}
		return res, waitErr
	}
	if code != 0 {
		return res, fmt.Errorf("command %s exited with status %d", cmd.Line, code)
	}
	return res, nil
}

func (r *Runner) waitForStop(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.client.inner.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	for {
		select {
		case err := <-errCh:
			if err == nil {
				continue
			}
			return 0, fmt.Errorf("wait for container: %w", err)
		case status := <-statusCh:
			if status.Error != nil && status.Error.Message != "" {
				return status.StatusCode, fmt.Errorf("container: %s", status.Error.Message)
			}
			return status.StatusCode, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// collectLogs and remove run on a fresh context so a timed-out command
// still yields its output and its container is reclaimed.
func (r *Runner) collectLogs(containerID string) string {
	rc, err := r.client.inner.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ""
	}
	defer rc.Close()
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil && r.logger != nil {
		r.logger.Warn("read container logs failed", "container_id", containerID, "error", err)
	}
	return out.String()
}

func (r *Runner) remove(containerID string) {
	err := r.client.inner.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) && r.logger != nil {
		r.logger.Warn("remove container failed", "container_id", containerID, "error", err)
	}
}
