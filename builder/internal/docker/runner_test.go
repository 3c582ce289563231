package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/splax/minivercel/builder/internal/runner"
)

type fakeEngine struct {
	config   *container.Config
	host     *container.HostConfig
	exitCode int64
	block    bool
	logs     string
	removed  []string
}

func (f *fakeEngine) Ping(context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, nil
}

func (f *fakeEngine) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeEngine) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.config = cfg
	f.host = host
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeEngine) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeEngine) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if !f.block {
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeEngine) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	_, _ = w.Write([]byte(f.logs))
	return io.NopCloser(&buf), nil
}

func (f *fakeEngine) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeEngine) Close() error { return nil }

func newTestRunner(engine *fakeEngine) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(&Client{inner: engine}, "node:20-alpine", []string{"NODE_OPTIONS=--openssl-legacy-provider"}, logger)
}

func TestRunnerMountsWorkspaceAndCollectsOutput(t *testing.T) {
	engine := &fakeEngine{logs: "added 12 packages\n"}
	r := newTestRunner(engine)

	res, err := r.Run(context.Background(), runner.Command{Dir: "/tmp/output/foo", Line: "npm install", Env: []string{"CI=1"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "added 12 packages\n" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if engine.config.Image != "node:20-alpine" || engine.config.WorkingDir != containerWorkdir {
		t.Fatalf("unexpected container config %+v", engine.config)
	}
	if len(engine.config.Cmd) != 2 || engine.config.Cmd[0] != "npm" {
		t.Fatalf("unexpected cmd %v", engine.config.Cmd)
	}
	if len(engine.config.Env) != 2 || engine.config.Env[1] != "CI=1" {
		t.Fatalf("unexpected env %v", engine.config.Env)
	}
	if len(engine.host.Binds) != 1 || engine.host.Binds[0] != "/tmp/output/foo:/workspace" {
		t.Fatalf("unexpected binds %v", engine.host.Binds)
	}
	if len(engine.removed) != 1 {
		t.Fatalf("expected container removal, got %v", engine.removed)
	}
}

func TestRunnerReportsNonZeroExit(t *testing.T) {
	engine := &fakeEngine{exitCode: 1, logs: "npm ERR! missing script: build\n"}
	res, err := newTestRunner(engine).Run(context.Background(), runner.Command{Dir: "/w", Line: "npm run build"})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if res.ExitCode != 1 || !strings.Contains(res.Output, "missing script") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunnerTimesOut(t *testing.T) {
	engine := &fakeEngine{block: true}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestRunner(engine).Run(ctx, runner.Command{Dir: "/w", Line: "npm run build"})
	if !errors.Is(err, runner.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if len(engine.removed) != 1 {
		t.Fatalf("expected timed out container to be removed")
	}
}
