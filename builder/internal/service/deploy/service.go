package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/minivercel/builder/internal/runner"
	"github.com/splax/minivercel/pkg/blobstore"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/config"
	"github.com/splax/minivercel/pkg/logbus"
)

// outputTailLines bounds the command output attached to a failure event.
const outputTailLines = 20

// ErrMissingManifest is returned when the repository has no dependency manifest.
var ErrMissingManifest = errors.New("dependency manifest not found")

// Cloner fetches a repository into a directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

// Workspace hands out clean per-project directories.
type Workspace interface {
	Prepare(projectID string) (string, error)
	Cleanup(path string) error
}

// Lease is a held per-project lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker serialises builds of the same project across workers.
type Locker interface {
	Acquire(ctx context.Context, projectID string) (Lease, error)
}

// Options are the build settings shared by every run.
type Options struct {
	Manifest       string
	InstallCommand string
	BuildCommand   string
	OutputDir      string
	BuildEnv       []string
	GitTimeout     time.Duration
	BuildTimeout   time.Duration
	PruneStale     bool
}

// OptionsFromConfig extracts run options from the builder configuration.
func OptionsFromConfig(cfg config.BuilderConfig) Options {
	return Options{
		Manifest:       cfg.Manifest,
		InstallCommand: cfg.InstallCommand,
		BuildCommand:   cfg.BuildCommand,
		OutputDir:      cfg.OutputDir,
		BuildEnv:       cfg.BuildEnv,
		GitTimeout:     cfg.GitTimeout,
		BuildTimeout:   cfg.BuildTimeout,
		PruneStale:     cfg.PruneStale,
	}
}

// Dependencies are the collaborators of a Service. Locker may be nil.
type Dependencies struct {
	Cloner    Cloner
	Workspace Workspace
	Runner    runner.Runner
	Store     blobstore.Store
	Events    logbus.Publisher
	Locker    Locker
}

// BuildRun is the worker-local state of one job.
type BuildRun struct {
	ProjectID string
	RepoURL   string
	WorkDir   string
	Phase     build.Phase
	StartedAt time.Time
}

func (r *BuildRun) advance(to build.Phase) error {
	if !build.CanTransition(r.Phase, to) {
		return fmt.Errorf("invalid phase transition %s -> %s", r.Phase, to)
	}
	r.Phase = to
	return nil
}

// Result summarises a finished run.
type Result struct {
	ProjectID string
	Phase     build.Phase
	// FailedIn is the phase that was active when the run failed.
	FailedIn build.Phase
	Uploaded int
	Duration time.Duration
	Err      error
}

// Service executes the clone, install, build and upload state machine.
type Service struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a build service.
func New(deps Dependencies, opts Options, logger *slog.Logger) *Service {
	if opts.Manifest == "" {
		opts.Manifest = "package.json"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "build"
	}
	return &Service{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Run drives one job to a terminal phase. It publishes one event on entry
// to every phase, including the terminal one, and never retries.
func (s *Service) Run(ctx context.Context, job build.Job) Result {
	run := &BuildRun{
		ProjectID: job.ProjectID,
		RepoURL:   job.RepoURL,
		Phase:     build.PhaseQueued,
		StartedAt: s.now(),
	}
	log := s.logger.With("project_id", run.ProjectID)
	log.Info("build started", "repo_url", run.RepoURL)

	if s.deps.Locker != nil {
		lease, err := s.deps.Locker.Acquire(ctx, run.ProjectID)
		if err != nil {
			return s.fail(ctx, run, log, err, "", 0)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release project lease failed", "error", err)
			}
		}()
	}

	defer func() {
		if run.WorkDir == "" {
			return
		}
		if err := s.deps.Workspace.Cleanup(run.WorkDir); err != nil {
			log.Error("workspace cleanup failed", "workdir", run.WorkDir, "error", err)
		}
	}()

	if err := s.enter(ctx, run, build.PhaseCloning, fmt.Sprintf("Cloning %s...", run.RepoURL)); err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}
	dir, err := s.deps.Workspace.Prepare(run.ProjectID)
	if err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}
	run.WorkDir = dir
	if err := s.clone(ctx, run); err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}

	if err := s.enter(ctx, run, build.PhaseInstalling, fmt.Sprintf("Installing dependencies: %s", s.opts.InstallCommand)); err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}
	if err := ensureManifest(run.WorkDir, s.opts.Manifest); err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}
	if out, err := s.exec(ctx, run, s.opts.InstallCommand, nil); err != nil {
		return s.fail(ctx, run, log, err, out, 0)
	}

	if err := s.enter(ctx, run, build.PhaseBuilding, fmt.Sprintf("Building: %s", s.opts.BuildCommand)); err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}
	if out, err := s.exec(ctx, run, s.opts.BuildCommand, s.opts.BuildEnv); err != nil {
		return s.fail(ctx, run, log, err, out, 0)
	}

	if err := s.enter(ctx, run, build.PhaseUploading, "Uploading build output..."); err != nil {
		return s.fail(ctx, run, log, err, "", 0)
	}
	written, err := s.upload(ctx, run.ProjectID, filepath.Join(run.WorkDir, s.opts.OutputDir))
	if err != nil {
		return s.fail(ctx, run, log, err, "", len(written))
	}
	if s.opts.PruneStale {
		if err := s.prune(ctx, run.ProjectID, written); err != nil {
			log.Warn("prune stale artifacts failed", "error", err)
		}
	}

	_ = run.advance(build.PhaseDone)
	duration := s.now().Sub(run.StartedAt)
	s.publish(ctx, log, logbus.Event{
		ProjectID: run.ProjectID,
		Phase:     build.PhaseDone,
		Status:    logbus.StatusSuccess,
		Level:     "info",
		Text:      fmt.Sprintf("DEPLOYMENT SUCCESS: %s published %d files", run.ProjectID, len(written)),
	})
	log.Info("build succeeded", "files", len(written), "duration", duration)
	return Result{ProjectID: run.ProjectID, Phase: build.PhaseDone, Uploaded: len(written), Duration: duration}
}

func (s *Service) enter(ctx context.Context, run *BuildRun, phase build.Phase, text string) error {
	if err := run.advance(phase); err != nil {
		return err
	}
	s.publish(ctx, s.logger.With("project_id", run.ProjectID), logbus.Event{
		ProjectID: run.ProjectID,
		Phase:     phase,
		Status:    logbus.StatusProgress,
		Level:     "info",
		Text:      text,
	})
	return nil
}

func (s *Service) clone(ctx context.Context, run *BuildRun) error {
	cloneCtx := ctx
	if s.opts.GitTimeout > 0 {
		var cancel context.CancelFunc
		cloneCtx, cancel = context.WithTimeout(ctx, s.opts.GitTimeout)
		defer cancel()
	}
	err := s.deps.Cloner.Clone(cloneCtx, run.RepoURL, run.WorkDir)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("clone %w after %s", runner.ErrTimedOut, s.opts.GitTimeout)
	}
	return err
}

func (s *Service) exec(ctx context.Context, run *BuildRun, line string, env []string) (string, error) {
	cmdCtx := ctx
	if s.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, s.opts.BuildTimeout)
		defer cancel()
	}
	res, err := s.deps.Runner.Run(cmdCtx, runner.Command{Dir: run.WorkDir, Line: line, Env: env})
	s.logger.Debug("command finished", "project_id", run.ProjectID, "phase", run.Phase, "command", line, "exit_code", res.ExitCode)
	return res.Output, err
}

func (s *Service) fail(ctx context.Context, run *BuildRun, log *slog.Logger, err error, output string, uploaded int) Result {
	failedIn := run.Phase
	_ = run.advance(build.PhaseFailed)
	duration := s.now().Sub(run.StartedAt)
	text := fmt.Sprintf("Error: Build Failed while %s: %v", failedIn, err)
	if failedIn == build.PhaseQueued {
		text = fmt.Sprintf("Error: Build Failed before start: %v", err)
	}
	if uploaded > 0 {
		text += fmt.Sprintf(" (%d files were already published under %s)", uploaded, blobstore.ArtifactPrefix(run.ProjectID))
	}
	s.publish(ctx, log, logbus.Event{
		ProjectID: run.ProjectID,
		Phase:     build.PhaseFailed,
		Status:    logbus.StatusFailure,
		Level:     "error",
		Text:      text,
		Detail:    runner.Tail(output, outputTailLines),
	})
	log.Error("build failed", "phase", failedIn, "error", err, "duration", duration)
	return Result{
		ProjectID: run.ProjectID,
		Phase:     build.PhaseFailed,
		FailedIn:  failedIn,
		Uploaded:  uploaded,
		Duration:  duration,
		Err:       err,
	}
}

// publish never fails the run; a lost event is logged instead.
func (s *Service) publish(ctx context.Context, log *slog.Logger, e logbus.Event) {
	e.Timestamp = s.now().UTC()
	if err := s.deps.Events.Publish(ctx, e); err != nil {
		log.Warn("publish build event failed", "phase", e.Phase, "text", e.Text, "error", err)
	}
}

func ensureManifest(dir, name string) error {
	info, err := os.Stat(filepath.Join(dir, name))
	if err == nil && !info.IsDir() {
		return nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check %s: %w", name, err)
	}
	return fmt.Errorf("%w: %s missing from repository root", ErrMissingManifest, strings.TrimSpace(name))
}
