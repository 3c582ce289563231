package project

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/splax/minivercel/api/internal/domain"
	"github.com/splax/minivercel/api/internal/repository"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/config"
	"github.com/splax/minivercel/pkg/queue"
)

var (
	// ErrInvalidInput indicates a submission that failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrQueueUnavailable indicates the job could not be enqueued.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrLedgerDisabled indicates deployment history is not recorded.
	ErrLedgerDisabled = errors.New("deployment ledger disabled")
)

// SubmitInput carries a deployment request.
type SubmitInput struct {
	GitURL string `json:"gitURL" validate:"required,max=2048,repourl"`
	Slug   string `json:"slug" validate:"omitempty,projectid"`
}

// Submission is the outcome of an accepted request.
type Submission struct {
	ProjectID string
	URL       string
}

// Service accepts deployment requests and hands them to the build queue.
type Service struct {
	validator     *validator.Validate
	queue         queue.Producer
	deployments   repository.DeploymentRepository
	logger        *slog.Logger
	scheme        string
	domain        string
	ledgerTimeout time.Duration
	newSlug       func() string
	now           func() time.Time
}

// NewValidator returns a validator that knows the repourl and projectid
// tags and reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("repourl", func(fl validator.FieldLevel) bool {
		return build.ValidateRepoURL(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("projectid", func(fl validator.FieldLevel) bool {
		return build.ValidateProjectID(fl.Field().String()) == nil
	})
	return v
}

// New returns a project service. deployments may be nil when the ledger is disabled.
func New(v *validator.Validate, producer queue.Producer, deployments repository.DeploymentRepository, logger *slog.Logger, cfg config.APIConfig) *Service {
	if v == nil {
		v = NewValidator()
	}
	return &Service{
		validator:     v,
		queue:         producer,
		deployments:   deployments,
		logger:        logger,
		scheme:        cfg.ArtifactScheme,
		domain:        cfg.ArtifactDomain,
		ledgerTimeout: cfg.LedgerTimeout,
		newSlug:       NewSlug,
		now:           time.Now,
	}
}

// AccessURL returns the address a project's artifacts are served from.
func (s *Service) AccessURL(projectID string) string {
	scheme := s.scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s.%s", scheme, projectID, s.domain)
}

// Submit validates the request, records it and enqueues exactly one build
// job. It returns as soon as the job is queued.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Submission, error) {
	in.GitURL = strings.TrimSpace(in.GitURL)
	in.Slug = strings.TrimSpace(in.Slug)
	if err := s.validator.Struct(&in); err != nil {
		return Submission{}, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}
	projectID := in.Slug
	if projectID == "" {
		projectID = s.newSlug()
	}
	sub := Submission{ProjectID: projectID, URL: s.AccessURL(projectID)}

	// The ledger row goes first so status updates from a fast build find it.
	s.record(ctx, sub, in.GitURL)

	if err := s.queue.Enqueue(ctx, build.Job{ProjectID: projectID, RepoURL: in.GitURL}); err != nil {
		s.logger.Error("enqueue failed", "project_id", projectID, "error", err)
		s.markFailed(ctx, projectID, "Error: job could not be queued")
		return Submission{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	s.logger.Info("job queued", "project_id", projectID, "repo_url", in.GitURL)
	return sub, nil
}

// Latest returns the most recent deployment of a project.
func (s *Service) Latest(ctx context.Context, projectID string) (*domain.Deployment, error) {
	if s.deployments == nil {
		return nil, ErrLedgerDisabled
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, repository.ErrNotFound
	}
	return s.deployments.GetLatestDeployment(ctx, projectID)
}

// History lists recent deployments of a project, newest first.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if s.deployments == nil {
		return nil, ErrLedgerDisabled
	}
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

func (s *Service) record(ctx context.Context, sub Submission, repoURL string) {
	if s.deployments == nil {
		return
	}
	ctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	now := s.now().UTC()
	d := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: sub.ProjectID,
		RepoURL:   repoURL,
		Status:    domain.DeploymentQueued,
		Phase:     string(build.PhaseQueued),
		URL:       sub.URL,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, d); err != nil {
		s.logger.Warn("failed to record deployment", "project_id", sub.ProjectID, "error", err)
	}
}

func (s *Service) markFailed(ctx context.Context, projectID, message string) {
	if s.deployments == nil {
		return
	}
	ctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	completed := s.now().UTC()
	err := s.deployments.UpdateLatestDeployment(ctx, domain.DeploymentStatusUpdate{
		ProjectID:   projectID,
		Status:      domain.DeploymentFailed,
		Phase:       string(build.PhaseFailed),
		Message:     message,
		CompletedAt: &completed,
	})
	if err != nil {
		s.logger.Warn("failed to update deployment", "project_id", projectID, "error", err)
	}
}

func (s *Service) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.ledgerTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.ledgerTimeout)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "repourl":
			msgs = append(msgs, fe.Field()+" is not a supported git repository URL")
		case "projectid":
			msgs = append(msgs, fe.Field()+" must be a lowercase DNS label")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
