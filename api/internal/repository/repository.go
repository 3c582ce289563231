package repository

import (
	"context"

	"github.com/splax/minivercel/api/internal/domain"
)

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	// UpdateLatestDeployment applies update to the most recent deployment of
	// update.ProjectID. It returns ErrNotFound when the project has none.
	UpdateLatestDeployment(ctx context.Context, update domain.DeploymentStatusUpdate) error
	GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}
