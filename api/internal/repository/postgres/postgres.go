package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/minivercel/api/internal/domain"
	"github.com/splax/minivercel/api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

const deploymentColumns = `id, project_id, repo_url, status, phase, message, url, started_at, completed_at, updated_at`

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.RepoURL,
		deployment.Status,
		deployment.Phase,
		deployment.Message,
		deployment.URL,
		deployment.StartedAt,
		deployment.CompletedAt,
		deployment.UpdatedAt,
	)
	return mapError(err)
}

// UpdateLatestDeployment updates the most recent deployment of a project.
func (r *Repository) UpdateLatestDeployment(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = COALESCE($2, status),
			phase = COALESCE($3, phase),
			message = COALESCE($4, message),
			completed_at = COALESCE($5, completed_at),
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM deployments WHERE project_id = $1
			ORDER BY started_at DESC LIMIT 1
		)`
	tag, err := r.pool.Exec(ctx, query,
		update.ProjectID,
		emptyToNil(update.Status),
		emptyToNil(update.Phase),
		emptyToNil(update.Message),
		update.CompletedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetLatestDeployment returns the most recent deployment of a project.
func (r *Repository) GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + `
		FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT 1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + deploymentColumns + `
		FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row pgx.Row) (domain.Deployment, error) {
	var d domain.Deployment
	var completedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.ProjectID, &d.RepoURL, &d.Status, &d.Phase, &d.Message, &d.URL, &d.StartedAt, &completedAt, &d.UpdatedAt); err != nil {
		return domain.Deployment{}, err
	}
	if completedAt.Valid {
		value := completedAt.Time
		d.CompletedAt = &value
	}
	return d, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
