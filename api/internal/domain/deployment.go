package domain

import "time"

// Deployment statuses recorded in the ledger.
const (
	DeploymentQueued    = "queued"
	DeploymentBuilding  = "building"
	DeploymentSucceeded = "succeeded"
	DeploymentFailed    = "failed"
)

// Deployment captures a single submission and what the build made of it.
type Deployment struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	RepoURL     string     `json:"repoUrl"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	Message     string     `json:"message,omitempty"`
	URL         string     `json:"url"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Terminal reports whether the build finished.
func (d Deployment) Terminal() bool {
	return d.Status == DeploymentSucceeded || d.Status == DeploymentFailed
}

// DeploymentStatusUpdate captures mutable fields of the latest deployment of a project.
type DeploymentStatusUpdate struct {
	ProjectID   string
	Status      string
	Phase       string
	Message     string
	CompletedAt *time.Time
}
