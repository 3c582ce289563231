package build

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedJob indicates a queued record could not be turned into a Job.
var ErrMalformedJob = errors.New("build: malformed job")

// Job is the queued request to build and deploy one repository under one
// project identifier. Field names are the queue wire format shared by the
// API and the builder.
type Job struct {
	ProjectID string `json:"projectId"`
	RepoURL   string `json:"repoUrl"`
}

// Validate reports whether both wire fields are populated.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ProjectID) == "" {
		return fmt.Errorf("%w: projectId missing", ErrMalformedJob)
	}
	if strings.TrimSpace(j.RepoURL) == "" {
		return fmt.Errorf("%w: repoUrl missing", ErrMalformedJob)
	}
	return nil
}

// Encode serialises the job into its queue record.
func (j Job) Encode() (string, error) {
	if err := j.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return string(data), nil
}

// DecodeJob parses a queue record. A record that is not JSON or lacks either
// field yields ErrMalformedJob.
func DecodeJob(raw string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}
