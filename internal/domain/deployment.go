package domain

import "time"

// Deployment statuses.
const (
	DeploymentStatusBuilding  = "building"
	DeploymentStatusStreaming = "streaming"
	DeploymentStatusFailed    = "failed"
)

// Deployment captures a single deployment session for a repo.
type Deployment struct {
	ID        string
	RepoID    string
	UserID    string
	Status    string
	ImageURI  string
	TaskARN   string
	LogGroup  string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeploymentLaunch captures the remote references produced by a successful
// build/publish/launch sequence.
type DeploymentLaunch struct {
	DeploymentID string
	ImageURI     string
	TaskARN      string
	LogGroup     string
}
