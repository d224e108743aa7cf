package domain

import "time"

// Repo is a user-submitted repository tracked for containerization.
type Repo struct {
	ID        string
	UserID    string
	RepoURL   string
	CreatedAt time.Time
}

// Artifact holds the generated container build outputs for a repo.
type Artifact struct {
	ID             string
	RepoID         string
	Dockerfile     string
	Compose        string
	Report         string
	CIInstructions string
	WorkflowFile   string
	CreatedAt      time.Time
}

// BuildSpec returns the build instruction text to deploy, preferring the
// Dockerfile over a compose manifest.
func (a Artifact) BuildSpec() string {
	if a.Dockerfile != "" {
		return a.Dockerfile
	}
	return a.Compose
}
