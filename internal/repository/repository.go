package repository

import (
	"context"

	"github.com/TheBlueGeneral/dockmate/internal/domain"
)

// UserRepository persists accounts and password reset state.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, userID string, passwordHash []byte) error

	UpsertPasswordReset(ctx context.Context, reset *domain.PasswordReset) error
	GetPasswordReset(ctx context.Context, email string) (*domain.PasswordReset, error)
	MarkPasswordResetVerified(ctx context.Context, email string) error
	DeletePasswordReset(ctx context.Context, email string) error
}

// RepoRepository persists submitted repositories and their artifacts.
type RepoRepository interface {
	CreateRepo(ctx context.Context, repo *domain.Repo) error
	GetRepoByID(ctx context.Context, id string) (*domain.Repo, error)
	GetRepoByUserAndURL(ctx context.Context, userID, repoURL string) (*domain.Repo, error)
	ListReposByUser(ctx context.Context, userID string) ([]domain.Repo, error)

	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error
	GetArtifactByRepo(ctx context.Context, repoID string) (*domain.Artifact, error)
}

// DeploymentRepository persists deployment sessions.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	RecordDeploymentLaunch(ctx context.Context, launch domain.DeploymentLaunch) error
	UpdateDeploymentStatus(ctx context.Context, id, status, errMsg string) error
}
