package repos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/TheBlueGeneral/dockmate/internal/domain"
	"github.com/TheBlueGeneral/dockmate/internal/generator"
	"github.com/TheBlueGeneral/dockmate/internal/git"
	"github.com/TheBlueGeneral/dockmate/internal/repository"
)

// ErrInvalidRepoURL rejects anything but a plain GitHub repository URL.
var ErrInvalidRepoURL = errors.New("invalid repo URL, expected format: https://github.com/user/repo")

var repoURLPattern = regexp.MustCompile(`^https://github\.com/[\w\-]+/[\w\-]+(?:\.git)?$`)

// Cloner fetches repository manifest files for inspection.
type Cloner interface {
	SparseClone(ctx context.Context, repoURL, dest string) (git.SparseResult, error)
}

// CLICloner shells out to git.
type CLICloner struct{}

func (CLICloner) SparseClone(ctx context.Context, repoURL, dest string) (git.SparseResult, error) {
	return git.SparseClone(ctx, repoURL, dest)
}

// SubmitResult reports what the intake produced for the caller.
type SubmitResult struct {
	Repo           *domain.Repo
	AlreadyStored  bool
	FilesCollected []string
	Artifact       *domain.Artifact
}

// Service handles repository submission: validation, manifest inspection,
// artifact generation and persistence.
type Service struct {
	repos  repository.RepoRepository
	cloner Cloner
	gen    generator.ArtifactGenerator
	logger *slog.Logger
}

// New constructs a Service.
func New(repos repository.RepoRepository, cloner Cloner, gen generator.ArtifactGenerator, logger *slog.Logger) Service {
	if cloner == nil {
		cloner = CLICloner{}
	}
	return Service{repos: repos, cloner: cloner, gen: gen, logger: logger}
}

// Submit registers a repository for a user. Resubmitting a stored repo is not
// an error; the existing row is returned untouched.
func (s Service) Submit(ctx context.Context, userID, repoURL string) (SubmitResult, error) {
	if !repoURLPattern.MatchString(repoURL) {
		return SubmitResult{}, ErrInvalidRepoURL
	}

	existing, err := s.repos.GetRepoByUserAndURL(ctx, userID, repoURL)
	if err == nil {
		return SubmitResult{Repo: existing, AlreadyStored: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return SubmitResult{}, err
	}

	dir, err := os.MkdirTemp("", "dockmate-intake-*")
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create intake dir: %w", err)
	}
	defer os.RemoveAll(dir)

	cloned, err := s.cloner.SparseClone(ctx, repoURL, dir)
	if err != nil {
		return SubmitResult{}, err
	}

	repo := &domain.Repo{
		ID:        uuid.NewString(),
		UserID:    userID,
		RepoURL:   repoURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.CreateRepo(ctx, repo); err != nil {
		return SubmitResult{}, err
	}

	artifact, err := s.gen.Generate(ctx, repoURL)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("generate artifacts: %w", err)
	}
	artifact.ID = uuid.NewString()
	artifact.RepoID = repo.ID
	artifact.CreatedAt = time.Now().UTC()
	if err := s.repos.CreateArtifact(ctx, &artifact); err != nil {
		return SubmitResult{}, err
	}

	s.logger.Info("repo stored", "repo_id", repo.ID, "user_id", userID, "files", len(cloned.Files))
	return SubmitResult{
		Repo:           repo,
		FilesCollected: cloned.Files,
		Artifact:       &artifact,
	}, nil
}

// Get returns a repo owned by userID.
func (s Service) Get(ctx context.Context, userID, repoID string) (*domain.Repo, error) {
	repo, err := s.repos.GetRepoByID(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if repo.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return repo, nil
}

// List returns all repos submitted by userID.
func (s Service) List(ctx context.Context, userID string) ([]domain.Repo, error) {
	return s.repos.ListReposByUser(ctx, userID)
}

// Artifact returns the stored build artifact for a repo owned by userID.
func (s Service) Artifact(ctx context.Context, userID, repoID string) (*domain.Artifact, error) {
	if _, err := s.Get(ctx, userID, repoID); err != nil {
		return nil, err
	}
	return s.repos.GetArtifactByRepo(ctx, repoID)
}
