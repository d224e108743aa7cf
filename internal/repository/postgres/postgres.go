package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheBlueGeneral/dockmate/internal/domain"
	"github.com/TheBlueGeneral/dockmate/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.RepoRepository       = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

const uniqueViolation = "23505"

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UpdateUserPassword replaces the password hash for a user.
func (r *Repository) UpdateUserPassword(ctx context.Context, userID string, passwordHash []byte) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertPasswordReset stores or replaces the pending OTP for an email.
func (r *Repository) UpsertPasswordReset(ctx context.Context, reset *domain.PasswordReset) error {
	const query = `INSERT INTO password_resets (email, otp, verified, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET otp = EXCLUDED.otp, verified = EXCLUDED.verified,
			expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`
	_, err := r.pool.Exec(ctx, query, reset.Email, reset.OTP, reset.Verified, reset.ExpiresAt, reset.CreatedAt)
	return err
}

// GetPasswordReset loads the pending reset for an email.
func (r *Repository) GetPasswordReset(ctx context.Context, email string) (*domain.PasswordReset, error) {
	const query = `SELECT email, otp, verified, expires_at, created_at FROM password_resets WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var reset domain.PasswordReset
	if err := row.Scan(&reset.Email, &reset.OTP, &reset.Verified, &reset.ExpiresAt, &reset.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &reset, nil
}

// MarkPasswordResetVerified flags the OTP as verified.
func (r *Repository) MarkPasswordResetVerified(ctx context.Context, email string) error {
	const query = `UPDATE password_resets SET verified = TRUE WHERE email = $1`
	tag, err := r.pool.Exec(ctx, query, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePasswordReset clears the reset row once consumed.
func (r *Repository) DeletePasswordReset(ctx context.Context, email string) error {
	const query = `DELETE FROM password_resets WHERE email = $1`
	_, err := r.pool.Exec(ctx, query, email)
	return err
}

// CreateRepo inserts a repo record.
func (r *Repository) CreateRepo(ctx context.Context, repo *domain.Repo) error {
	const query = `INSERT INTO repos (id, user_id, repo_url, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, repo.ID, repo.UserID, repo.RepoURL, repo.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetRepoByID fetches a repo by identifier.
func (r *Repository) GetRepoByID(ctx context.Context, id string) (*domain.Repo, error) {
	const query = `SELECT id, user_id, repo_url, created_at FROM repos WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var repo domain.Repo
	if err := row.Scan(&repo.ID, &repo.UserID, &repo.RepoURL, &repo.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &repo, nil
}

// GetRepoByUserAndURL fetches the repo a user already submitted for a URL.
func (r *Repository) GetRepoByUserAndURL(ctx context.Context, userID, repoURL string) (*domain.Repo, error) {
	const query = `SELECT id, user_id, repo_url, created_at FROM repos WHERE user_id = $1 AND repo_url = $2`
	row := r.pool.QueryRow(ctx, query, userID, repoURL)
	var repo domain.Repo
	if err := row.Scan(&repo.ID, &repo.UserID, &repo.RepoURL, &repo.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &repo, nil
}

// ListReposByUser returns repos belonging to a user, newest first.
func (r *Repository) ListReposByUser(ctx context.Context, userID string) ([]domain.Repo, error) {
	const query = `SELECT id, user_id, repo_url, created_at FROM repos
		WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	repos := make([]domain.Repo, 0)
	for rows.Next() {
		var repo domain.Repo
		if err := rows.Scan(&repo.ID, &repo.UserID, &repo.RepoURL, &repo.CreatedAt); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// CreateArtifact inserts a generated artifact.
func (r *Repository) CreateArtifact(ctx context.Context, artifact *domain.Artifact) error {
	const query = `INSERT INTO artifacts (id, repo_id, dockerfile, compose, report, ci_instructions, workflow_file, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, artifact.ID, artifact.RepoID, artifact.Dockerfile, artifact.Compose,
		artifact.Report, artifact.CIInstructions, artifact.WorkflowFile, artifact.CreatedAt)
	return err
}

// GetArtifactByRepo returns the most recent artifact for a repo.
func (r *Repository) GetArtifactByRepo(ctx context.Context, repoID string) (*domain.Artifact, error) {
	const query = `SELECT id, repo_id, dockerfile, compose, report, ci_instructions, workflow_file, created_at
		FROM artifacts WHERE repo_id = $1 ORDER BY created_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, repoID)
	var artifact domain.Artifact
	if err := row.Scan(&artifact.ID, &artifact.RepoID, &artifact.Dockerfile, &artifact.Compose,
		&artifact.Report, &artifact.CIInstructions, &artifact.WorkflowFile, &artifact.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

// CreateDeployment inserts a deployment session record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, repo_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`
	_, err := r.pool.Exec(ctx, query, deployment.ID, deployment.RepoID, deployment.UserID,
		deployment.Status, deployment.CreatedAt)
	return err
}

// GetDeploymentByID loads one deployment session.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, repo_id, user_id, status, image_uri, task_arn, log_group, error, created_at, updated_at
		FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.RepoID, &d.UserID, &d.Status, &d.ImageURI, &d.TaskARN,
		&d.LogGroup, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// RecordDeploymentLaunch stores the remote references once the task is running.
func (r *Repository) RecordDeploymentLaunch(ctx context.Context, launch domain.DeploymentLaunch) error {
	const query = `UPDATE deployments
		SET image_uri = $2, task_arn = $3, log_group = $4, status = $5, updated_at = $6
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, launch.DeploymentID, launch.ImageURI, launch.TaskARN,
		launch.LogGroup, domain.DeploymentStatusStreaming, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateDeploymentStatus records a terminal or intermediate status.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, id, status, errMsg string) error {
	const query = `UPDATE deployments SET status = $2, error = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status, errMsg, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
