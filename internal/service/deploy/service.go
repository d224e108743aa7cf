package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/TheBlueGeneral/dockmate/internal/build"
	"github.com/TheBlueGeneral/dockmate/internal/domain"
	"github.com/TheBlueGeneral/dockmate/internal/launcher"
	"github.com/TheBlueGeneral/dockmate/internal/registry"
	"github.com/TheBlueGeneral/dockmate/internal/repository"
	"github.com/TheBlueGeneral/dockmate/pkg/config"
)

// ErrNoBuildSpec means the repo has no stored Dockerfile or compose manifest.
var ErrNoBuildSpec = errors.New("no Dockerfile or compose content found for deployment")

const cleanupTimeout = 30 * time.Second

// Workspaces owns per-deployment scratch directories.
type Workspaces interface {
	Prepare(deploymentID string) (string, error)
	Cleanup(path string) error
}

// ImageBuilder builds a local image from a build spec.
type ImageBuilder interface {
	Build(ctx context.Context, workspaceDir, buildSpec, tag string) (build.Result, error)
}

// ImagePublisher pushes a local image to the remote registry.
type ImagePublisher interface {
	Publish(ctx context.Context, localTag, repoName string) (registry.PublishedImage, error)
}

// TaskLauncher starts the published image on the remote cluster.
type TaskLauncher interface {
	Launch(ctx context.Context, imageURI, clusterName, taskName, logGroup string) (launcher.ExecutionTask, error)
}

// LogStreamer follows the launched task's log output.
type LogStreamer interface {
	Stream(ctx context.Context, logGroup, prefix string, emit func(line string) error) error
}

// ImageRemover deletes a local image tag once its workspace is released.
type ImageRemover interface {
	RemoveImage(ctx context.Context, tag string) error
}

// Broadcaster fans deployment lines out to live watchers.
type Broadcaster interface {
	Broadcast(deploymentID string, payload []byte)
}

// Service drives a deployment end to end: build, publish, launch, stream.
type Service struct {
	repos       repository.RepoRepository
	deployments repository.DeploymentRepository
	workspaces  Workspaces
	builder     ImageBuilder
	publisher   ImagePublisher
	launcher    TaskLauncher
	streamer    LogStreamer
	images      ImageRemover
	hub         Broadcaster
	logger      *slog.Logger
	cfg         config.APIConfig
}

// New constructs a Service.
func New(repos repository.RepoRepository, deployments repository.DeploymentRepository,
	workspaces Workspaces, builder ImageBuilder, publisher ImagePublisher,
	taskLauncher TaskLauncher, streamer LogStreamer, images ImageRemover,
	hub Broadcaster, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		repos:       repos,
		deployments: deployments,
		workspaces:  workspaces,
		builder:     builder,
		publisher:   publisher,
		launcher:    taskLauncher,
		streamer:    streamer,
		images:      images,
		hub:         hub,
		logger:      logger,
		cfg:         cfg,
	}
}

// Deploy starts a deployment for a repo owned by userID and returns the
// deployment record plus the live line stream.
func (s Service) Deploy(ctx context.Context, userID, repoID string) (*domain.Deployment, <-chan string, error) {
	repo, err := s.repos.GetRepoByID(ctx, repoID)
	if err != nil {
		return nil, nil, err
	}
	if repo.UserID != userID {
		return nil, nil, repository.ErrNotFound
	}
	artifact, err := s.repos.GetArtifactByRepo(ctx, repoID)
	if err != nil {
		return nil, nil, err
	}
	buildSpec := artifact.BuildSpec()
	if strings.TrimSpace(buildSpec) == "" {
		return nil, nil, ErrNoBuildSpec
	}

	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		RepoID:    repoID,
		UserID:    userID,
		Status:    domain.DeploymentStatusBuilding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, nil, err
	}
	return deployment, s.Run(ctx, deployment.ID, buildSpec), nil
}

// Get returns a deployment by ID for its owner.
func (s Service) Get(ctx context.Context, userID, deploymentID string) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if deployment.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return deployment, nil
}

// Run executes the pipeline for a deployment and streams its output. The
// channel is unbuffered so a slow consumer throttles log forwarding, and it is
// closed when the pipeline ends for any reason. Exactly one "[error] ..." line
// precedes the close when a stage fails.
func (s Service) Run(ctx context.Context, deploymentID, buildSpec string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		s.run(ctx, deploymentID, buildSpec, out)
	}()
	return out
}

func (s Service) run(ctx context.Context, deploymentID, buildSpec string, out chan<- string) {
	emit := func(line string) error {
		select {
		case out <- line:
			if s.hub != nil {
				s.hub.Broadcast(deploymentID, []byte(line))
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fail := func(msg string) {
		_ = emit("[error] " + msg)
		s.setStatus(deploymentID, domain.DeploymentStatusFailed, msg)
		s.logger.Error("deployment failed", "deployment_id", deploymentID, "error", msg)
	}

	localTag := fmt.Sprintf("repo-%s:latest", deploymentID)
	repoName := fmt.Sprintf("repo-%s", deploymentID)
	taskName := fmt.Sprintf("repo-%s-task", deploymentID)
	logGroup := fmt.Sprintf("%s/repo-%s", s.cfg.LogGroupPrefix, deploymentID)

	dir, err := s.workspaces.Prepare(deploymentID)
	if err != nil {
		fail(err.Error())
		return
	}
	// The workspace and the image it produced go away together, whatever path
	// ended the pipeline. Cleanup runs on its own context so a cancelled
	// deployment still releases both.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := s.workspaces.Cleanup(dir); err != nil {
			s.logger.Error("workspace cleanup failed", "deployment_id", deploymentID, "error", err)
		}
		if s.images != nil {
			if err := s.images.RemoveImage(cleanupCtx, localTag); err != nil {
				s.logger.Warn("local image removal failed", "tag", localTag, "error", err)
			}
		}
	}()

	buildCtx := ctx
	if s.cfg.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, s.cfg.BuildTimeout)
		defer cancel()
	}
	res, err := s.builder.Build(buildCtx, dir, buildSpec, localTag)
	if err != nil {
		fail("Docker build failed: " + err.Error())
		return
	}
	if !res.OK {
		fail("Docker build failed: " + res.Stderr)
		return
	}

	published, err := s.publisher.Publish(ctx, localTag, repoName)
	if err != nil {
		fail(err.Error())
		return
	}

	task, err := s.launcher.Launch(ctx, published.URI, s.cfg.ClusterName, taskName, logGroup)
	if err != nil {
		fail(err.Error())
		return
	}

	s.setStatus(deploymentID, domain.DeploymentStatusStreaming, "")
	s.recordLaunch(domain.DeploymentLaunch{
		DeploymentID: deploymentID,
		ImageURI:     published.URI,
		TaskARN:      task.TaskRef,
		LogGroup:     task.LogGroup,
	})
	s.logger.Info("deployment launched",
		"deployment_id", deploymentID, "image", published.URI, "task_arn", task.TaskRef)

	if err := s.streamer.Stream(ctx, task.LogGroup, task.StreamPrefix, emit); err != nil {
		fail(err.Error())
	}
}

func (s Service) setStatus(deploymentID, status, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.deployments.UpdateDeploymentStatus(ctx, deploymentID, status, errMsg); err != nil {
		s.logger.Error("deployment status update failed", "deployment_id", deploymentID, "error", err)
	}
}

func (s Service) recordLaunch(launch domain.DeploymentLaunch) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.deployments.RecordDeploymentLaunch(ctx, launch); err != nil {
		s.logger.Error("deployment launch record failed", "deployment_id", launch.DeploymentID, "error", err)
	}
}
