package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheBlueGeneral/dockmate/internal/app/migrate"
	"github.com/TheBlueGeneral/dockmate/internal/awsx"
	"github.com/TheBlueGeneral/dockmate/internal/build"
	"github.com/TheBlueGeneral/dockmate/internal/docker"
	"github.com/TheBlueGeneral/dockmate/internal/generator"
	httpx "github.com/TheBlueGeneral/dockmate/internal/http"
	"github.com/TheBlueGeneral/dockmate/internal/launcher"
	"github.com/TheBlueGeneral/dockmate/internal/logstream"
	"github.com/TheBlueGeneral/dockmate/internal/registry"
	"github.com/TheBlueGeneral/dockmate/internal/repository/postgres"
	"github.com/TheBlueGeneral/dockmate/internal/service/auth"
	"github.com/TheBlueGeneral/dockmate/internal/service/deploy"
	"github.com/TheBlueGeneral/dockmate/internal/service/repos"
	"github.com/TheBlueGeneral/dockmate/internal/workspace"
	"github.com/TheBlueGeneral/dockmate/internal/ws"
	"github.com/TheBlueGeneral/dockmate/pkg/config"
	"github.com/TheBlueGeneral/dockmate/pkg/logger"
	"github.com/TheBlueGeneral/dockmate/pkg/mailer"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()

	workspaces, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	aws, err := awsx.New(ctx, cfg.AWSRegion)
	if err != nil {
		log.Error("failed to configure aws clients", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	smtp := mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPEmail, cfg.SMTPPassword)
	gen := generator.NewHTTPClient(cfg.GeneratorURL, cfg.GeneratorTimeout)

	builder := build.New(nil, log)
	publisher := registry.New(aws.STS, aws.ECR, nil, aws.Region, log)
	taskLauncher := launcher.New(aws.ECS, aws.Logs, launcher.Config{
		Region:           aws.Region,
		ExecutionRoleARN: cfg.ExecutionRoleARN,
		SubnetIDs:        cfg.SubnetIDs,
		AssignPublicIP:   cfg.AssignPublicIP,
	}, log)
	streamer := logstream.New(aws.Logs, cfg.LogPollInterval, cfg.LogPollMaxFails, log)

	authSvc := auth.New(repo, smtp, log, cfg)
	repoSvc := repos.New(repo, nil, gen, log)
	deploySvc := deploy.New(repo, repo, workspaces, builder, publisher,
		taskLauncher, streamer, dockerClient, hub, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, repoSvc, deploySvc, hub, limiter, pool.Ping, dockerClient.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
