package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrToolUnavailable indicates the build tool could not be invoked at all:
// binary missing, workspace unwritable, or another transport-level failure.
// A build that ran and failed is reported through Result, not this error.
var ErrToolUnavailable = errors.New("build tool unavailable")

// Result captures the outcome of one external tool invocation.
type Result struct {
	OK     bool
	Stdout string
	Stderr string
}

// Runner executes an external command inside a working directory.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// CLIRunner runs commands as subprocesses.
type CLIRunner struct{}

// Run executes the command, capturing both output streams. A non-zero exit
// code yields Result.OK == false with a nil error.
func (CLIRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{OK: err == nil, Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return res, nil
}

// Builder turns a build specification into a local container image.
type Builder struct {
	runner Runner
	logger *slog.Logger
}

// New constructs a Builder.
func New(runner Runner, logger *slog.Logger) Builder {
	if runner == nil {
		runner = CLIRunner{}
	}
	return Builder{runner: runner, logger: logger}
}

// Build materialises the build spec as a Dockerfile in the workspace and runs
// the docker build there. A failed build is a Result, not an error.
func (b Builder) Build(ctx context.Context, workspaceDir, buildSpec, tag string) (Result, error) {
	if workspaceDir == "" {
		return Result{}, fmt.Errorf("workspace directory cannot be empty")
	}
	if buildSpec == "" {
		return Result{}, fmt.Errorf("build spec cannot be empty")
	}
	if tag == "" {
		return Result{}, fmt.Errorf("image tag cannot be empty")
	}

	dockerfile := filepath.Join(workspaceDir, "Dockerfile")
	if err := os.WriteFile(dockerfile, []byte(buildSpec), 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: write build spec: %v", ErrToolUnavailable, err)
	}

	res, err := b.runner.Run(ctx, workspaceDir, "docker", "build", "-t", tag, ".")
	if err != nil {
		return Result{}, err
	}
	if b.logger != nil {
		b.logger.Debug("docker build finished", "tag", tag, "ok", res.OK)
	}
	return res, nil
}
