package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// manifestFiles are the build inputs worth fetching when inspecting a repo.
var manifestFiles = []string{
	"requirements.txt",
	"Pipfile",
	"pyproject.toml",
	"package.json",
	"yarn.lock",
	"Gemfile",
	"go.mod",
	"composer.json",
	"pom.xml",
	"build.gradle",
	".env.example",
	"Dockerfile",
	".github/workflows/",
}

// SparseResult reports which manifest files a sparse clone materialized.
type SparseResult struct {
	Dir   string
	Files []string
}

// SparseClone fetches only the manifest files from a repository. The blob
// filter keeps the transfer to tree metadata plus the checked-out paths, so
// inspecting a large repo stays cheap.
func SparseClone(ctx context.Context, repoURL, dest string) (SparseResult, error) {
	if repoURL == "" {
		return SparseResult{}, fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return SparseResult{}, fmt.Errorf("destination cannot be empty")
	}

	clone := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--filter=blob:none", "--sparse", repoURL, ".")
	clone.Dir = dest
	clone.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if output, err := clone.CombinedOutput(); err != nil {
		return SparseResult{}, fmt.Errorf("git sparse clone failed: %w: %s", err, string(output))
	}

	checkout := exec.CommandContext(ctx, "git", append([]string{"sparse-checkout", "set"}, manifestFiles...)...)
	checkout.Dir = dest
	if output, err := checkout.CombinedOutput(); err != nil {
		return SparseResult{}, fmt.Errorf("git sparse-checkout failed: %w: %s", err, string(output))
	}

	res := SparseResult{Dir: dest}
	for _, f := range manifestFiles {
		if _, err := os.Stat(filepath.Join(dest, f)); err == nil {
			res.Files = append(res.Files, f)
		}
	}
	return res, nil
}
