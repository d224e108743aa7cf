package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TheBlueGeneral/dockmate/internal/domain"
)

// ArtifactGenerator produces deployment artifacts for a repository.
type ArtifactGenerator interface {
	Generate(ctx context.Context, repoURL string) (domain.Artifact, error)
}

// HTTPClient calls the external artifact generation service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs a client pointing at the generator service.
func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(base), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	RepoURL string `json:"repo_url"`
}

type generateResponse struct {
	Dockerfile      string `json:"dockerfile"`
	Compose         string `json:"compose"`
	Report          string `json:"report"`
	CIInstructions  string `json:"ci_cd_instructions"`
	WorkflowFile    string `json:"workflow_file"`
	Error           string `json:"error"`
}

// Generate requests artifacts for repoURL and maps them onto the domain type.
func (c *HTTPClient) Generate(ctx context.Context, repoURL string) (domain.Artifact, error) {
	payload, err := json.Marshal(generateRequest{RepoURL: repoURL})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("read response: %w", err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.Artifact{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(decoded.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return domain.Artifact{}, fmt.Errorf("generator request failed (%d): %s", resp.StatusCode, msg)
	}

	return domain.Artifact{
		Dockerfile:     decoded.Dockerfile,
		Compose:        decoded.Compose,
		Report:         decoded.Report,
		CIInstructions: decoded.CIInstructions,
		WorkflowFile:   decoded.WorkflowFile,
	}, nil
}
