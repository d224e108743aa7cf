package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheBlueGeneral/dockmate/internal/repository"
	"github.com/TheBlueGeneral/dockmate/internal/service/auth"
	"github.com/TheBlueGeneral/dockmate/internal/service/deploy"
	"github.com/TheBlueGeneral/dockmate/internal/service/repos"
	"github.com/TheBlueGeneral/dockmate/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	repos    repos.Service
	deploy   deploy.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter

	dbHealth     func(context.Context) error
	dockerHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	deploymentsTotal   *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitReset     = 5
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitDeploy    = 10
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, repoSvc repos.Service, deploySvc deploy.Service, hub *ws.Hub, limiter RateLimiter, dbHealth, dockerHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   authSvc,
		repos:  repoSvc,
		deploy: deploySvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		dbHealth:     dbHealth,
		dockerHealth: dockerHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/me", r.audit("/auth/me", r.handlerAuthRate("/auth/me", rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("/profile/", r.audit("/profile", r.handleProfile))
	r.mux.HandleFunc("/submit-repo/", r.audit("/submit-repo", r.handlerAuthRate("/submit-repo", rateLimitUserWrite, rateWindowDefault, r.handleSubmitRepo)))
	r.mux.HandleFunc("/deploy/", r.audit("/deploy", r.handlerAuthRate("/deploy", rateLimitDeploy, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deployments/", r.audit("/deployments", r.handlerAuthRate("/deployments", rateLimitUserRead, rateWindowDefault, r.handleDeploymentStatus)))
	r.mux.HandleFunc("/ws/logs", r.audit("/ws/logs", r.handlerAuthRate("/ws/logs", rateLimitWebsocket, rateWindowRealtime, r.handleLogsWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
		"token": token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
		"token": token,
	})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    info.UserID,
		"email": info.Email,
	})
}

func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/profile/")
	switch {
	case trimmed == "":
		r.handlerAuthRate("/profile", rateLimitUserRead, rateWindowDefault, r.handleProfileIndex)(w, req)
	case trimmed == "forgot-password":
		r.withRateLimit("/profile/forgot-password", rateLimitReset, rateWindowDefault, rateLimitKeyIP, r.handleForgotPassword)(w, req)
	case trimmed == "verify-otp":
		r.withRateLimit("/profile/verify-otp", rateLimitReset, rateWindowDefault, rateLimitKeyIP, r.handleVerifyOTP)(w, req)
	case trimmed == "reset-password":
		r.withRateLimit("/profile/reset-password", rateLimitReset, rateWindowDefault, rateLimitKeyIP, r.handleResetPassword)(w, req)
	default:
		parts := strings.Split(trimmed, "/")
		if len(parts) == 3 && parts[0] == "repo" && parts[2] == "artifacts" {
			repoID := parts[1]
			r.handlerAuthRate("/profile/repo/artifacts", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleRepoArtifacts(w, req, repoID)
			})(w, req)
			return
		}
		r.notFound(w)
	}
}

func (r *Router) handleProfileIndex(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	repoList, err := r.repos.List(req.Context(), info.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	repoPayload := make([]map[string]any, 0, len(repoList))
	for _, repo := range repoList {
		repoPayload = append(repoPayload, map[string]any{
			"id":         repo.ID,
			"repo_url":   repo.RepoURL,
			"created_at": repo.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":    info.UserID,
			"email": info.Email,
		},
		"repos": repoPayload,
	})
}

func (r *Router) handleRepoArtifacts(w http.ResponseWriter, req *http.Request, repoID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	artifact, err := r.repos.Artifact(req.Context(), info.UserID, repoID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "repo not found or not owned by user")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repo_id":            artifact.RepoID,
		"dockerfile":         artifact.Dockerfile,
		"compose":            artifact.Compose,
		"report":             artifact.Report,
		"ci_cd_instructions": artifact.CIInstructions,
		"workflow_file":      artifact.WorkflowFile,
		"created_at":         artifact.CreatedAt,
	})
}

func (r *Router) handleForgotPassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.auth.ForgotPassword(req.Context(), payload.Email); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "email not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent to your email"})
}

func (r *Router) handleVerifyOTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.auth.VerifyOTP(req.Context(), payload.Email, payload.OTP); err != nil {
		if errors.Is(err, auth.ErrInvalidOTP) || errors.Is(err, auth.ErrExpiredOTP) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP verified"})
}

func (r *Router) handleResetPassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email       string `json:"email"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.auth.ResetPassword(req.Context(), payload.Email, payload.NewPassword); err != nil {
		if errors.Is(err, auth.ErrOTPNotVerified) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successful"})
}

func (r *Router) handleSubmitRepo(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		RepoURL string `json:"repo_url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.repos.Submit(req.Context(), info.UserID, payload.RepoURL)
	if err != nil {
		switch {
		case errors.Is(err, repos.ErrInvalidRepoURL):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if result.AlreadyStored {
		writeJSON(w, http.StatusOK, map[string]any{
			"received_repo": payload.RepoURL,
			"status":        "already stored in database",
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"received_repo":   payload.RepoURL,
		"repo_id":         result.Repo.ID,
		"status":          "repo + artifact stored successfully",
		"files_collected": result.FilesCollected,
		"report":          result.Artifact.Report,
	})
}

// handleDeploy streams the deployment pipeline output as plain text. The
// response stays open while the remote task keeps logging; client disconnect
// cancels the pipeline through the request context.
func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	repoID := strings.TrimPrefix(req.URL.Path, "/deploy/")
	if repoID == "" || strings.Contains(repoID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())

	deployment, lines, err := r.deploy.Deploy(req.Context(), info.UserID, repoID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "repo or artifact not found")
		case errors.Is(err, deploy.ErrNoBuildSpec):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	r.recordDeploymentOutcome("started")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Deployment-ID", deployment.ID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	outcome := "completed"
	for line := range lines {
		if strings.HasPrefix(line, "[error] ") {
			outcome = "failed"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			// Client gone; the request context cancellation stops the producer.
			outcome = "disconnected"
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	r.recordDeploymentOutcome(outcome)
}

func (r *Router) handleDeploymentStatus(w http.ResponseWriter, req *http.Request) {
	deploymentID := strings.TrimPrefix(req.URL.Path, "/deployments/")
	if deploymentID == "" || strings.Contains(deploymentID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	deployment, err := r.deploy.Get(req.Context(), info.UserID, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         deployment.ID,
		"repo_id":    deployment.RepoID,
		"status":     deployment.Status,
		"image_uri":  deployment.ImageURI,
		"task_arn":   deployment.TaskARN,
		"log_group":  deployment.LogGroup,
		"error":      deployment.Error,
		"created_at": deployment.CreatedAt,
		"updated_at": deployment.UpdatedAt,
	})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live log streaming disabled")
		return
	}
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(deploymentID, client)
	go func() {
		<-client.Done()
		r.hub.Unregister(deploymentID, client)
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	check := func(name string, fn func(context.Context) error) {
		if fn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			return
		}
		components[name] = map[string]any{"status": "up"}
	}
	check("database", r.dbHealth)
	check("docker", r.dockerHealth)

	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
