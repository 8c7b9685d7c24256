package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/artifact"
	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/metrics"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
	"github.com/Notoriousjayy/CIFlowDocs/internal/trigger"
)

// httpServer is the daemon's operator surface: trigger and rollback
// endpoints, build status, promote history, health and metrics.
type httpServer struct {
	daemon *Daemon
	server *http.Server
}

func newHTTPServer(d *Daemon) *httpServer {
	return &httpServer{daemon: d}
}

// Start binds the port eagerly so address conflicts surface at startup
// instead of as a log line after partial initialization.
func (s *httpServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.daemon.GetConfig().Daemon.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http port %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", logfields.Error(err))
		}
	}()

	slog.Info("HTTP server started", slog.String("addr", addr))
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *httpServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *httpServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	mux.HandleFunc("POST /webhook/git", s.handleGitWebhook)
	mux.HandleFunc("GET /api/builds", s.handleBuilds)
	mux.HandleFunc("GET /api/builds/{id}", s.handleBuildByID)
	mux.HandleFunc("POST /api/rollback", s.handleRollback)
	mux.HandleFunc("GET /api/history/{pipeline}", s.handleHistory)
	mux.HandleFunc("GET /api/diff/{pipeline}", s.handleDiff)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if reg := s.daemon.promRegistry; reg != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(reg))
	}
	return mux
}

// triggerRequest is the POST /api/trigger body.
type triggerRequest struct {
	Pipeline string   `json:"pipeline"`
	Ref      string   `json:"ref,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	Stages   []string `json:"stages,omitempty"`
}

func (s *httpServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pipeline == "" {
		writeError(w, http.StatusBadRequest, "pipeline is required")
		return
	}

	buildReq := trigger.NewRequest(req.Pipeline,
		revision.Revision{Ref: req.Ref, Hash: req.Hash}, build.TriggerManual)
	buildReq.Stages = req.Stages
	buildReq.Priority = build.PriorityHigh

	b, err := s.daemon.Admit(r.Context(), buildReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"build_id":    b.ID,
		"fingerprint": b.Fingerprint,
		"status":      b.Status(),
	})
}

// gitPushPayload is the subset of a git forge push webhook the daemon needs:
// the pushed ref, the new tip, and the repository it belongs to.
type gitPushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

func (s *httpServer) handleGitWebhook(w http.ResponseWriter, r *http.Request) {
	var payload gitPushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	// Branch deletions push an all-zero tip; nothing to build.
	if payload.After == "" || payload.After == strings.Repeat("0", 40) {
		writeJSON(w, http.StatusOK, map[string]any{"builds": []string{}})
		return
	}
	ref := strings.TrimPrefix(payload.Ref, "refs/heads/")

	cfg := s.daemon.GetConfig()
	var triggered []string
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if !repoMatches(p.Repo.URL, payload.Repository.CloneURL, payload.Repository.SSHURL, payload.Repository.HTMLURL) {
			continue
		}
		if p.Repo.Ref != ref {
			continue
		}
		req := trigger.NewRequest(p.Name,
			revision.Revision{Ref: ref, Hash: payload.After}, build.TriggerWebhook)
		b, err := s.daemon.Admit(r.Context(), req)
		if err != nil {
			slog.Warn("Webhook admission failed",
				logfields.Pipeline(p.Name), logfields.Error(err))
			continue
		}
		triggered = append(triggered, b.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"builds": triggered})
}

// repoMatches compares repository URLs ignoring scheme and .git suffix
// differences between forge payload variants and the configured URL.
func repoMatches(configured string, candidates ...string) bool {
	want := normalizeRepoURL(configured)
	if want == "" {
		return false
	}
	for _, c := range candidates {
		if c != "" && normalizeRepoURL(c) == want {
			return true
		}
	}
	return false
}

func normalizeRepoURL(raw string) string {
	u := strings.TrimSuffix(raw, ".git")
	for _, prefix := range []string{"https://", "http://", "ssh://", "git@"} {
		u = strings.TrimPrefix(u, prefix)
	}
	u = strings.Replace(u, ":", "/", 1)
	return strings.ToLower(strings.TrimSuffix(u, "/"))
}

func (s *httpServer) handleBuilds(w http.ResponseWriter, r *http.Request) {
	active := make([]build.Snapshot, 0)
	for _, b := range s.daemon.ActiveBuilds() {
		active = append(active, b.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  active,
		"history": s.daemon.Projection().GetHistory(),
	})
}

func (s *httpServer) handleBuildByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if b, ok := s.daemon.BuildByID(id); ok {
		writeJSON(w, http.StatusOK, b.Snapshot())
		return
	}
	if summary, ok := s.daemon.Projection().GetBuild(id); ok {
		writeJSON(w, http.StatusOK, summary)
		return
	}
	writeError(w, http.StatusNotFound, "unknown build "+id)
}

// rollbackRequest is the POST /api/rollback body.
type rollbackRequest struct {
	Pipeline string `json:"pipeline"`
	Label    string `json:"label"`
}

func (s *httpServer) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pipeline == "" || req.Label == "" {
		writeError(w, http.StatusBadRequest, "pipeline and label are required")
		return
	}

	rec, err := s.daemon.Rollback(r.Context(), req.Pipeline, req.Label)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *httpServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	pipeline := r.PathValue("pipeline")
	if s.daemon.GetConfig().PipelineByName(pipeline) == nil {
		writeError(w, http.StatusNotFound, "unknown pipeline "+pipeline)
		return
	}

	records := s.daemon.Registry().History(pipeline)
	activeLabel := ""
	if rec, ok := s.daemon.Registry().Active(pipeline); ok {
		activeLabel = rec.Label
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline":  pipeline,
		"active":    activeLabel,
		"artifacts": records,
		"builds":    s.daemon.Projection().PipelineHistory(pipeline),
	})
}

// handleDiff reports the changeset between two published labels. The labels
// resolve through the registry; the collaborator does the file diff.
func (s *httpServer) handleDiff(w http.ResponseWriter, r *http.Request) {
	pipeline := r.PathValue("pipeline")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to labels are required")
		return
	}

	cs, err := s.daemon.DiffLabels(r.Context(), pipeline, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline": pipeline,
		"from":     cs.From,
		"to":       cs.To,
		"files":    cs.Files,
		"authors":  cs.Authors,
	})
}

func (s *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       s.daemon.GetStatus(),
		"uptime":       time.Since(s.daemon.GetStartTime()).String(),
		"queue_length": s.daemon.QueueLength(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps classified errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var perr *derrors.PipelineError
	if errors.As(err, &perr) {
		switch perr.Category {
		case derrors.CategoryConfig, derrors.CategoryValidation:
			status = http.StatusBadRequest
		case derrors.CategoryVCS:
			status = http.StatusBadGateway
		}
	}
	var notFound artifact.ErrNotFound
	if errors.As(err, &notFound) {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}
