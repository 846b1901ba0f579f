package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sebitommy123/SAP/internal/object"
	"github.com/sebitommy123/SAP/internal/query"
	"github.com/sebitommy123/SAP/internal/runner"
)

// ProviderInfo is the static provider metadata served by /hello.
type ProviderInfo struct {
	Name        string
	Description string
	Version     string
	Scopes      []query.Scope
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	provider     ProviderInfo
	runner       *runner.Runner
	router       *query.Router
	refreshToken string
	logger       *slog.Logger
}

// NewHandlers creates the provider endpoint handlers.
func NewHandlers(provider ProviderInfo, run *runner.Runner, router *query.Router, refreshToken string, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider:     provider,
		runner:       run,
		router:       router,
		refreshToken: refreshToken,
		logger:       logger,
	}
}

// HandleRoot handles GET /: the human-facing endpoint index.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"/wtf":      "Server type identification",
		"/hello":    "Provider information",
		"/all_data": "All SAObject data",
		"/health":   "Health check",
		"/status":   "Runner status",
		"/refresh":  "Trigger a manual refresh",
	}
	if h.router.HasResolver() {
		endpoints["/lazy_load"] = "Lazy load data with query scope"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   h.provider.Name,
		"endpoints": endpoints,
		"status":    "running",
	})
}

// HandleWTF handles GET /wtf: server type identification for shells probing
// unknown ports.
func (h *Handlers) HandleWTF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"type": "SAP"})
}

// HandleHello handles GET /hello: provider metadata plus declared lazy-load
// scopes. Never touches runner state.
func (h *Handlers) HandleHello(w http.ResponseWriter, r *http.Request) {
	scopes := h.provider.Scopes
	if scopes == nil {
		scopes = []query.Scope{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                h.provider.Name,
		"description":         h.provider.Description,
		"version":             h.provider.Version,
		"lazy_loading_scopes": scopes,
	})
}

// HandleAllData handles GET /all_data: the current cached snapshot as a JSON
// array. Fetch errors are never surfaced here; the cache is served as-is.
func (h *Handlers) HandleAllData(w http.ResponseWriter, r *http.Request) {
	snap := h.runner.Snapshot()
	if snap == nil {
		snap = []object.Object{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleHealth handles GET /health: always 200 while the process is alive,
// regardless of fetch error state.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"count":  h.runner.Status().Count,
	})
}

// HandleStatus handles GET /status: the runner's point-in-time snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Status())
}

// HandleRefresh handles GET /refresh: manual refresh, optionally gated by a
// shared-secret token. A mismatch must not touch runner state.
func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refreshToken != "" {
		supplied := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(h.refreshToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	if h.runner.Refresh() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "refresh_started"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refresh_skipped"})
}

// lazyLoadRequest is the POST /lazy_load body. Condition values arrive as
// raw JSON and are handed to the resolver untyped.
type lazyLoadRequest struct {
	Scope      query.Scope `json:"scope"`
	Conditions [][]any     `json:"conditions"`
	PlanOnly   bool        `json:"plan_only"`
}

// HandleLazyLoad handles POST /lazy_load.
func (h *Handlers) HandleLazyLoad(w http.ResponseWriter, r *http.Request) {
	if !h.router.HasResolver() {
		writeError(w, http.StatusBadRequest, "Lazy loading not supported by this provider")
		return
	}

	var req lazyLoadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	if req.Scope.Type == "" {
		writeError(w, http.StatusBadRequest, "Invalid scope: missing type")
		return
	}

	conditions := make([]query.Condition, 0, len(req.Conditions))
	for i, c := range req.Conditions {
		if len(c) != 3 {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid request: condition %d must be a [field, operator, value] triple", i))
			return
		}
		field, fieldOK := c[0].(string)
		operator, opOK := c[1].(string)
		if !fieldOK || !opOK {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid request: condition %d field and operator must be strings", i))
			return
		}
		conditions = append(conditions, query.Condition{Field: field, Operator: operator, Value: c[2]})
	}

	res, err := h.router.Route(r.Context(), query.Request{
		Scope:      req.Scope,
		Conditions: conditions,
		PlanOnly:   req.PlanOnly,
	})
	if err != nil {
		var ute *query.UnsupportedTypeError
		switch {
		case errors.As(err, &ute):
			h.logger.Warn("lazy load requested for unsupported type", "type", ute.Type)
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, query.ErrInvalidRequest):
			h.logger.Warn("resolver declined lazy load request", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("resolver failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	objs := res.Objects
	if objs == nil {
		objs = []object.Object{}
	}
	h.logger.Info("lazy load completed", "type", req.Scope.Type, "count", len(objs), "plan_only", req.PlanOnly)
	writeJSON(w, http.StatusOK, map[string]any{
		"sa_objects": objs,
		"plan":       res.Plan,
	})
}
