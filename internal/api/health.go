package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/store"
	"github.com/go-chi/chi/v5"
)

// CheckFunc probes a backend dependency.
type CheckFunc func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo      store.Repository
	assistant CheckFunc
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler. assistant may be nil when
// no remote assistant is configured.
func NewHealthHandler(repo store.Repository, assistant CheckFunc) *HealthHandler {
	return &HealthHandler{repo: repo, assistant: assistant, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies. The
// assistant backend only degrades the status; the store makes it fail.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "dependency", "store", "error", err)
		checks["store"] = "unreachable"
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if h.assistant != nil {
		if err := h.assistant(ctx); err != nil {
			slog.Warn("Health check degraded", "dependency", "assistant", "error", err)
			checks["assistant"] = "unreachable"
			if statusCode == http.StatusOK {
				status = "degraded"
			}
		} else {
			checks["assistant"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
