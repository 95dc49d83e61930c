// Package api provides HTTP handlers for the expert-nexus API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/identity"
	"github.com/bladealex9848/expert-nexus/internal/processor"
	"github.com/bladealex9848/expert-nexus/internal/turn"
)

// defaultMaxRequestBodySize bounds JSON bodies, documents included.
const defaultMaxRequestBodySize = 4 << 20

// Channel labels for the conversation log.
const (
	channelHTTP = "http"
	channelWS   = "ws"
)

// Handler provides common handler utilities.
type Handler struct {
	svc     *turn.Service
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a new Handler with common dependencies. limiter may
// be nil to disable throttling.
func NewHandler(svc *turn.Service, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, limiter: limiter, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// classifyError maps service errors to a status, a stable message and
// whether the client may resubmit the same request.
func classifyError(err error) (int, string, bool) {
	switch {
	case errors.Is(err, turn.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required", false
	case errors.Is(err, turn.ErrInvalidDocument):
		return http.StatusBadRequest, "document name is required", false
	case errors.Is(err, expert.ErrUnknownExpert):
		return http.StatusNotFound, "unknown expert", false
	case errors.Is(err, turn.ErrDocumentNotFound):
		return http.StatusNotFound, "document not found", false
	case errors.Is(err, turn.ErrNoPendingChoice):
		return http.StatusConflict, "no pending suggestion", false
	case errors.Is(err, turn.ErrTurnInProgress):
		return http.StatusConflict, "turn in progress", true
	case errors.Is(err, processor.ErrProcessorFailure):
		return http.StatusBadGateway, "assistant unavailable", true
	default:
		return http.StatusInternalServerError, "internal error", false
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, retryable := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "user_id", identity.UserIDFromContext(r.Context()), "error", err)
	}
	JSON(w, status, errorBody{Error: msg, Retryable: retryable})
}

// decodeJSON reads a bounded JSON body into v, writing the error response
// itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func refFromRequest(r *http.Request, channel string) turn.Ref {
	return turn.Ref{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
		Channel:   channel,
	}
}

func (h *Handler) allow(w http.ResponseWriter, ref turn.Ref) bool {
	if h.limiter == nil || h.limiter.Allow(ref.UserID) {
		return true
	}
	Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}
