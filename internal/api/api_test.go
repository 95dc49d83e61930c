package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/identity"
	"github.com/bladealex9848/expert-nexus/internal/processor"
	"github.com/bladealex9848/expert-nexus/internal/store"
	"github.com/bladealex9848/expert-nexus/internal/turn"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	router http.Handler
	repo   *store.SQLiteStore
	calls  atomic.Int32
	fail   atomic.Bool
	socket *ChatSocket
	cookie *http.Cookie
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()
	ts := &testServer{}

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "nexus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ts.repo = repo

	catalog, err := expert.DefaultCatalog()
	require.NoError(t, err)
	proc := processor.Func(func(_ context.Context, req processor.Request) (string, error) {
		ts.calls.Add(1)
		if ts.fail.Load() {
			return "", errors.New("backend down")
		}
		return "respuesta de " + req.Expert.Key, nil
	})
	orch := turn.NewOrchestrator(catalog, proc, turn.Options{PreserveOnSuggestion: true, Logger: quietLogger})
	svc, err := turn.NewService(orch, repo, turn.ServiceConfig{DefaultExpert: "asistente_virtual", Logger: quietLogger})
	require.NoError(t, err)

	limiter := NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)
	base := NewHandler(svc, limiter, quietLogger)
	ts.socket = NewChatSocket(base, "", true)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHealthHandler(repo, nil).RegisterHealth(r)
	NewChatHandler(base).RegisterRoutes(r)
	r.Get("/ws/chat", ts.socket.ServeHTTP)
	ts.router = r
	return ts
}

// do sends a request as the same anonymous user every time.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(identity.SessionHeaderName, "tab1")
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.AnonCookieName {
			ts.cookie = c
		}
	}
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type keyed struct {
	Key string `json:"key"`
}

type outcomeBody struct {
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Replay     bool   `json:"replay"`
	Expert     keyed  `json:"expert"`
	Reply      *struct {
		Content string `json:"content"`
	} `json:"reply"`
	Suggestion *struct {
		Suggested keyed `json:"suggested"`
	} `json:"suggestion"`
	Switch *struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"switch"`
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		retryable bool
	}{
		{turn.ErrEmptyMessage, http.StatusBadRequest, false},
		{expert.ErrUnknownExpert, http.StatusNotFound, false},
		{turn.ErrTurnInProgress, http.StatusConflict, true},
		{turn.ErrNoPendingChoice, http.StatusConflict, false},
		{processor.ErrProcessorFailure, http.StatusBadGateway, true},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		status, _, retryable := classifyError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.retryable, retryable, tt.err.Error())
	}
}

func TestSuggestionFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "tengo una tutela pendiente"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[outcomeBody](t, rec)
	assert.Equal(t, "await_choice", out.Action)
	require.NotNil(t, out.Suggestion)
	assert.Equal(t, "tutela", out.Suggestion.Suggested.Key)
	assert.Zero(t, ts.calls.Load())

	rec = ts.do(t, http.MethodPost, "/api/turns/choice", map[string]string{"choice": "use_suggested"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode[outcomeBody](t, rec)
	assert.Equal(t, "proceed_suggested", out.Action)
	assert.Equal(t, "tutela", out.Expert.Key)
	require.NotNil(t, out.Reply)
	assert.Equal(t, "respuesta de tutela", out.Reply.Content)
	require.NotNil(t, out.Switch)
	assert.Equal(t, "asistente_virtual", out.Switch.From)

	// A repeated answer replays instead of processing again.
	rec = ts.do(t, http.MethodPost, "/api/turns/choice", map[string]string{"choice": "use_suggested"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode[outcomeBody](t, rec)
	assert.True(t, out.Replay)
	assert.EqualValues(t, 1, ts.calls.Load())

	rec = ts.do(t, http.MethodGet, "/api/history", nil)
	hist := decode[struct {
		History []struct {
			Expert string `json:"expert"`
			Reason string `json:"reason"`
		} `json:"history"`
	}](t, rec)
	require.Len(t, hist.History, 2)
	assert.Equal(t, "tutela", hist.History[1].Expert)
	assert.Equal(t, "Sugerencia automática aceptada", hist.History[1].Reason)
}

func TestProcessorFailureIsRetryable(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.fail.Store(true)

	rec := ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hola"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[errorBody](t, rec)
	assert.True(t, body.Retryable)

	ts.fail.Store(false)
	rec = ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hola"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[outcomeBody](t, rec)
	assert.Equal(t, "proceed_current", out.Action)
	require.NotNil(t, out.Reply)
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/turns", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec = ts.do(t, http.MethodPost, "/api/turns/choice", map[string]string{"choice": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/turns/choice", map[string]string{"choice": "keep_current"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestManualSwitch(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(t, http.MethodPost, "/api/expert", map[string]any{"expert": "bochica"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Changed bool `json:"changed"`
	}](t, rec)
	assert.True(t, body.Changed)

	rec = ts.do(t, http.MethodPost, "/api/expert", map[string]any{"expert": "bochica"})
	body = decode[struct {
		Changed bool `json:"changed"`
	}](t, rec)
	assert.False(t, body.Changed)

	rec = ts.do(t, http.MethodPost, "/api/expert", map[string]any{"expert": "nadie"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/session", nil)
	view := decode[sessionView](t, rec)
	assert.Equal(t, "bochica", view.Expert.Key)
	assert.Len(t, view.History, 2)
}

func TestDocumentsLifecycle(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(t, http.MethodPost, "/api/documents", map[string]string{"name": "contrato.pdf", "text": "cláusula primera", "format": "pdf"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/api/documents", map[string]string{"name": "~$borrador.docx", "text": "x"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/documents", map[string]string{"name": " ", "text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/documents", nil)
	docs := decode[struct {
		Documents []struct {
			Name      string `json:"name"`
			Chars     int    `json:"chars"`
			Temporary bool   `json:"temporary"`
		} `json:"documents"`
	}](t, rec)
	require.Len(t, docs.Documents, 2)
	assert.Equal(t, "contrato.pdf", docs.Documents[0].Name)
	assert.Equal(t, 16, docs.Documents[0].Chars)
	assert.True(t, docs.Documents[1].Temporary)

	rec = ts.do(t, http.MethodDelete, "/api/documents/contrato.pdf", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/documents/contrato.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/session/clean", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[sessionView](t, rec)
	assert.Empty(t, view.Documents)
}

func TestNewConversationResetsHistory(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.do(t, http.MethodPost, "/api/expert", map[string]any{"expert": "tutela"})
	ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hola"})

	rec := ts.do(t, http.MethodPost, "/api/session/new", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[sessionView](t, rec)
	assert.Empty(t, view.Messages)
	require.Len(t, view.History, 1)
	assert.Equal(t, "tutela", view.History[0].ExpertKey)
	assert.Equal(t, "Nueva conversación", view.History[0].Reason)
}

func TestListExperts(t *testing.T) {
	ts := newTestServer(t, 100)
	rec := ts.do(t, http.MethodGet, "/api/experts", nil)
	body := decode[struct {
		Experts []expert.Descriptor `json:"experts"`
		Default string              `json:"default"`
	}](t, rec)
	assert.Len(t, body.Experts, 26)
	assert.Equal(t, "asistente_virtual", body.Default)
}

func TestRateLimitedTurns(t *testing.T) {
	ts := newTestServer(t, 2)
	for range 2 {
		rec := ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hola"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hola"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 100)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h := NewHealthHandler(ts.repo, func(context.Context) error { return errors.New("down") })
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)

	require.NoError(t, ts.repo.Close())
	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
