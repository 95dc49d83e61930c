package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/bladealex9848/expert-nexus/internal/history"
	"github.com/bladealex9848/expert-nexus/internal/selection"
	"github.com/bladealex9848/expert-nexus/internal/session"
	"github.com/go-chi/chi/v5"
)

// ChatHandler serves the turn, expert, session and document endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/experts", h.ListExperts)
		r.Get("/session", h.GetSession)
		r.Post("/session/new", h.NewConversation)
		r.Post("/session/clean", h.CleanSession)
		r.Get("/history", h.GetHistory)
		r.Post("/turns", h.SubmitTurn)
		r.Post("/turns/choice", h.SubmitChoice)
		r.Post("/expert", h.SwitchExpert)
		r.Get("/documents", h.ListDocuments)
		r.Post("/documents", h.AttachDocument)
		r.Delete("/documents/{name}", h.RemoveDocument)
	})
}

type sessionView struct {
	Key       string                   `json:"key"`
	Expert    expert.Descriptor        `json:"expert"`
	Selection selection.State          `json:"selection"`
	Messages  []domain.Message         `json:"messages"`
	Documents []domain.DocumentSummary `json:"documents"`
	History   []history.Entry          `json:"history"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func (h *Handler) view(sess *session.Session) sessionView {
	desc, err := h.svc.Orchestrator().Catalog().Registry.Get(sess.CurrentExpert())
	if err != nil {
		desc = expert.Descriptor{Key: sess.CurrentExpert()}
	}
	messages := sess.Conversation.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	return sessionView{
		Key:       sess.Key,
		Expert:    desc,
		Selection: sess.Selection,
		Messages:  messages,
		Documents: summaries(sess.Conversation.DocumentList()),
		History:   sess.Ledger.All(),
		UpdatedAt: sess.UpdatedAt,
	}
}

func summaries(docs []domain.Document) []domain.DocumentSummary {
	out := make([]domain.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Summary())
	}
	return out
}

// ListExperts returns the catalog in display order.
func (h *ChatHandler) ListExperts(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"experts": h.svc.Orchestrator().Catalog().Registry.All(),
		"default": h.svc.DefaultExpert(),
	})
}

// GetSession returns the caller's session, creating nothing.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Snapshot(r.Context(), refFromRequest(r, channelHTTP))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.view(sess))
}

// GetHistory returns the expert history ledger.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Snapshot(r.Context(), refFromRequest(r, channelHTTP))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"history": sess.Ledger.All()})
}

type turnRequest struct {
	Message string `json:"message"`
}

// SubmitTurn runs one turn for the posted message. A pending expert
// suggestion is returned with action "await_choice".
func (h *ChatHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r, channelHTTP)
	if !h.allow(w, ref) {
		return
	}
	var req turnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.Submit(r.Context(), ref, req.Message)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

type choiceRequest struct {
	Choice string `json:"choice"`
}

// SubmitChoice answers a pending expert suggestion.
func (h *ChatHandler) SubmitChoice(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r, channelHTTP)
	if !h.allow(w, ref) {
		return
	}
	var req choiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := selection.ParseChoice(req.Choice)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.Choose(r.Context(), ref, c)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

type switchRequest struct {
	Expert string `json:"expert"`
	// PreserveContext defaults to true when omitted.
	PreserveContext *bool `json:"preserve_context"`
}

// SwitchExpert changes the expert on user request.
func (h *ChatHandler) SwitchExpert(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	preserve := req.PreserveContext == nil || *req.PreserveContext
	info, err := h.svc.SwitchExpert(r.Context(), refFromRequest(r, channelHTTP), req.Expert, preserve)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"switch": info, "changed": info.From != info.To})
}

// NewConversation restarts the conversation; documents stay attached.
func (h *ChatHandler) NewConversation(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.NewConversation(r.Context(), refFromRequest(r, channelHTTP))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.view(sess))
}

// CleanSession drops messages and documents.
func (h *ChatHandler) CleanSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.CleanSession(r.Context(), refFromRequest(r, channelHTTP))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.view(sess))
}

// ListDocuments returns verification summaries for attached documents.
func (h *ChatHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Snapshot(r.Context(), refFromRequest(r, channelHTTP))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"documents": summaries(sess.Conversation.DocumentList())})
}

type documentRequest struct {
	Name   string `json:"name"`
	Text   string `json:"text"`
	Format string `json:"format"`
}

// AttachDocument stores already-extracted document text.
func (h *ChatHandler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc := domain.Document{Name: strings.TrimSpace(req.Name), Text: req.Text, Format: req.Format, AddedAt: time.Now()}
	if err := h.svc.AttachDocument(r.Context(), refFromRequest(r, channelHTTP), doc); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, doc.Summary())
}

// RemoveDocument detaches a document by name.
func (h *ChatHandler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid document name")
		return
	}
	if err := h.svc.RemoveDocument(r.Context(), refFromRequest(r, channelHTTP), name); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
