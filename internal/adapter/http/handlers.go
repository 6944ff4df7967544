package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kestr3l/ChatRelay/internal/domain/chat"
	"github.com/Kestr3l/ChatRelay/internal/domain/tool"
	"github.com/Kestr3l/ChatRelay/internal/port/transcript"
)

// TurnRunner drives one conversational turn to completion.
type TurnRunner interface {
	RunTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	runner  TurnRunner
	catalog *tool.Catalog
	store   transcript.Store // nil when persistence is disabled
}

// NewHandlers creates the handler set. store may be nil.
func NewHandlers(runner TurnRunner, catalog *tool.Catalog, store transcript.Store) *Handlers {
	return &Handlers{runner: runner, catalog: catalog, store: store}
}

type chatRequest struct {
	Message     string `json:"message"`
	ThreadID    string `json:"thread_id,omitempty"`
	AutoApprove *bool  `json:"auto_approve,omitempty"` // defaults to true
}

type chatResponse struct {
	Text      string          `json:"text"`
	Citations []chat.Citation `json:"citations,omitempty"`
	ThreadID  string          `json:"thread_id"`
}

// HandleChat runs one conversational turn.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chatRequest](w, r)
	if !ok {
		return
	}

	autoApprove := true
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}

	result, err := h.runner.RunTurn(r.Context(), chat.TurnRequest{
		Message:     req.Message,
		ThreadID:    req.ThreadID,
		AutoApprove: autoApprove,
	})
	if err != nil {
		writeDomainError(w, err, "turn failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Text:      result.Text,
		Citations: result.Citations,
		ThreadID:  result.ThreadID,
	})
}

// HandleListTools returns the advertised tool catalog.
func (h *Handlers) HandleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": h.catalog.List(),
	})
}

// HandleThreadMessages returns a thread's persisted transcript.
func (h *Handlers) HandleThreadMessages(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "transcript persistence is disabled")
		return
	}

	threadID := chi.URLParam(r, "id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "thread id is required")
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), threadID)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  msgs,
	})
}
