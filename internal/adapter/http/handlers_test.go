package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Kestr3l/ChatRelay/internal/domain"
	"github.com/Kestr3l/ChatRelay/internal/domain/chat"
	"github.com/Kestr3l/ChatRelay/internal/domain/tool"
)

type fakeRunner struct {
	result  *chat.TurnResult
	err     error
	lastReq chat.TurnRequest
}

func (f *fakeRunner) RunTurn(_ context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeStore struct {
	msgs []chat.Message
	err  error
}

func (f *fakeStore) EnsureThread(context.Context, string) error       { return nil }
func (f *fakeStore) AppendMessage(context.Context, *chat.Message) error { return nil }
func (f *fakeStore) ListMessages(context.Context, string) ([]chat.Message, error) {
	return f.msgs, f.err
}

func newTestRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()
	MountRoutes(r, h)
	return r
}

func TestHandleChatSuccess(t *testing.T) {
	runner := &fakeRunner{result: &chat.TurnResult{
		Text:      "answer",
		Citations: []chat.Citation{{Title: "t", URL: "u"}},
		ThreadID:  "thread-1",
	}}
	r := newTestRouter(NewHandlers(runner, tool.Default(), nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"hello"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Text != "answer" || resp.ThreadID != "thread-1" {
		t.Errorf("resp = %+v", resp)
	}
	if !runner.lastReq.AutoApprove {
		t.Error("auto_approve should default to true")
	}
}

func TestHandleChatAutoApproveOverride(t *testing.T) {
	runner := &fakeRunner{result: &chat.TurnResult{Text: "x"}}
	r := newTestRouter(NewHandlers(runner, tool.Default(), nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"hello","auto_approve":false}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if runner.lastReq.AutoApprove {
		t.Error("auto_approve=false was not passed through")
	}
}

func TestHandleChatErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", fmt.Errorf("%w: message is required", domain.ErrValidation), http.StatusBadRequest},
		{"upstream", fmt.Errorf("%w: run failed", domain.ErrUpstream), http.StatusBadGateway},
		{"unavailable", fmt.Errorf("%w: gateway down", domain.ErrUnavailable), http.StatusServiceUnavailable},
		{"not found", fmt.Errorf("%w: thread", domain.ErrNotFound), http.StatusNotFound},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(NewHandlers(&fakeRunner{err: tt.err}, tool.Default(), nil))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
				strings.NewReader(`{"message":"hello"}`))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleChatInvalidBody(t *testing.T) {
	r := newTestRouter(NewHandlers(&fakeRunner{}, tool.Default(), nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleListTools(t *testing.T) {
	r := newTestRouter(NewHandlers(&fakeRunner{}, tool.Default(), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Tools []tool.Tool `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Tools) != 3 {
		t.Errorf("tools = %d, want 3", len(resp.Tools))
	}
	if resp.Tools[0].Name != "search_repositories" {
		t.Errorf("first tool = %q", resp.Tools[0].Name)
	}
}

func TestHandleThreadMessages(t *testing.T) {
	store := &fakeStore{msgs: []chat.Message{
		{ID: "m1", ThreadID: "thread-1", Role: "user", Content: "hi"},
	}}
	r := newTestRouter(NewHandlers(&fakeRunner{}, tool.Default(), store))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/thread-1/messages", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"thread-1"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestHandleThreadMessagesPersistenceDisabled(t *testing.T) {
	r := newTestRouter(NewHandlers(&fakeRunner{}, tool.Default(), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads/thread-1/messages", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
