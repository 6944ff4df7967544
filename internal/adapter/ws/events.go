package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventRunStatus = "run.status"
	EventToolCall  = "toolcall.status"
)

// RunStatusEvent is broadcast when a run's status changes.
type RunStatusEvent struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// ToolCallEvent is broadcast as a pending tool call moves through resolution.
type ToolCallEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
	Phase  string `json:"phase"` // "started" or "resolved"
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
