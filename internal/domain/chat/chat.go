// Package chat defines the caller-facing turn types and persisted transcript entities.
package chat

import "time"

// TurnRequest is one inbound chat turn.
type TurnRequest struct {
	Message     string `json:"message"`
	ThreadID    string `json:"thread_id,omitempty"`
	AutoApprove bool   `json:"auto_approve"`
}

// TurnResult is the final answer for a turn. ThreadID is returned so the
// caller can correlate follow-up turns; it is opaque to this service.
type TurnResult struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	ThreadID  string     `json:"thread_id"`
}

// Citation is one source reference extracted from the terminal run state.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Thread is a persisted conversation handle.
type Thread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted transcript entry.
type Message struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
