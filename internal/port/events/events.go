// Package events defines the port for publishing run lifecycle events to
// external consumers. Publishing is best-effort and never blocks a run.
package events

import "context"

// Subjects for run lifecycle events.
const (
	SubjectRunStarted   = "chat.run.started"
	SubjectRunCompleted = "chat.run.completed"
	SubjectRunFailed    = "chat.run.failed"
)

// RunEvent is the payload published on run lifecycle subjects.
type RunEvent struct {
	RunID      string `json:"run_id"`
	ThreadID   string `json:"thread_id"`
	Status     string `json:"status"`
	ToolCalls  int    `json:"tool_calls,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Publisher sends serialized events to the given subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
