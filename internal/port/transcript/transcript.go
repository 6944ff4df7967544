// Package transcript defines the port for persisting chat turns.
package transcript

import (
	"context"

	"github.com/Kestr3l/ChatRelay/internal/domain/chat"
)

// Store persists threads and their messages.
type Store interface {
	// EnsureThread creates the thread row if absent and touches updated_at.
	EnsureThread(ctx context.Context, id string) error

	// AppendMessage appends one transcript entry to its thread.
	AppendMessage(ctx context.Context, m *chat.Message) error

	// ListMessages returns a thread's messages oldest first.
	ListMessages(ctx context.Context, threadID string) ([]chat.Message, error)
}
