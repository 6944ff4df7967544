// Package runtime defines the port for the external conversation runtime:
// the service that generates responses and decides when to call a tool.
package runtime

import (
	"context"

	"github.com/Kestr3l/ChatRelay/internal/domain/run"
	"github.com/Kestr3l/ChatRelay/internal/domain/tool"
)

// ConversationRuntime drives runs against the external agent service.
// All methods are blocking and must honor ctx cancellation.
type ConversationRuntime interface {
	// CreateThread allocates a new conversation thread and returns its handle.
	CreateThread(ctx context.Context) (string, error)

	// CreateAgent allocates a transient agent advertising the given tools.
	// The caller owns its lifetime and must delete it when the run is done.
	CreateAgent(ctx context.Context, tools []tool.Tool) (string, error)

	// DeleteAgent releases a transient agent. Best-effort; idempotent.
	DeleteAgent(ctx context.Context, agentID string) error

	// CreateRun appends the user message to the thread and starts a run.
	CreateRun(ctx context.Context, threadID, agentID, message string) (*run.Run, error)

	// PollRun fetches the current state of a run.
	PollRun(ctx context.Context, threadID, runID string) (*run.Run, error)

	// SubmitToolOutputs submits the full batch of outputs for a
	// requires_action run; exactly one output per pending call id.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []run.ToolCallResult) error

	// ListMessages returns the thread's messages oldest first.
	ListMessages(ctx context.Context, threadID string) ([]run.Message, error)
}
