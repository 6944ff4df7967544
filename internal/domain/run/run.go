// Package run defines the state-machine view of a single conversational turn
// driven against the external conversation runtime.
package run

import "encoding/json"

// Status represents the runtime-reported state of a run.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal reports whether the status ends the poll loop.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is the orchestrator's view of one turn. It is created when a message is
// submitted and mutated only by polling or submitting tool outputs.
type Run struct {
	ID           string            `json:"id"`
	ThreadID     string            `json:"thread_id"`
	Status       Status            `json:"status"`
	PendingCalls []ToolCallRequest `json:"pending_calls,omitempty"` // set while requires_action
	LastError    string            `json:"last_error,omitempty"`    // set when failed
}

// ToolCallRequest is one pending invocation surfaced by the runtime mid-run.
// Exactly one output must be submitted per CallID before the run can proceed.
type ToolCallRequest struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResult pairs a pending call's identifier with its serialized
// outcome. Output is always JSON: either the tool's result or a ToolFailure.
type ToolCallResult struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ToolFailure is the structured failure payload fed back to the model through
// the tool-output channel. Invocation failures never abort the run; the model
// is expected to read success=false and react in natural language.
type ToolFailure struct {
	Success  bool   `json:"success"`
	Function string `json:"function"`
	Error    string `json:"error"`
	HowToFix string `json:"howToFix,omitempty"`
}

// Failure serializes a ToolFailure payload for the given tool.
func Failure(function, errMsg, howToFix string) json.RawMessage {
	data, err := json.Marshal(ToolFailure{
		Success:  false,
		Function: function,
		Error:    errMsg,
		HowToFix: howToFix,
	})
	if err != nil {
		// All fields are plain strings; marshal cannot fail.
		panic(err)
	}
	return data
}

// Message is one entry of the terminal conversation state, oldest first.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

// ContentItem is a textual content fragment with optional citation annotations.
type ContentItem struct {
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotation is a structured citation attached to a content item.
type Annotation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
