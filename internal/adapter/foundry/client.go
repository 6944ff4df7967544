// Package foundry implements the conversation runtime port against an
// agents REST API (threads, assistants, runs, messages).
package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Kestr3l/ChatRelay/internal/config"
	"github.com/Kestr3l/ChatRelay/internal/domain"
	"github.com/Kestr3l/ChatRelay/internal/domain/run"
	"github.com/Kestr3l/ChatRelay/internal/domain/tool"
)

// Client talks to the agent service's REST API.
type Client struct {
	endpoint     string
	apiKey       string
	model        string
	instructions string
	httpClient   *http.Client
}

// New creates a runtime client from configuration.
func New(cfg config.Runtime) *Client {
	return &Client{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		instructions: cfg.Instructions,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// CreateThread allocates a new conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/threads", []byte("{}"))
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("unmarshal thread: %w", err)
	}
	return out.ID, nil
}

// CreateAgent allocates a transient assistant advertising the given tools.
func (c *Client) CreateAgent(ctx context.Context, tools []tool.Tool) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":        c.model,
		"instructions": c.instructions,
		"tools":        toolDefinitions(tools),
	})
	if err != nil {
		return "", fmt.Errorf("marshal agent: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/assistants", body)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("unmarshal agent: %w", err)
	}
	return out.ID, nil
}

// DeleteAgent releases a transient assistant. A 404 is treated as success.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/assistants/"+agentID, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

// CreateRun appends the user message to the thread and starts a run.
func (c *Client) CreateRun(ctx context.Context, threadID, agentID, message string) (*run.Run, error) {
	msgBody, err := json.Marshal(map[string]string{
		"role":    "user",
		"content": message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/threads/"+threadID+"/messages", msgBody); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	runBody, err := json.Marshal(map[string]string{
		"assistant_id": agentID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/threads/"+threadID+"/runs", runBody)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return parseRun(resp, threadID)
}

// PollRun fetches the current state of a run.
func (c *Client) PollRun(ctx context.Context, threadID, runID string) (*run.Run, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil)
	if err != nil {
		return nil, fmt.Errorf("poll run %s: %w", runID, err)
	}
	return parseRun(resp, threadID)
}

// SubmitToolOutputs submits the full batch of outputs for a requires_action run.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []run.ToolCallResult) error {
	type wireOutput struct {
		ToolCallID string `json:"tool_call_id"`
		Output     string `json:"output"`
	}
	wire := make([]wireOutput, len(outputs))
	for i, o := range outputs {
		wire[i] = wireOutput{ToolCallID: o.CallID, Output: o.Output}
	}

	body, err := json.Marshal(map[string]any{"tool_outputs": wire})
	if err != nil {
		return fmt.Errorf("marshal tool outputs: %w", err)
	}
	path := "/threads/" + threadID + "/runs/" + runID + "/submit_tool_outputs"
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("submit tool outputs: %w", err)
	}
	return nil
}

// ListMessages returns the thread's messages oldest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]run.Message, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/threads/"+threadID+"/messages?order=asc", nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var out struct {
		Data []wireMessage `json:"data"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}

	msgs := make([]run.Message, 0, len(out.Data))
	for _, wm := range out.Data {
		msgs = append(msgs, wm.toDomain())
	}
	return msgs, nil
}

// wireMessage mirrors the runtime's message shape.
type wireMessage struct {
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text struct {
			Value       string `json:"value"`
			Annotations []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"annotations"`
		} `json:"text"`
	} `json:"content"`
}

func (wm wireMessage) toDomain() run.Message {
	msg := run.Message{Role: wm.Role}
	for _, item := range wm.Content {
		if item.Type != "" && item.Type != "text" {
			continue
		}
		ci := run.ContentItem{Text: item.Text.Value}
		for _, a := range item.Text.Annotations {
			ci.Annotations = append(ci.Annotations, run.Annotation{Title: a.Title, URL: a.URL})
		}
		msg.Content = append(msg.Content, ci)
	}
	return msg
}

// parseRun converts a wire run into the domain view, folding the runtime's
// extra terminal states (cancelled, expired) into failed.
func parseRun(data []byte, threadID string) (*run.Run, error) {
	var wire struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		LastError      *struct {
			Message string `json:"message"`
		} `json:"last_error"`
		RequiredAction *struct {
			SubmitToolOutputs struct {
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"submit_tool_outputs"`
		} `json:"required_action"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}

	r := &run.Run{ID: wire.ID, ThreadID: threadID}

	switch wire.Status {
	case "queued":
		r.Status = run.StatusQueued
	case "in_progress":
		r.Status = run.StatusInProgress
	case "requires_action":
		r.Status = run.StatusRequiresAction
	case "completed":
		r.Status = run.StatusCompleted
	case "failed", "cancelled", "cancelling", "expired", "incomplete":
		r.Status = run.StatusFailed
		r.LastError = "run ended with status " + wire.Status
	default:
		return nil, fmt.Errorf("%w: unknown run status %q", domain.ErrUpstream, wire.Status)
	}

	if wire.LastError != nil && wire.LastError.Message != "" {
		r.LastError = wire.LastError.Message
	}

	if r.Status == run.StatusRequiresAction && wire.RequiredAction != nil {
		for _, tc := range wire.RequiredAction.SubmitToolOutputs.ToolCalls {
			r.PendingCalls = append(r.PendingCalls, run.ToolCallRequest{
				CallID:    tc.ID,
				Tool:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	return r, nil
}

// toolDefinitions converts the catalog's tools into the runtime's function
// definition shape.
func toolDefinitions(tools []tool.Tool) []map[string]any {
	defs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Params))
		var required []string
		for name, p := range t.Params {
			props[name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, name)
			}
		}
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters": map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return defs
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("runtime API error %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode, body: string(data)}
	}
	return data, nil
}
