package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	otelad "github.com/Kestr3l/ChatRelay/internal/adapter/otel"
	"github.com/Kestr3l/ChatRelay/internal/adapter/ws"
	"github.com/Kestr3l/ChatRelay/internal/config"
	"github.com/Kestr3l/ChatRelay/internal/domain"
	"github.com/Kestr3l/ChatRelay/internal/domain/chat"
	"github.com/Kestr3l/ChatRelay/internal/domain/run"
	"github.com/Kestr3l/ChatRelay/internal/domain/tool"
	"github.com/Kestr3l/ChatRelay/internal/port/broadcast"
	"github.com/Kestr3l/ChatRelay/internal/port/events"
	"github.com/Kestr3l/ChatRelay/internal/port/runtime"
	"github.com/Kestr3l/ChatRelay/internal/port/transcript"
)

// NoToolsResponse is returned without creating a run when the catalog is
// empty: dispatch without tools is meaningless.
const NoToolsResponse = "No MCP tools are configured, so I cannot look anything up right now. " +
	"Enable at least one tool and try again."

// cleanupTimeout bounds best-effort deletion of transient runtime resources,
// including on the cancellation path.
const cleanupTimeout = 5 * time.Second

// Orchestrator drives one conversational turn at a time through the external
// runtime's run state machine. Each turn is strictly sequential; concurrent
// turns are independent, sharing only the read-only catalog and the stateless
// normalizer and invoker.
type Orchestrator struct {
	catalog    *tool.Catalog
	normalizer *Normalizer
	invoker    *Invoker
	rt         runtime.ConversationRuntime
	store      transcript.Store      // optional
	hub        broadcast.Broadcaster // optional
	publisher  events.Publisher      // optional
	metrics    *otelad.Metrics       // optional
	cfg        *config.Agent
}

// NewOrchestrator creates an Orchestrator with all dependencies.
// store, hub, publisher, and metrics may be nil.
func NewOrchestrator(
	catalog *tool.Catalog,
	normalizer *Normalizer,
	invoker *Invoker,
	rt runtime.ConversationRuntime,
	cfg *config.Agent,
) *Orchestrator {
	return &Orchestrator{
		catalog:    catalog,
		normalizer: normalizer,
		invoker:    invoker,
		rt:         rt,
		cfg:        cfg,
	}
}

// SetTranscriptStore enables best-effort turn persistence.
func (o *Orchestrator) SetTranscriptStore(s transcript.Store) { o.store = s }

// SetBroadcaster enables real-time status events for connected clients.
func (o *Orchestrator) SetBroadcaster(b broadcast.Broadcaster) { o.hub = b }

// SetEventPublisher enables run lifecycle event publishing.
func (o *Orchestrator) SetEventPublisher(p events.Publisher) { o.publisher = p }

// SetMetrics enables metric instruments.
func (o *Orchestrator) SetMetrics(m *otelad.Metrics) { o.metrics = m }

// RunTurn submits the user message, drives the run to a terminal status, and
// returns the extracted answer. The caller's cancellation propagates into
// every poll, submit, and invoke; transient runtime resources are released on
// all paths.
func (o *Orchestrator) RunTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	if o.catalog.Len() == 0 {
		slog.Info("turn short-circuited: no tools configured", "thread_id", req.ThreadID)
		return &chat.TurnResult{Text: NoToolsResponse, ThreadID: req.ThreadID}, nil
	}

	threadID := req.ThreadID
	if threadID == "" {
		var err error
		threadID, err = o.rt.CreateThread(ctx)
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
	}

	agentID, err := o.rt.CreateAgent(ctx, o.catalog.List())
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	defer func() {
		// Detached context so cleanup also runs when the caller cancels.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if delErr := o.rt.DeleteAgent(cleanupCtx, agentID); delErr != nil {
			slog.Warn("delete transient agent failed", "agent_id", agentID, "error", delErr)
		}
	}()

	started := time.Now()
	r, err := o.rt.CreateRun(ctx, threadID, agentID, req.Message)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	ctx, span := otelad.StartRunSpan(ctx, r.ID, threadID)
	defer span.End()

	o.recordRunStarted(ctx)
	o.broadcastRunStatus(ctx, r)
	o.publishRunEvent(ctx, events.SubjectRunStarted, r, 0, 0)

	toolCalls, err := o.pollToTerminal(ctx, r, req.AutoApprove)
	duration := time.Since(started)
	if err != nil {
		o.recordRunFailed(ctx, r, duration)
		o.publishRunEvent(ctx, events.SubjectRunFailed, r, toolCalls, duration.Milliseconds())
		return nil, err
	}

	msgs, err := o.rt.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	text, citations := Extract(msgs)

	result := &chat.TurnResult{
		Text:      text,
		Citations: citations,
		ThreadID:  threadID,
	}

	o.recordRunCompleted(ctx, r, duration)
	o.broadcastRunStatus(ctx, r)
	o.publishRunEvent(ctx, events.SubjectRunCompleted, r, toolCalls, duration.Milliseconds())
	o.persistTurn(ctx, threadID, req.Message, result)

	slog.Info("turn completed",
		"run_id", r.ID,
		"thread_id", threadID,
		"tool_calls", toolCalls,
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

// pollToTerminal drives the run through the poll loop until it completes or
// fails, resolving requires_action batches along the way. Returns the total
// number of tool calls resolved.
func (o *Orchestrator) pollToTerminal(ctx context.Context, r *run.Run, autoApprove bool) (int, error) {
	toolCalls := 0

	for polls := 0; polls < o.cfg.MaxPolls; polls++ {
		switch r.Status {
		case run.StatusCompleted:
			return toolCalls, nil

		case run.StatusFailed:
			msg := r.LastError
			if msg == "" {
				msg = "run failed without a reported error"
			}
			return toolCalls, fmt.Errorf("%w: %s", domain.ErrUpstream, msg)

		case run.StatusRequiresAction:
			results, err := o.resolveBatch(ctx, r, autoApprove)
			if err != nil {
				return toolCalls, err
			}
			toolCalls += len(results)
			// Submission of the full batch strictly precedes the next poll.
			if err := o.rt.SubmitToolOutputs(ctx, r.ThreadID, r.ID, results); err != nil {
				return toolCalls, fmt.Errorf("submit tool outputs: %w", err)
			}

		case run.StatusQueued, run.StatusInProgress:
			if err := o.wait(ctx); err != nil {
				return toolCalls, err
			}
		}

		next, err := o.rt.PollRun(ctx, r.ThreadID, r.ID)
		if err != nil {
			return toolCalls, fmt.Errorf("poll run: %w", err)
		}
		changed := next.Status != r.Status
		*r = *next
		if changed {
			o.broadcastRunStatus(ctx, r)
		}
	}

	return toolCalls, fmt.Errorf("%w: run %s did not reach a terminal status within %d polls",
		domain.ErrUpstream, r.ID, o.cfg.MaxPolls)
}

// resolveBatch resolves every pending call of a requires_action batch
// independently and returns exactly one result per call id. Per-call failures
// become failure payloads, never orchestrator errors; only cancellation
// aborts the batch.
func (o *Orchestrator) resolveBatch(ctx context.Context, r *run.Run, autoApprove bool) ([]run.ToolCallResult, error) {
	calls := r.PendingCalls
	results := make([]run.ToolCallResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = o.resolveCall(gctx, r.ID, call, autoApprove)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolveCall normalizes and invokes one pending call. Unknown tool names are
// deliberately not rejected here: the invoker reports them through the same
// failure-payload channel, since some deployments under-register tools
// visible to the model.
func (o *Orchestrator) resolveCall(ctx context.Context, runID string, call run.ToolCallRequest, autoApprove bool) run.ToolCallResult {
	o.broadcastToolCall(ctx, runID, call, "started")

	ctx, span := otelad.StartToolCallSpan(ctx, call.CallID, call.Tool)
	defer span.End()

	var output json.RawMessage
	if !autoApprove {
		output = run.Failure(call.Tool,
			"tool call was not approved",
			"Resend the request with autoApprove set to true to allow tool execution.")
	} else if normalized, err := o.normalizer.Normalize(call.Tool, call.Arguments); err != nil {
		output = run.Failure(call.Tool, err.Error(), "Provide the tool arguments as a JSON object.")
	} else {
		output = o.invoker.Invoke(ctx, call.Tool, normalized)
	}

	o.broadcastToolCall(ctx, runID, call, "resolved")
	return run.ToolCallResult{CallID: call.CallID, Output: string(output)}
}

// wait suspends between polls, honoring cancellation.
func (o *Orchestrator) wait(ctx context.Context) error {
	timer := time.NewTimer(o.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// persistTurn stores the user and assistant messages. Best-effort: storage
// failures are logged, not surfaced.
func (o *Orchestrator) persistTurn(ctx context.Context, threadID, message string, result *chat.TurnResult) {
	if o.store == nil {
		return
	}
	if err := o.store.EnsureThread(ctx, threadID); err != nil {
		slog.Error("persist thread failed", "thread_id", threadID, "error", err)
		return
	}
	if err := o.store.AppendMessage(ctx, &chat.Message{
		ThreadID: threadID,
		Role:     "user",
		Content:  message,
	}); err != nil {
		slog.Error("persist user message failed", "thread_id", threadID, "error", err)
	}
	if err := o.store.AppendMessage(ctx, &chat.Message{
		ThreadID:  threadID,
		Role:      "assistant",
		Content:   result.Text,
		Citations: result.Citations,
	}); err != nil {
		slog.Error("persist assistant message failed", "thread_id", threadID, "error", err)
	}
}

func (o *Orchestrator) broadcastRunStatus(ctx context.Context, r *run.Run) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastEvent(ctx, ws.EventRunStatus, ws.RunStatusEvent{
		RunID:    r.ID,
		ThreadID: r.ThreadID,
		Status:   string(r.Status),
	})
}

func (o *Orchestrator) broadcastToolCall(ctx context.Context, runID string, call run.ToolCallRequest, phase string) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastEvent(ctx, ws.EventToolCall, ws.ToolCallEvent{
		RunID:  runID,
		CallID: call.CallID,
		Tool:   call.Tool,
		Phase:  phase,
	})
}

func (o *Orchestrator) publishRunEvent(ctx context.Context, subject string, r *run.Run, toolCalls int, durationMS int64) {
	if o.publisher == nil {
		return
	}
	data, err := json.Marshal(events.RunEvent{
		RunID:      r.ID,
		ThreadID:   r.ThreadID,
		Status:     string(r.Status),
		ToolCalls:  toolCalls,
		DurationMS: durationMS,
		Error:      r.LastError,
	})
	if err != nil {
		slog.Error("marshal run event", "error", err)
		return
	}
	if err := o.publisher.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish run event failed", "subject", subject, "error", err)
	}
}

func (o *Orchestrator) recordRunStarted(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunsStarted.Add(ctx, 1)
}

func (o *Orchestrator) recordRunCompleted(ctx context.Context, r *run.Run, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(r.Status)),
	))
	o.metrics.RunDuration.Record(ctx, d.Seconds())
}

func (o *Orchestrator) recordRunFailed(ctx context.Context, r *run.Run, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(r.Status)),
	))
	o.metrics.RunDuration.Record(ctx, d.Seconds())
}
