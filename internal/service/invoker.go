package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/Kestr3l/ChatRelay/internal/adapter/otel"
	"github.com/Kestr3l/ChatRelay/internal/domain/run"
	"github.com/Kestr3l/ChatRelay/internal/port/cache"
	"github.com/Kestr3l/ChatRelay/internal/port/gateway"
	"github.com/Kestr3l/ChatRelay/internal/resilience"
)

// howToFixToken names the exact configuration needed when the gateway
// credential is absent. Kept stable: other layers pattern-match the phrase.
const howToFixToken = "Set the " + gateway.TokenEnv + " environment variable " +
	"(or gateway.token in chatrelay.yaml) to a gateway bearer token."

// Invoker issues outbound tool calls against the MCP gateway. Invocation
// failures are never returned as errors: they are serialized into the same
// JSON result channel the model consumes, because the run protocol expects
// exactly one output per pending call regardless of outcome.
type Invoker struct {
	gw       gateway.Gateway
	breaker  *resilience.Breaker
	cache    cache.Cache // optional
	cacheTTL time.Duration
	metrics  *otelad.Metrics // optional
}

// NewInvoker creates an Invoker. cache and metrics may be nil.
func NewInvoker(gw gateway.Gateway, breaker *resilience.Breaker, c cache.Cache, cacheTTL time.Duration, metrics *otelad.Metrics) *Invoker {
	return &Invoker{
		gw:       gw,
		breaker:  breaker,
		cache:    c,
		cacheTTL: cacheTTL,
		metrics:  metrics,
	}
}

// Invoke executes the named tool with normalized arguments and always returns
// a JSON payload: the tool result on success, a run.ToolFailure otherwise.
// One log entry is emitted per call with the tool name and outcome; raw
// arguments and credential values are never logged.
func (v *Invoker) Invoke(ctx context.Context, toolName string, args json.RawMessage) json.RawMessage {
	if !v.gw.HasCredential() {
		v.record(ctx, toolName, "missing_credential")
		slog.Warn("tool call rejected", "tool", toolName, "status", "missing_credential")
		return run.Failure(toolName,
			fmt.Sprintf("missing %s: no bearer credential is configured for the MCP gateway", gateway.TokenEnv),
			howToFixToken,
		)
	}

	key := cacheKey(toolName, args)
	if v.cache != nil {
		if data, ok, err := v.cache.Get(ctx, key); err == nil && ok {
			slog.Debug("tool call served from cache", "tool", toolName)
			return data
		}
	}

	var result []byte
	err := v.breaker.Execute(func() error {
		var callErr error
		result, callErr = v.gw.CallTool(ctx, toolName, args)
		return callErr
	})

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		v.record(ctx, toolName, "circuit_open")
		slog.Warn("tool call rejected", "tool", toolName, "status", "circuit_open")
		return run.Failure(toolName,
			"mcp gateway circuit is open after repeated failures",
			"Wait for the gateway to recover, then retry.",
		)
	case err != nil:
		v.record(ctx, toolName, "error")
		slog.Error("tool call failed", "tool", toolName, "status", "error", "error", err)
		return run.Failure(toolName, err.Error(), "")
	}

	// The run protocol consumes JSON; wrap plain-text gateway results.
	if !json.Valid(result) {
		wrapped, merr := json.Marshal(map[string]string{"result": string(result)})
		if merr != nil {
			return run.Failure(toolName, fmt.Sprintf("encode gateway result: %v", merr), "")
		}
		result = wrapped
	}

	if v.cache != nil {
		_ = v.cache.Set(ctx, key, result, v.cacheTTL)
	}

	v.record(ctx, toolName, "ok")
	slog.Info("tool call completed", "tool", toolName, "status", "ok")
	return result
}

func (v *Invoker) record(ctx context.Context, toolName, status string) {
	if v.metrics == nil {
		return
	}
	v.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("status", status),
	))
	if status != "ok" {
		v.metrics.ToolCallFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", toolName),
			attribute.String("status", status),
		))
	}
}

func cacheKey(toolName string, args json.RawMessage) string {
	return "tool:" + toolName + ":" + string(args)
}
