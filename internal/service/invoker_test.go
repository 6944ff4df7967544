package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kestr3l/ChatRelay/internal/port/gateway"
	"github.com/Kestr3l/ChatRelay/internal/resilience"
)

// fakeGateway is a scriptable gateway.Gateway.
type fakeGateway struct {
	mu         sync.Mutex
	credential bool
	result     []byte
	err        error
	calls      int
}

func (f *fakeGateway) CallTool(_ context.Context, _ string, _ json.RawMessage) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeGateway) HasCredential() bool { return f.credential }

// memCache is a minimal cache.Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func decodeFailure(t *testing.T, payload json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("failure payload is not JSON: %v", err)
	}
	if out["success"] != false {
		t.Fatalf("payload success = %v, want false", out["success"])
	}
	return out
}

func TestInvokeMissingCredential(t *testing.T) {
	gw := &fakeGateway{credential: false}
	inv := NewInvoker(gw, resilience.NewBreaker(5, time.Second), nil, 0, nil)

	out := inv.Invoke(context.Background(), "list_issues", json.RawMessage(`{}`))

	failure := decodeFailure(t, out)
	errMsg, _ := failure["error"].(string)
	if !strings.Contains(errMsg, "missing") {
		t.Errorf("error %q does not mention the credential is missing", errMsg)
	}
	if !strings.Contains(errMsg, gateway.TokenEnv) {
		t.Errorf("error %q does not name %s", errMsg, gateway.TokenEnv)
	}
	howToFix, _ := failure["howToFix"].(string)
	if !strings.Contains(howToFix, gateway.TokenEnv) {
		t.Errorf("howToFix %q does not name %s", howToFix, gateway.TokenEnv)
	}
	if failure["function"] != "list_issues" {
		t.Errorf("function = %v, want list_issues", failure["function"])
	}
	if gw.calls != 0 {
		t.Errorf("gateway was called %d times, want 0", gw.calls)
	}
}

func TestInvokeGatewayError(t *testing.T) {
	gw := &fakeGateway{credential: true, err: errors.New("upstream exploded")}
	inv := NewInvoker(gw, resilience.NewBreaker(5, time.Second), nil, 0, nil)

	out := inv.Invoke(context.Background(), "get_file_contents", json.RawMessage(`{}`))

	failure := decodeFailure(t, out)
	if failure["error"] != "upstream exploded" {
		t.Errorf("error = %v", failure["error"])
	}
}

func TestInvokeCircuitOpen(t *testing.T) {
	gw := &fakeGateway{credential: true, err: errors.New("down")}
	breaker := resilience.NewBreaker(2, time.Minute)
	inv := NewInvoker(gw, breaker, nil, 0, nil)

	ctx := context.Background()
	inv.Invoke(ctx, "list_issues", json.RawMessage(`{}`))
	inv.Invoke(ctx, "list_issues", json.RawMessage(`{}`))

	// Circuit is now open; the gateway must not be reached.
	before := gw.calls
	out := inv.Invoke(ctx, "list_issues", json.RawMessage(`{}`))

	failure := decodeFailure(t, out)
	errMsg, _ := failure["error"].(string)
	if !strings.Contains(errMsg, "circuit") {
		t.Errorf("error %q does not mention the open circuit", errMsg)
	}
	if gw.calls != before {
		t.Errorf("gateway called while circuit open")
	}
}

func TestInvokeWrapsPlainTextResults(t *testing.T) {
	gw := &fakeGateway{credential: true, result: []byte("plain text, not json")}
	inv := NewInvoker(gw, resilience.NewBreaker(5, time.Second), nil, 0, nil)

	out := inv.Invoke(context.Background(), "get_file_contents", json.RawMessage(`{}`))

	var wrapped map[string]string
	if err := json.Unmarshal(out, &wrapped); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if wrapped["result"] != "plain text, not json" {
		t.Errorf("result = %q", wrapped["result"])
	}
}

func TestInvokePassesThroughJSONResults(t *testing.T) {
	gw := &fakeGateway{credential: true, result: []byte(`{"items":[1,2,3]}`)}
	inv := NewInvoker(gw, resilience.NewBreaker(5, time.Second), nil, 0, nil)

	out := inv.Invoke(context.Background(), "search_repositories", json.RawMessage(`{"query":"cli"}`))
	if string(out) != `{"items":[1,2,3]}` {
		t.Errorf("output = %s", out)
	}
}

func TestInvokeCachesSuccessfulResults(t *testing.T) {
	gw := &fakeGateway{credential: true, result: []byte(`{"ok":true}`)}
	inv := NewInvoker(gw, resilience.NewBreaker(5, time.Second), newMemCache(), time.Minute, nil)

	ctx := context.Background()
	args := json.RawMessage(`{"query":"cli"}`)
	inv.Invoke(ctx, "search_repositories", args)
	inv.Invoke(ctx, "search_repositories", args)

	if gw.calls != 1 {
		t.Errorf("gateway called %d times, want 1 (second call cached)", gw.calls)
	}
}

func TestInvokeDoesNotCacheFailures(t *testing.T) {
	gw := &fakeGateway{credential: true, err: errors.New("transient")}
	inv := NewInvoker(gw, resilience.NewBreaker(10, time.Second), newMemCache(), time.Minute, nil)

	ctx := context.Background()
	args := json.RawMessage(`{"query":"cli"}`)
	inv.Invoke(ctx, "search_repositories", args)
	inv.Invoke(ctx, "search_repositories", args)

	if gw.calls != 2 {
		t.Errorf("gateway called %d times, want 2 (failures must not be cached)", gw.calls)
	}
}
