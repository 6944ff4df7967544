// Package mcpgw connects to the remote MCP gateway that fronts the GitHub
// tools. It speaks the streamable HTTP transport and authenticates with a
// bearer token.
package mcpgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/Kestr3l/ChatRelay/internal/config"
)

// Client implements the gateway.Gateway port over mcp-go's streamable HTTP
// client. The MCP handshake is deferred to the first tool call so the relay
// can start even when the gateway is briefly unreachable.
type Client struct {
	url     string
	token   string
	timeout time.Duration

	mu          sync.Mutex
	client      *mcpclient.Client
	initialized bool
}

// New creates a gateway client. The token may be empty; callers are expected
// to consult HasCredential before invoking tools.
func New(cfg config.Gateway) *Client {
	return &Client{url: cfg.URL, token: cfg.Token, timeout: cfg.Timeout}
}

// HasCredential reports whether a bearer token is configured.
func (c *Client) HasCredential() bool {
	return c.token != ""
}

// CallTool invokes a named tool on the gateway and returns the concatenated
// text content of the result.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	client, err := c.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("decode tool arguments: %w", err)
		}
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := client.CallTool(ctx, req)
	if err != nil {
		// Force a fresh handshake next time; the session may be gone.
		c.reset()
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	text := flattenText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return nil, errors.New(text)
	}
	return []byte(text), nil
}

// Close terminates the MCP session if one was established.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.initialized = false
	return err
}

// ensureClient lazily creates the transport and performs the Initialize
// handshake exactly once per session.
func (c *Client) ensureClient(ctx context.Context) (*mcpclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return c.client, nil
	}

	if c.client == nil {
		var opts []transport.StreamableHTTPCOption
		if c.token != "" {
			opts = append(opts, transport.WithHTTPHeaders(map[string]string{
				"Authorization": "Bearer " + c.token,
			}))
		}
		client, err := mcpclient.NewStreamableHttpClient(c.url, opts...)
		if err != nil {
			return nil, fmt.Errorf("create mcp client: %w", err)
		}
		c.client = client
	}

	if err := c.client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp transport: %w", err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "chatrelay",
		Version: "1.0.0",
	}
	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}

	c.initialized = true
	return c.client, nil
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	c.initialized = false
}

// flattenText concatenates all text content items of a tool result.
func flattenText(content []mcpprotocol.Content) string {
	var sb strings.Builder
	for _, item := range content {
		if text, ok := item.(mcpprotocol.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}
