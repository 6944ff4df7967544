// Package gateway defines the port for the upstream MCP gateway that
// executes named tools on behalf of the model.
package gateway

import (
	"context"
	"encoding/json"
)

// TokenEnv is the environment variable holding the gateway bearer credential.
// Failure payloads reference this name verbatim; tests pattern-match on it.
const TokenEnv = "CHATRELAY_GATEWAY_TOKEN"

// Gateway invokes a named tool with JSON arguments on the upstream MCP server.
type Gateway interface {
	// CallTool executes the tool and returns its raw result (JSON or text).
	CallTool(ctx context.Context, name string, args json.RawMessage) ([]byte, error)

	// HasCredential reports whether a bearer credential is configured.
	HasCredential() bool
}
