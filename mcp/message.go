package mcp

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JSONRPCVersion is the protocol version sent in every envelope
const JSONRPCVersion = "2.0"

// ProtocolVersion is the MCP protocol revision announced in initialize
const ProtocolVersion = "2024-11-05"

//go:generate mockgen -source=message.go -destination=../mocks/mockmcp/invoker_mock.gen.go -package mockmcp

// Invoker is the single operation consumed by skill handlers.
type Invoker interface {
	// Invoke calls the remote tool and returns its decoded result.
	// The returned error can be classified with errors.Is against
	// ErrCircuitOpen, ErrTimeout, ErrTransport, ErrTool and friends.
	Invoke(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, toolName string, args map[string]any) (any, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	return f(ctx, toolName, args)
}

// Request is an outgoing JSON-RPC request
type Request struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest returns a JSON-RPC 2.0 request
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		Jsonrpc: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is an incoming JSON-RPC response.
// Exactly one of Result or Error is expected to be set.
type Response struct {
	Jsonrpc string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`

	// Accepted is set when the request was sent without waiting for a response
	Accepted bool `json:"-"`
}

// IsResponse returns true if the payload carries an id and a result or error
func (r *Response) IsResponse() bool {
	return r != nil && r.ID != nil && (len(r.Result) > 0 || len(r.Error) > 0)
}

// HasError returns true if the server returned an error member
func (r *Response) HasError() bool {
	return len(r.Error) > 0 && string(r.Error) != "null"
}

// ToolError returns the error member decoded as ToolError, or nil
func (r *Response) ToolError() *ToolError {
	if !r.HasError() {
		return nil
	}
	return NewToolError(r.Error)
}

// ParseResponse decodes a single event payload.
// It returns false if the payload is not a JSON object with an id and
// a result or error member.
func ParseResponse(data []byte) (*Response, bool, error) {
	r := new(Response)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, false, err
	}
	return r, r.IsResponse(), nil
}

// ToolInfo describes a tool offered by the server
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// DecodeToolList decodes the result of a tools/list request
func DecodeToolList(raw json.RawMessage) ([]ToolInfo, error) {
	var res struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "failed to decode tools list")
	}
	return res.Tools, nil
}
