package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Error kinds returned by the tool invocation layer.
// Use errors.Is to classify an error returned by Invoke.
var (
	// ErrConnect is returned when the session could not be established.
	// It is safe to retry by calling Connect again.
	ErrConnect = errors.New("mcp: connect failed")
	// ErrTransport is returned when a request could not be delivered.
	ErrTransport = errors.New("mcp: transport failed")
	// ErrTimeout is returned when no response arrived within the deadline.
	ErrTimeout = errors.New("mcp: response timeout")
	// ErrTool is returned when the server reported a tool error.
	ErrTool = errors.New("mcp: tool error")
	// ErrCircuitOpen is returned when the circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("mcp: circuit breaker is open")
	// ErrPoolExhausted is returned when no pooled connection became available in time.
	ErrPoolExhausted = errors.New("mcp: connection pool exhausted")
	// ErrConnectionLost is returned to waiters when the event stream terminates.
	ErrConnectionLost = errors.New("mcp: connection lost")
)

// ConnectError marks err as ErrConnect
func ConnectError(err error) error {
	return errors.Mark(err, ErrConnect)
}

// TransportError marks err as ErrTransport
func TransportError(err error) error {
	return errors.Mark(err, ErrTransport)
}

// ConnectionLostError marks err as ErrConnectionLost
func ConnectionLostError(err error) error {
	return errors.Mark(err, ErrConnectionLost)
}

// CircuitOpenError returns ErrCircuitOpen annotated with the breaker state
func CircuitOpenError(state string) error {
	return errors.Wrapf(ErrCircuitOpen, "state %s", state)
}

// PoolExhaustedError returns ErrPoolExhausted annotated with the pool size
func PoolExhaustedError(size int) error {
	return errors.Wrapf(ErrPoolExhausted, "no connection available out of %d", size)
}

// TimeoutError is returned when a correlated response did not arrive in time.
type TimeoutError struct {
	MessageID int64
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("timeout waiting for response to message %d after %s", e.MessageID, e.Timeout)
	}
	return fmt.Sprintf("timeout waiting for response to message %d", e.MessageID)
}

// Is reports ErrTimeout as the error kind
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ToolError carries the error object returned by the remote tool server.
type ToolError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ToolError) Error() string {
	s := "MCP tool error: " + e.Message
	if e.Code != 0 {
		s = fmt.Sprintf("MCP tool error %d: %s", e.Code, e.Message)
	}
	if len(e.Data) > 0 {
		s += " " + string(e.Data)
	}
	return s
}

// Is reports ErrTool as the error kind
func (e *ToolError) Is(target error) bool {
	return target == ErrTool
}

// NewToolError decodes the raw `error` member of a response.
// Servers that return a bare string or an unexpected shape
// still produce a ToolError with the raw value as the message.
func NewToolError(raw json.RawMessage) *ToolError {
	te := new(ToolError)
	if err := json.Unmarshal(raw, te); err != nil || (te.Message == "" && te.Code == 0) {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return &ToolError{Message: s}
		}
		return &ToolError{Message: string(raw)}
	}
	return te
}

// IsRetriable returns true for transport level failures that may
// succeed on another attempt. Tool errors and rejections are final.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTool) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrPoolExhausted) {
		return false
	}
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrConnectionLost)
}

// CountsAsFailure returns true if err indicates an unhealthy server and
// must be recorded against the circuit breaker.
// Tool errors, local rejections and callers giving up are not counted.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrTool) &&
		!errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, ErrPoolExhausted) &&
		!errors.Is(err, context.Canceled)
}

// Kind returns a short name of the error kind, used in failure payloads
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTool):
		return "tool_error"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrConnect):
		return "connect_error"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	default:
		return "internal_error"
	}
}
