package pool

import (
	"context"
	"sync"
	"time"

	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/pkg/metricskey"
	"github.com/effective-security/cwagent/pkg/retry"
	"github.com/effective-security/xlog"
)

//go:generate mockgen -source=connection.go -destination=../mocks/mockpool/transport_mock.gen.go -package mockpool

// Transport is a client of the tool server owned by a pooled connection
type Transport interface {
	// Connect establishes the session, it is a no-op when already connected
	Connect(ctx context.Context) error
	// IsConnected returns true when the transport can send requests
	IsConnected() bool
	// CallTool calls the remote tool
	CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.ToolResult, error)
	// ListTools returns the tools offered by the server
	ListTools(ctx context.Context) ([]mcp.ToolInfo, error)
	// Close closes the session
	Close() error
}

// Streamer is implemented by transports that support streaming tool calls
type Streamer interface {
	StreamTool(ctx context.Context, toolName string, args map[string]any, fn func(data string) error) error
}

// Factory creates the transport of a new pooled connection
type Factory func() Transport

// Connection is a pooled tool server connection.
// A connection is used by at most one caller at a time.
type Connection struct {
	id        int
	transport Transport
	policy    retry.Policy

	lock       sync.Mutex
	lastUsedAt time.Time
	active     bool
	borrowed   bool
}

func newConnection(id int, t Transport, policy retry.Policy) *Connection {
	return &Connection{
		id:         id,
		transport:  t,
		policy:     policy,
		lastUsedAt: time.Now(),
	}
}

// ID returns the slot number of the connection
func (c *Connection) ID() int {
	return c.id
}

// Transport returns the underlying transport
func (c *Connection) Transport() Transport {
	return c.transport
}

// LastUsedAt returns the time of the last call
func (c *Connection) LastUsedAt() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastUsedAt
}

// IsActive returns true if the connection was connected and not closed
func (c *Connection) IsActive() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.active && c.transport.IsConnected()
}

// Connect connects the transport if needed
func (c *Connection) Connect(ctx context.Context) error {
	if c.transport.IsConnected() {
		return nil
	}
	if err := c.transport.Connect(ctx); err != nil {
		return mcp.ConnectError(err)
	}
	c.lock.Lock()
	c.active = true
	c.lock.Unlock()
	return nil
}

// CallTool calls the tool, retrying transport level failures
func (c *Connection) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.ToolResult, error) {
	c.lock.Lock()
	c.lastUsedAt = time.Now()
	c.lock.Unlock()

	r := retry.New(c.policy,
		retry.WithRetriable(mcp.IsRetriable),
		retry.WithOnRetry(func(attempt int, err error) {
			metricskey.StatsToolCallsRetried.IncrCounter(1, toolName)
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "retrying",
				"conn", c.id,
				"tool", toolName,
				"attempt", attempt,
				"reason", mcp.Kind(err),
				"err", err.Error(),
			)
		}),
	)
	return retry.Call(ctx, r, func(ctx context.Context) (*mcp.ToolResult, error) {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c.transport.CallTool(ctx, toolName, args)
	})
}

// Close closes the transport
func (c *Connection) Close() error {
	c.lock.Lock()
	c.active = false
	c.lock.Unlock()
	return c.transport.Close()
}
