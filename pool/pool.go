// Package pool provides a fixed size pool of tool server connections
// guarded by a circuit breaker.
package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/pkg/breaker"
	"github.com/effective-security/cwagent/pkg/metricskey"
	"github.com/effective-security/cwagent/pkg/retry"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent", "pool")

// DefaultSize is the number of connections when Config.Size is not set
const DefaultSize = 10

// ErrClosed is returned by Borrow after Close
var ErrClosed = errors.New("pool: closed")

// Config of the pool
type Config struct {
	// Name is used in logs and metrics, usually the transport name
	Name string
	// Size is the number of pooled connections
	Size int
	// BorrowTimeout bounds the wait for a free connection, 0 waits until ctx is done
	BorrowTimeout time.Duration
	// Retry is applied to every tool call
	Retry retry.Policy
}

// Metrics is a snapshot of the pool counters
type Metrics struct {
	TotalCalls               int64  `json:"total_calls"`
	SuccessfulCalls          int64  `json:"successful_calls"`
	FailedCalls              int64  `json:"failed_calls"`
	CircuitBreakerRejections int64  `json:"circuit_breaker_rejections"`
	CircuitBreakerState      string `json:"circuit_breaker_state"`
	ActiveConnections        int    `json:"active_connections"`
	AvailableConnections     int    `json:"available_connections"`
}

// Pool hands out connections to one caller at a time
type Pool struct {
	cfg         Config
	breaker     *breaker.CircuitBreaker
	connections []*Connection
	available   chan *Connection
	closed      atomic.Bool

	totalCalls      atomic.Int64
	successfulCalls atomic.Int64
	failedCalls     atomic.Int64
	rejections      atomic.Int64
}

var _ mcp.Invoker = (*Pool)(nil)

// New creates the pool with cfg.Size connections, none of them connected yet.
// If cb is nil, a breaker with the default config is used.
func New(cfg Config, factory Factory, cb *breaker.CircuitBreaker) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("transport factory is required")
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Size < 0 {
		return nil, errors.Errorf("invalid pool size: %d", cfg.Size)
	}
	if cfg.BorrowTimeout < 0 {
		return nil, errors.Errorf("invalid borrow timeout: %s", cfg.BorrowTimeout)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid retry policy")
	}
	if cfg.Name == "" {
		cfg.Name = "mcp"
	}
	if cb == nil {
		cb = NewCircuitBreaker(cfg.Name, breaker.DefaultConfig())
	}

	p := &Pool{
		cfg:         cfg,
		breaker:     cb,
		connections: make([]*Connection, 0, cfg.Size),
		available:   make(chan *Connection, cfg.Size),
	}
	for i := range cfg.Size {
		conn := newConnection(i, factory(), cfg.Retry)
		p.connections = append(p.connections, conn)
		p.available <- conn
	}

	logger.KV(xlog.INFO,
		"status", "pool_created",
		"name", cfg.Name,
		"size", cfg.Size,
		"borrow_timeout", cfg.BorrowTimeout.String(),
	)
	return p, nil
}

// NewCircuitBreaker returns a breaker that reports its transitions as metrics
func NewCircuitBreaker(name string, cfg breaker.Config) *breaker.CircuitBreaker {
	return breaker.New(name, cfg, breaker.WithStateChange(func(name string, _, to breaker.State) {
		metricskey.StatsBreakerStateChanged.IncrCounter(1, name, to.String())
	}))
}

// Size returns the number of pooled connections
func (p *Pool) Size() int {
	return len(p.connections)
}

// Breaker returns the circuit breaker of the pool
func (p *Pool) Breaker() *breaker.CircuitBreaker {
	return p.breaker
}

// Borrow waits for a free connection and connects it if needed.
// The connection must be returned with Release.
func (p *Pool) Borrow(ctx context.Context) (*Connection, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	started := time.Now()
	conn, err := p.wait(ctx)
	metricskey.PerfPoolBorrow.MeasureSince(started, p.cfg.Name)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "borrow_failed",
			"name", p.cfg.Name,
			"err", err.Error(),
		)
		return nil, err
	}

	if err = conn.Connect(ctx); err != nil {
		p.Release(conn)
		return nil, err
	}
	return conn, nil
}

func (p *Pool) wait(ctx context.Context) (*Connection, error) {
	var conn *Connection
	select {
	case conn = <-p.available:
	default:
		var expired <-chan time.Time
		if p.cfg.BorrowTimeout > 0 {
			t := time.NewTimer(p.cfg.BorrowTimeout)
			defer t.Stop()
			expired = t.C
		}
		select {
		case conn = <-p.available:
		case <-expired:
			return nil, mcp.PoolExhaustedError(len(p.connections))
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for connection")
		}
	}

	conn.lock.Lock()
	conn.borrowed = true
	conn.lock.Unlock()
	return conn, nil
}

// Release returns the connection to the pool.
// Releasing a connection that is not borrowed is a no-op.
func (p *Pool) Release(conn *Connection) {
	if conn == nil {
		return
	}
	conn.lock.Lock()
	borrowed := conn.borrowed
	conn.borrowed = false
	conn.lock.Unlock()

	if borrowed {
		p.available <- conn
	}
}

// InvokeOption configures a single call
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	skipBreaker bool
}

// WithoutCircuitBreaker bypasses the circuit breaker for the call,
// the result is not recorded on it either
func WithoutCircuitBreaker() InvokeOption {
	return func(o *invokeOptions) {
		o.skipBreaker = true
	}
}

// Invoke calls the tool on a pooled connection
func (p *Pool) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	return p.InvokeWithOptions(ctx, toolName, args)
}

// InvokeWithOptions calls the tool on a pooled connection
func (p *Pool) InvokeWithOptions(ctx context.Context, toolName string, args map[string]any, opts ...InvokeOption) (any, error) {
	res, err := p.CallTool(ctx, toolName, args, opts...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// CallTool calls the tool on a pooled connection and returns the result with its shape
func (p *Pool) CallTool(ctx context.Context, toolName string, args map[string]any, opts ...InvokeOption) (*mcp.ToolResult, error) {
	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipBreaker && !p.breaker.CanAttempt() {
		p.rejections.Add(1)
		metricskey.StatsToolCallsRejected.IncrCounter(1, toolName)
		state := p.breaker.State().String()
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "rejected",
			"tool", toolName,
			"breaker", state,
		)
		return nil, mcp.CircuitOpenError(state)
	}

	p.totalCalls.Add(1)
	started := time.Now()

	res, err := p.call(ctx, toolName, args)
	metricskey.PerfToolCall.MeasureSince(started, toolName)

	if err != nil {
		p.failedCalls.Add(1)
		kind := mcp.Kind(err)
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName, kind)
		if !o.skipBreaker {
			switch {
			case mcp.CountsAsFailure(err):
				p.breaker.CallFailed()
			case errors.Is(err, mcp.ErrTool):
				// the server is reachable
				p.breaker.CallSucceeded()
			}
		}
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "call_failed",
			"tool", toolName,
			"reason", kind,
			"err", err.Error(),
		)
		return nil, err
	}

	p.successfulCalls.Add(1)
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	if !o.skipBreaker {
		p.breaker.CallSucceeded()
	}
	return res, nil
}

func (p *Pool) call(ctx context.Context, toolName string, args map[string]any) (*mcp.ToolResult, error) {
	conn, err := p.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(conn)

	return conn.CallTool(ctx, toolName, args)
}

// StreamTool calls the tool on a pooled connection that supports streaming
func (p *Pool) StreamTool(ctx context.Context, toolName string, args map[string]any, fn func(data string) error) error {
	conn, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	s, ok := conn.Transport().(Streamer)
	if !ok {
		return errors.Errorf("transport %s does not support streaming", p.cfg.Name)
	}
	return s.StreamTool(ctx, toolName, args, fn)
}

// ListTools returns the tools offered by the server
func (p *Pool) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) {
	conn, err := p.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(conn)

	return conn.Transport().ListTools(ctx)
}

// Metrics returns a snapshot of the pool counters
func (p *Pool) Metrics() Metrics {
	return Metrics{
		TotalCalls:               p.totalCalls.Load(),
		SuccessfulCalls:          p.successfulCalls.Load(),
		FailedCalls:              p.failedCalls.Load(),
		CircuitBreakerRejections: p.rejections.Load(),
		CircuitBreakerState:      p.breaker.State().String(),
		ActiveConnections:        len(p.connections),
		AvailableConnections:     len(p.available),
	}
}

// Close closes all connections. Calls in flight fail with
// the error of their transport.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, conn := range p.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	logger.KV(xlog.INFO, "status", "pool_closed", "name", p.cfg.Name)
	return errors.Join(errs...)
}
