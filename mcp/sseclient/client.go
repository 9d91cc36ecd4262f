// Package sseclient implements an MCP tool client over the SSE transport.
//
// The server pushes events on a long-lived GET stream, while requests are
// POSTed to a per-session endpoint announced as the first stream event.
// Responses arrive asynchronously on the stream and are correlated with
// the waiting callers by JSON-RPC message id.
package sseclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/xlog"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent/mcp", "sseclient")

// Defaults of the SSE client
const (
	DefaultSSEPath            = "/sse"
	DefaultEndpointMarker     = "/messages/"
	DefaultRequestTimeout     = 5 * time.Second
	DefaultResponseTimeout    = 30 * time.Second
	DefaultHandshakeTimeout   = 30 * time.Second
	DefaultListenerStartDelay = 100 * time.Millisecond
	DefaultClientName         = "cwagent"
	DefaultClientVersion      = "1.0.0"
)

// handshakeID is reserved for the initialize request
const handshakeID int64 = 0

// Config of the SSE client
type Config struct {
	// BaseURL of the tool server, for example http://localhost:8000
	BaseURL string
	// SSEPath is the path of the event stream, /sse by default
	SSEPath string
	// EndpointMarker identifies the endpoint event, /messages/ by default
	EndpointMarker string
	// RequestTimeout bounds a single POST
	RequestTimeout time.Duration
	// ResponseTimeout bounds the wait for a correlated response
	ResponseTimeout time.Duration
	// HandshakeTimeout bounds the wait for the initialize response
	HandshakeTimeout time.Duration
	// ListenerStartDelay is the pause between starting the listener and the handshake,
	// a negative value disables it
	ListenerStartDelay time.Duration
	// ClientName and ClientVersion are announced in initialize
	ClientName    string
	ClientVersion string
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.SSEPath == "" {
		c.SSEPath = DefaultSSEPath
	}
	if c.EndpointMarker == "" {
		c.EndpointMarker = DefaultEndpointMarker
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ListenerStartDelay == 0 {
		c.ListenerStartDelay = DefaultListenerStartDelay
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.ClientVersion == "" {
		c.ClientVersion = DefaultClientVersion
	}
	return c
}

// outcome is delivered exactly once to a waiting caller
type outcome struct {
	resp *mcp.Response
	err  error
}

// Client is a single MCP session over SSE.
// It is safe for concurrent use; concurrent Connect calls
// collapse into one handshake.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	streamClient *http.Client

	// serializes Connect
	connectLock sync.Mutex

	lock         sync.Mutex
	open         bool
	endpoint     string
	sessionID    string
	body         io.ReadCloser
	cancelStream context.CancelFunc
	generation   uint64
	pending      map[int64]chan outcome

	lastMessageID atomic.Int64
}

// Option configures Client
type Option func(*Client)

// WithHTTPClient sets the client used for POST requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithStreamClient sets the client used for the event stream.
// It must not have a timeout.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) {
		c.streamClient = hc
	}
}

var _ mcp.Invoker = (*Client)(nil)

// New returns a Client that is not connected yet
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:          cfg.withDefaults(),
		httpClient:   &http.Client{},
		streamClient: &http.Client{Timeout: 0},
		pending:      make(map[int64]chan outcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// SessionID returns the id of the current session, empty if not connected
func (c *Client) SessionID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.sessionID
}

// Endpoint returns the discovered message endpoint, empty if not connected
func (c *Client) Endpoint() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.endpoint
}

// IsConnected returns true when the stream is open and the endpoint is known
func (c *Client) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.open && c.endpoint != ""
}

// PendingCount returns the number of requests waiting for a response
func (c *Client) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pending)
}

// Connect establishes the session, it returns immediately if already connected.
// Errors are marked as mcp.ErrConnect.
func (c *Client) Connect(ctx context.Context) error {
	c.connectLock.Lock()
	defer c.connectLock.Unlock()

	if c.IsConnected() {
		logger.ContextKV(ctx, xlog.DEBUG, "status", "already_connected")
		return nil
	}

	// drop whatever is left from the previous session
	c.teardown(errors.New("reconnecting"))

	err := c.connect(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "connect_failed",
			"url", c.cfg.BaseURL,
			"err", err.Error(),
		)
		c.teardown(err)
		return mcp.ConnectError(err)
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	streamURL := c.cfg.BaseURL + c.cfg.SSEPath
	logger.ContextKV(ctx, xlog.INFO, "status", "connecting", "url", streamURL)

	// the stream outlives ctx, which only bounds the connect phase
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to create SSE request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to connect to SSE")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		cancel()
		return errors.Errorf("failed to connect to SSE: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	reader := bufio.NewReader(resp.Body)
	endpoint, sessionID, err := discoverEndpoint(reader, c.cfg.EndpointMarker)
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return err
	}

	c.lock.Lock()
	c.generation++
	generation := c.generation
	c.body = resp.Body
	c.cancelStream = cancel
	c.endpoint = endpoint
	c.sessionID = sessionID
	c.open = true
	c.lock.Unlock()

	logger.ContextKV(ctx, xlog.INFO,
		"status", "endpoint_discovered",
		"endpoint", endpoint,
		"session_id", sessionID,
	)

	go c.listen(reader, generation)

	// give the listener a moment to start
	if c.cfg.ListenerStartDelay > 0 {
		t := time.NewTimer(c.cfg.ListenerStartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrap(ctx.Err(), "connect cancelled")
		case <-t.C:
		}
	}

	initReq := mcp.NewRequest(handshakeID, string(mcpgo.MethodInitialize), mcpgo.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    mcpgo.ClientCapabilities{},
		ClientInfo: mcpgo.Implementation{
			Name:    c.cfg.ClientName,
			Version: c.cfg.ClientVersion,
		},
	})
	initResp, err := c.send(ctx, initReq, true, c.cfg.HandshakeTimeout)
	if err != nil {
		return errors.Wrap(err, "initialize failed")
	}
	if te := initResp.ToolError(); te != nil {
		return errors.Wrap(te, "initialize rejected")
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"session_id", sessionID,
	)
	return nil
}

// teardown closes the stream and fails all pending requests with cause
func (c *Client) teardown(cause error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
	c.open = false
	c.endpoint = ""
	c.sessionID = ""
	// invalidate the running listener
	c.generation++
	c.failPendingLocked(cause)
}

// must be called under lock
func (c *Client) failPendingLocked(cause error) {
	if len(c.pending) == 0 {
		return
	}
	err := mcp.ConnectionLostError(errors.Wrap(cause, "connection lost"))
	for id, ch := range c.pending {
		ch <- outcome{err: err}
		delete(c.pending, id)
	}
}

// Close closes the session, pending requests fail with mcp.ErrConnectionLost.
// The client can be connected again.
func (c *Client) Close() error {
	c.teardown(errors.New("client closed"))
	logger.KV(xlog.INFO, "status", "closed", "url", c.cfg.BaseURL)
	return nil
}

// nextMessageID returns a strictly increasing id, starting at 1
func (c *Client) nextMessageID() int64 {
	return c.lastMessageID.Add(1)
}

// SendMessage sends a JSON-RPC request with a new message id.
// If waitForResponse is false, it returns a Response with Accepted set
// as soon as the server accepted the request.
func (c *Client) SendMessage(ctx context.Context, method string, params any, waitForResponse bool) (*mcp.Response, error) {
	req := mcp.NewRequest(c.nextMessageID(), method, params)
	return c.send(ctx, req, waitForResponse, c.cfg.ResponseTimeout)
}

func (c *Client) send(ctx context.Context, req *mcp.Request, wait bool, timeout time.Duration) (*mcp.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	c.lock.Lock()
	if !c.open || c.endpoint == "" {
		c.lock.Unlock()
		return nil, mcp.TransportError(errors.New("not connected to MCP server"))
	}
	target := c.messageURL()
	var ch chan outcome
	if wait {
		// register before sending, the response may arrive before POST returns
		ch = make(chan outcome, 1)
		c.pending[req.ID] = ch
	}
	c.lock.Unlock()

	if wait {
		defer c.removePending(req.ID)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "sending",
		"id", req.ID,
		"method", req.Method,
	)

	if err = c.post(ctx, target, body); err != nil {
		return nil, err
	}

	if !wait {
		return &mcp.Response{Accepted: true}, nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		return o.resp, nil
	case <-t.C:
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "timeout",
			"id", req.ID,
			"method", req.Method,
			"timeout", timeout.String(),
		)
		return nil, &mcp.TimeoutError{MessageID: req.ID, Timeout: timeout}
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for response to message %d", req.ID)
	}
}

func (c *Client) post(ctx context.Context, target string, body []byte) error {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(pctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return mcp.TransportError(errors.Wrap(err, "MCP request failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return mcp.TransportError(errors.Errorf("MCP request failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(text))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// must be called under lock
func (c *Client) messageURL() string {
	if strings.HasPrefix(c.endpoint, "http://") || strings.HasPrefix(c.endpoint, "https://") {
		return c.endpoint
	}
	return c.cfg.BaseURL + c.endpoint
}

func (c *Client) removePending(id int64) {
	c.lock.Lock()
	delete(c.pending, id)
	c.lock.Unlock()
}

// resolve delivers resp to the caller waiting for its id.
// Returns false if nobody is waiting.
func (c *Client) resolve(id int64, resp *mcp.Response) bool {
	c.lock.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.lock.Unlock()

	if ok {
		ch <- outcome{resp: resp}
	}
	return ok
}

// Invoke calls the tool and returns its decoded result
func (c *Client) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	res, err := c.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// CallTool calls the tool and returns the decoded result with its shape
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.ToolResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "call_tool", "tool", toolName)

	resp, err := c.SendMessage(ctx, string(mcpgo.MethodToolsCall), mcpgo.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}, true)
	if err != nil {
		return nil, err
	}
	if te := resp.ToolError(); te != nil {
		return nil, te
	}
	return mcp.DecodeToolResult(resp.Result)
}

// ListTools returns the tools offered by the server
func (c *Client) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	resp, err := c.SendMessage(ctx, string(mcpgo.MethodToolsList), map[string]any{}, true)
	if err != nil {
		return nil, err
	}
	if te := resp.ToolError(); te != nil {
		return nil, te
	}

	return mcp.DecodeToolList(resp.Result)
}
