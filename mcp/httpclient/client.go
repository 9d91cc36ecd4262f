// Package httpclient implements a stateless MCP tool client, where every
// call is a single POST and the JSON-RPC response is the HTTP response body.
package httpclient

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

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent/mcp", "httpclient")

// Defaults of the HTTP client
const (
	DefaultCallPath   = "/"
	DefaultStreamPath = "/stream"
	DefaultTimeout    = 30 * time.Second
)

// Config of the HTTP client
type Config struct {
	// BaseURL of the tool server
	BaseURL string
	// CallPath receives tools/call requests, / by default
	CallPath string
	// StreamPath receives streaming tools/call requests, /stream by default
	StreamPath string
	// Timeout bounds a single request
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.CallPath == "" {
		c.CallPath = DefaultCallPath
	}
	if c.StreamPath == "" {
		c.StreamPath = DefaultStreamPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client is a connection to the tool server that does not hold a session.
// Connect only prepares the underlying HTTP client.
type Client struct {
	cfg Config

	lock       sync.Mutex
	httpClient *http.Client
	custom     bool

	lastMessageID atomic.Int64
}

// Option configures Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client, the configured timeout is not applied to it
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.custom = true
	}
}

// New returns a Client
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg.withDefaults(),
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

// Connect prepares the HTTP client
func (c *Client) Connect(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.Timeout}
		logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "url", c.cfg.BaseURL)
	}
	return nil
}

// IsConnected returns true after Connect and before Close
func (c *Client) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.httpClient != nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		if !c.custom {
			c.httpClient = nil
		}
		logger.KV(xlog.DEBUG, "status", "closed", "url", c.cfg.BaseURL)
	}
	return nil
}

func (c *Client) client(ctx context.Context) *http.Client {
	_ = c.Connect(ctx)
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.httpClient
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
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.roundTrip(ctx, string(mcpgo.MethodToolsCall), mcpgo.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
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
	resp, err := c.roundTrip(ctx, string(mcpgo.MethodToolsList), map[string]any{})
	if err != nil {
		return nil, err
	}
	if te := resp.ToolError(); te != nil {
		return nil, te
	}
	return mcp.DecodeToolList(resp.Result)
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (*mcp.Response, error) {
	req := mcp.NewRequest(c.lastMessageID.Add(1), method, params)
	hresp, err := c.post(ctx, c.cfg.CallPath, req)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, mcp.TransportError(errors.Wrap(err, "failed to read response"))
	}

	resp := new(mcp.Response)
	if err = json.Unmarshal(body, resp); err != nil {
		return nil, mcp.TransportError(errors.Wrapf(err, "invalid response to message %d", req.ID))
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "response_received",
		"id", req.ID,
		"method", method,
	)
	return resp, nil
}

// StreamTool calls the tool on the streaming endpoint and passes
// the payload of every `data:` line to fn. Returning an error from fn
// stops the stream.
func (c *Client) StreamTool(ctx context.Context, toolName string, args map[string]any, fn func(data string) error) error {
	if args == nil {
		args = map[string]any{}
	}
	req := mcp.NewRequest(c.lastMessageID.Add(1), string(mcpgo.MethodToolsCall), mcpgo.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	hresp, err := c.post(ctx, c.cfg.StreamPath, req)
	if err != nil {
		return err
	}
	defer hresp.Body.Close()

	scanner := bufio.NewScanner(hresp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if err = fn(data); err != nil {
			return err
		}
	}
	if err = scanner.Err(); err != nil {
		return mcp.TransportError(errors.Wrap(err, "stream interrupted"))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, req *mcp.Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	hreq.Header.Set("Content-Type", "application/json")

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "sending",
		"id", req.ID,
		"method", req.Method,
	)

	hresp, err := c.client(ctx).Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "message %d", req.ID)
		}
		return nil, mcp.TransportError(errors.Wrap(err, "MCP request failed"))
	}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(hresp.Body, 64*1024))
		_ = hresp.Body.Close()
		return nil, mcp.TransportError(errors.Errorf("MCP request failed: %d - %s", hresp.StatusCode, strings.TrimSpace(string(text))))
	}
	return hresp, nil
}
