// Package httpapi exposes skills of the agent over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/config"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/pool"
	"github.com/effective-security/cwagent/skills"
	"github.com/effective-security/cwagent/store"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent", "httpapi")

// ProtocolVersion of the agent card
const ProtocolVersion = "1.0"

const maxRequestBodySize = 1 << 20

// Pool provides the state of the tool server connections
type Pool interface {
	Metrics() pool.Metrics
	ListTools(ctx context.Context) ([]mcp.ToolInfo, error)
}

// Server serves the agent API
type Server struct {
	agent    config.AgentConfig
	executor *skills.Executor
	pool     Pool
	store    store.Store

	httpServer *http.Server
	started    time.Time
	newID      func() string
}

// Option configures Server
type Option func(*Server)

// WithAddr sets the address to listen on
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithIDGenerator replaces generator of message and artifact IDs
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) {
		s.newID = fn
	}
}

// New returns Server
func New(agent config.AgentConfig, executor *skills.Executor, p Pool, st store.Store, opts ...Option) *Server {
	s := &Server{
		agent:    agent,
		executor: executor,
		pool:     p,
		store:    st,
		started:  time.Now(),
		newID:    uuid.NewString,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /.well-known/agent-card.json", s.handleAgentCard)
	mux.HandleFunc("GET /crews", s.handleCrews)
	mux.HandleFunc("GET /crews/{crew}/agent-card", s.handleCrewCard)
	mux.HandleFunc("POST /message:send", s.handleSendMessage)
	mux.HandleFunc("POST /message:stream", s.handleNotImplemented("Streaming not implemented yet - use /message:send instead"))
	mux.HandleFunc("POST /tasks", s.handleNotImplemented("Async tasks not implemented yet - use /message:send instead"))
	mux.HandleFunc("GET /tasks/{task_id}", s.handleNotImplemented("Async tasks not implemented yet - use /message:send instead"))
	mux.HandleFunc("POST /tasks/{task_id}/cancel", s.handleNotImplemented("Async tasks not implemented yet - use /message:send instead"))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /skills", s.handleSkills)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /pool/metrics", s.handlePoolMetrics)

	s.httpServer = &http.Server{
		Addr:              ":8001",
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	logger.KV(xlog.INFO, "status", "listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	logger.KV(xlog.INFO, "status", "shutting_down")
	return s.httpServer.Shutdown(ctx)
}
