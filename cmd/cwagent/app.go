package main

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/config"
	"github.com/effective-security/cwagent/httpapi"
	"github.com/effective-security/cwagent/invoker"
	"github.com/effective-security/cwagent/pool"
	"github.com/effective-security/cwagent/skills"
	"github.com/effective-security/cwagent/store"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

type app struct {
	cfg      *config.Config
	store    store.Store
	pool     *pool.Pool
	executor *skills.Executor
	server   *httpapi.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st := newStore(ctx, cfg.Redis)

	factory, err := invoker.NewTransportFactory(invoker.TransportConfig{
		Kind:    cfg.MCP.Transport,
		BaseURL: cfg.MCP.URL,
		Timeout: cfg.MCP.Timeout.Duration(),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p, err := pool.New(pool.Config{
		Name:          cfg.MCP.Transport,
		Size:          cfg.MCP.MaxConnections,
		BorrowTimeout: cfg.MCP.BorrowTimeout.Duration(),
		Retry:         cfg.MCP.RetryPolicy(),
	}, factory, pool.NewCircuitBreaker(cfg.MCP.Transport, cfg.MCP.BreakerConfig()))
	if err != nil {
		_ = st.Close()
		return nil, errors.WithMessage(err, "unable to create connection pool")
	}

	cached := invoker.NewCached(p, st, cfg.Cache.TTL.Duration(), cfg.Cache.Tools...)
	executor := skills.NewExecutor(cached, skills.WithStore(st))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := httpapi.New(cfg.Agent, executor, p, st, httpapi.WithAddr(addr))

	logger.KV(xlog.INFO,
		"status", "started",
		"agent", cfg.Agent.Name,
		"version", cfg.Agent.Version,
		"mcp", cfg.MCP.URL,
		"transport", cfg.MCP.Transport,
		"skills", len(executor.Skills()),
	)

	return &app{
		cfg:      cfg,
		store:    st,
		pool:     p,
		executor: executor,
		server:   server,
	}, nil
}

// newStore connects to Redis, or returns the in-memory store
// when Redis is disabled or not reachable
func newStore(ctx context.Context, cfg config.RedisConfig) store.Store {
	if cfg.Disabled {
		logger.KV(xlog.INFO, "status", "redis_disabled", "reason", "state and cache are in memory")
		return store.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.KV(xlog.WARNING,
			"status", "redis_unavailable",
			"reason", "state and cache are in memory",
			"host", cfg.Host,
			"err", err.Error(),
		)
		return store.NewMemoryStore()
	}

	logger.KV(xlog.INFO, "status", "redis_connected", "host", cfg.Host, "db", cfg.DB)
	return store.NewRedisStore(client, cfg.Prefix)
}

// Serve runs the server until ctx is done, then shuts it down
func (a *app) Serve(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		errs <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return errors.WithMessage(err, "shutdown")
	}
	return <-errs
}

// Close releases the pool and the store
func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		logger.KV(xlog.ERROR, "reason", "close_pool", "err", err.Error())
	}
	if err := a.store.Close(); err != nil {
		logger.KV(xlog.ERROR, "reason", "close_store", "err", err.Error())
	}
	logger.KV(xlog.INFO, "status", "stopped")
}
