// Package store provides the key-value store used for agent state,
// tool result caching and counters.
//
// Keys are namespaced, so `state:<key>`, `cache:<key>`, `metric:<key>`
// and `monitoring:<group>` never collide, optionally under a prefix.
package store

import (
	"context"
	"time"

	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent", "store")

// Namespaces of the keys
const (
	NamespaceState      = "state"
	NamespaceCache      = "cache"
	NamespaceMetric     = "metric"
	NamespaceMonitoring = "monitoring"
)

// DefaultCacheTTL is used when SetCache is called without TTL
const DefaultCacheTTL = time.Hour

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusMemory    = "memory"
)

// Health is the result of a store health check
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Store persists JSON encoded values.
// Get methods return false when the key does not exist or has expired.
type Store interface {
	GetState(ctx context.Context, key string, v any) (bool, error)
	// SetState stores the value, ttl 0 keeps it until deleted
	SetState(ctx context.Context, key string, v any, ttl time.Duration) error
	DeleteState(ctx context.Context, key string) error
	ExistsState(ctx context.Context, key string) (bool, error)

	GetCache(ctx context.Context, key string, v any) (bool, error)
	// SetCache stores the value, ttl 0 uses DefaultCacheTTL
	SetCache(ctx context.Context, key string, v any, ttl time.Duration) error
	DeleteCache(ctx context.Context, key string) error
	// ClearCache deletes the cache keys matching the glob pattern,
	// and returns the number of deleted keys
	ClearCache(ctx context.Context, pattern string) (int, error)

	// AddToMonitoring registers a task of the group for monitoring
	AddToMonitoring(ctx context.Context, group, taskID string, data map[string]any) error
	RemoveFromMonitoring(ctx context.Context, group, taskID string) error
	// MonitoringTasks returns the tasks of the group, each with its task_id
	MonitoringTasks(ctx context.Context, group string) ([]map[string]any, error)

	IncrMetric(ctx context.Context, key string, amount int64) (int64, error)
	Metric(ctx context.Context, key string) (int64, error)
	ResetMetrics(ctx context.Context) (int, error)

	Health(ctx context.Context) Health
	Close() error
}

func cacheTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultCacheTTL
	}
	return ttl
}
