// Package invoker composes the tool invocation chain used by skills:
// the connection pool, optionally fronted by a result cache.
package invoker

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/pkg/metricskey"
	"github.com/effective-security/cwagent/store"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent", "invoker")

// DefaultCacheableTools are read-only tools whose results may be reused
var DefaultCacheableTools = []string{
	"analyze_trends",
	"calculate_kpis",
	"calculate_route",
	"find_alternative_routes",
	"forecast_performance",
	"optimize_multi_stop_route",
}

// Cached memoizes results of cacheable tools in the store.
// The cache is opportunistic: store failures are logged and the call
// goes to the next invoker.
type Cached struct {
	next  mcp.Invoker
	store store.Store
	ttl   time.Duration
	tools []string
}

var _ mcp.Invoker = (*Cached)(nil)

// NewCached returns invoker that caches results of the tools for ttl.
// If no tools are provided, DefaultCacheableTools are used.
func NewCached(next mcp.Invoker, st store.Store, ttl time.Duration, tools ...string) *Cached {
	if len(tools) == 0 {
		tools = DefaultCacheableTools
	}
	if ttl <= 0 {
		ttl = store.DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		store: st,
		ttl:   ttl,
		tools: slices.Clone(tools),
	}
}

// IsCacheable returns true if results of the tool are cached
func (c *Cached) IsCacheable(toolName string) bool {
	return slices.Contains(c.tools, toolName)
}

// Invoke implements mcp.Invoker
func (c *Cached) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	if !c.IsCacheable(toolName) {
		return c.next.Invoke(ctx, toolName, args)
	}

	key, err := CacheKey(toolName, args)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "cache_key", "tool", toolName, "err", err.Error())
		return c.next.Invoke(ctx, toolName, args)
	}

	var cached any
	found, err := c.store.GetCache(ctx, key, &cached)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "cache_get", "key", key, "err", err.Error())
	} else if found {
		metricskey.StatsCacheHits.IncrCounter(1, toolName)
		logger.ContextKV(ctx, xlog.DEBUG, "status", "cache_hit", "key", key)
		return cached, nil
	}
	metricskey.StatsCacheMisses.IncrCounter(1, toolName)

	res, err := c.next.Invoke(ctx, toolName, args)
	if err != nil {
		return nil, err
	}

	if err = c.store.SetCache(ctx, key, res, c.ttl); err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "cache_set", "key", key, "err", err.Error())
	}
	return res, nil
}

// Invalidate removes all cached results of the tool
func (c *Cached) Invalidate(ctx context.Context, toolName string) (int, error) {
	return c.store.ClearCache(ctx, "tool:"+toolName+":*")
}

// CacheKey returns `tool:<name>:<hash>` where hash is computed over
// JSON encoded args. Map keys are encoded in sorted order,
// so equal args produce the same key.
func CacheKey(toolName string, args map[string]any) (string, error) {
	js, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode arguments of %s", toolName)
	}
	return "tool:" + toolName + ":" + strconv.FormatUint(xxhash.Sum64(js), 16), nil
}
