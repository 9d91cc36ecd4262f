package store

import (
	"bufio"
	"context"
	"encoding/json"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps every value as a JSON string.
// The keys namespace is organized as follows:
// - `<prefix>/state:<key>` for agent state
// - `<prefix>/cache:<key>` for cached tool results, always with TTL
// - `<prefix>/metric:<key>` for counters
// - `<prefix>/monitoring:<group>` hash of task id to task data

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns Store backed by Redis
func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) key(namespace, key string) string {
	return path.Join(m.prefix, namespace+":"+key)
}

func (m *redisStore) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to get %s from Redis", key)
	}
	if err = json.Unmarshal(data, v); err != nil {
		return false, errors.Wrapf(err, "failed to unmarshal %s", key)
	}
	return true, nil
}

func (m *redisStore) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}
	if err = m.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to store %s in Redis", key)
	}
	return nil
}

func (m *redisStore) GetState(ctx context.Context, key string, v any) (bool, error) {
	return m.get(ctx, m.key(NamespaceState, key), v)
}

func (m *redisStore) SetState(ctx context.Context, key string, v any, ttl time.Duration) error {
	return m.set(ctx, m.key(NamespaceState, key), v, ttl)
}

func (m *redisStore) DeleteState(ctx context.Context, key string) error {
	return errors.Wrap(m.client.Del(ctx, m.key(NamespaceState, key)).Err(), "failed to delete state")
}

func (m *redisStore) ExistsState(ctx context.Context, key string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(NamespaceState, key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check state")
	}
	return n > 0, nil
}

func (m *redisStore) GetCache(ctx context.Context, key string, v any) (bool, error) {
	return m.get(ctx, m.key(NamespaceCache, key), v)
}

func (m *redisStore) SetCache(ctx context.Context, key string, v any, ttl time.Duration) error {
	return m.set(ctx, m.key(NamespaceCache, key), v, cacheTTL(ttl))
}

func (m *redisStore) DeleteCache(ctx context.Context, key string) error {
	return errors.Wrap(m.client.Del(ctx, m.key(NamespaceCache, key)).Err(), "failed to delete cache")
}

func (m *redisStore) ClearCache(ctx context.Context, pattern string) (int, error) {
	n, err := m.deleteMatching(ctx, m.key(NamespaceCache, pattern))
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear cache")
	}
	if n > 0 {
		logger.ContextKV(ctx, xlog.INFO, "status", "cache_cleared", "pattern", pattern, "count", n)
	}
	return n, nil
}

// deleteMatching uses SCAN instead of KEYS to not block the server
func (m *redisStore) deleteMatching(ctx context.Context, match string) (int, error) {
	var keys []string
	iter := m.client.Scan(ctx, 0, match, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := m.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

func (m *redisStore) AddToMonitoring(ctx context.Context, group, taskID string, data map[string]any) error {
	task := make(map[string]any, len(data)+1)
	for k, v := range data {
		task[k] = v
	}
	task["task_id"] = taskID

	js, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task")
	}
	if err = m.client.HSet(ctx, m.key(NamespaceMonitoring, group), taskID, js).Err(); err != nil {
		return errors.Wrap(err, "failed to add task to monitoring")
	}
	return nil
}

func (m *redisStore) RemoveFromMonitoring(ctx context.Context, group, taskID string) error {
	return errors.Wrap(m.client.HDel(ctx, m.key(NamespaceMonitoring, group), taskID).Err(), "failed to remove task from monitoring")
}

func (m *redisStore) MonitoringTasks(ctx context.Context, group string) ([]map[string]any, error) {
	members, err := m.client.HGetAll(ctx, m.key(NamespaceMonitoring, group)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monitoring tasks")
	}

	tasks := make([]map[string]any, 0, len(members))
	for id, item := range members {
		var task map[string]any
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal task", "task_id", id, "err", err.Error())
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (m *redisStore) IncrMetric(ctx context.Context, key string, amount int64) (int64, error) {
	n, err := m.client.IncrBy(ctx, m.key(NamespaceMetric, key), amount).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to increment metric")
	}
	return n, nil
}

func (m *redisStore) Metric(ctx context.Context, key string) (int64, error) {
	n, err := m.client.Get(ctx, m.key(NamespaceMetric, key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to get metric")
	}
	return n, nil
}

func (m *redisStore) ResetMetrics(ctx context.Context) (int, error) {
	n, err := m.deleteMatching(ctx, m.key(NamespaceMetric, "*"))
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset metrics")
	}
	logger.ContextKV(ctx, xlog.INFO, "status", "metrics_reset", "count", n)
	return n, nil
}

func (m *redisStore) Health(ctx context.Context) Health {
	if err := m.client.Ping(ctx).Err(); err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "ping", "err", err.Error())
		return Health{Status: StatusUnhealthy, Error: err.Error()}
	}

	h := Health{Status: StatusHealthy}
	info, err := m.client.Info(ctx, "server").Result()
	if err != nil {
		return h
	}
	values := parseInfo(info)
	h.Version = values["redis_version"]
	h.UptimeSeconds, _ = strconv.ParseInt(values["uptime_in_seconds"], 10, 64)
	return h
}

func (m *redisStore) Close() error {
	return m.client.Close()
}

// parseInfo parses the `key:value` lines of the INFO reply
func parseInfo(info string) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			values[k] = v
		}
	}
	return values
}
