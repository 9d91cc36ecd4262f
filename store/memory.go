package store

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type entry struct {
	data    []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type inMemory struct {
	mu         sync.RWMutex
	now        func() time.Time
	values     map[string]entry
	metrics    map[string]int64
	monitoring map[string]map[string][]byte
}

// MemoryOption configures the in-memory store
type MemoryOption func(*inMemory)

// WithMemoryClock replaces time.Now, used in tests
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *inMemory) {
		m.now = now
	}
}

// NewMemoryStore returns Store that keeps values in process memory
func NewMemoryStore(opts ...MemoryOption) Store {
	m := &inMemory{
		now:        time.Now,
		values:     make(map[string]entry),
		metrics:    make(map[string]int64),
		monitoring: make(map[string]map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func memKey(namespace, key string) string {
	return namespace + ":" + key
}

func (m *inMemory) get(key string, v any) (bool, error) {
	m.mu.RLock()
	e, ok := m.values[key]
	m.mu.RUnlock()
	if !ok || e.expired(m.now()) {
		return false, nil
	}
	if err := json.Unmarshal(e.data, v); err != nil {
		return false, errors.Wrapf(err, "failed to unmarshal %s", key)
	}
	return true, nil
}

func (m *inMemory) set(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}
	e := entry{data: data}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.values[key] = e
	m.mu.Unlock()
	return nil
}

func (m *inMemory) del(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

func (m *inMemory) GetState(_ context.Context, key string, v any) (bool, error) {
	return m.get(memKey(NamespaceState, key), v)
}

func (m *inMemory) SetState(_ context.Context, key string, v any, ttl time.Duration) error {
	return m.set(memKey(NamespaceState, key), v, ttl)
}

func (m *inMemory) DeleteState(_ context.Context, key string) error {
	m.del(memKey(NamespaceState, key))
	return nil
}

func (m *inMemory) ExistsState(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	e, ok := m.values[memKey(NamespaceState, key)]
	m.mu.RUnlock()
	return ok && !e.expired(m.now()), nil
}

func (m *inMemory) GetCache(_ context.Context, key string, v any) (bool, error) {
	return m.get(memKey(NamespaceCache, key), v)
}

func (m *inMemory) SetCache(_ context.Context, key string, v any, ttl time.Duration) error {
	return m.set(memKey(NamespaceCache, key), v, cacheTTL(ttl))
}

func (m *inMemory) DeleteCache(_ context.Context, key string) error {
	m.del(memKey(NamespaceCache, key))
	return nil
}

func (m *inMemory) ClearCache(_ context.Context, pattern string) (int, error) {
	match := memKey(NamespaceCache, pattern)
	if _, err := path.Match(match, ""); err != nil {
		return 0, errors.Wrapf(err, "invalid pattern %q", pattern)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for k := range m.values {
		if ok, _ := path.Match(match, k); ok {
			delete(m.values, k)
			count++
		}
	}
	return count, nil
}

func (m *inMemory) AddToMonitoring(_ context.Context, group, taskID string, data map[string]any) error {
	task := make(map[string]any, len(data)+1)
	for k, v := range data {
		task[k] = v
	}
	task["task_id"] = taskID

	js, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.monitoring[group]
	if tasks == nil {
		tasks = make(map[string][]byte)
		m.monitoring[group] = tasks
	}
	tasks[taskID] = js
	return nil
}

func (m *inMemory) RemoveFromMonitoring(_ context.Context, group, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.monitoring[group], taskID)
	return nil
}

func (m *inMemory) MonitoringTasks(_ context.Context, group string) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]map[string]any, 0, len(m.monitoring[group]))
	for _, js := range m.monitoring[group] {
		var task map[string]any
		if err := json.Unmarshal(js, &task); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal task")
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (m *inMemory) IncrMetric(_ context.Context, key string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[key] += amount
	return m.metrics[key], nil
}

func (m *inMemory) Metric(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics[key], nil
}

func (m *inMemory) ResetMetrics(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.metrics)
	m.metrics = make(map[string]int64)
	return n, nil
}

func (m *inMemory) Health(_ context.Context) Health {
	return Health{Status: StatusMemory}
}

func (m *inMemory) Close() error {
	return nil
}
