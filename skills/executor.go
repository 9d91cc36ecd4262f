// Package skills maps agent skills to tools on the server and executes them.
package skills

import (
	"context"
	"time"

	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/pkg/metricskey"
	"github.com/effective-security/cwagent/store"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/cwagent", "skills")

// Failure kinds reported by the executor in addition to mcp.Kind
const (
	KindUnknownSkill      = "unknown_skill"
	KindInvalidParameters = "invalid_parameters"
)

// Result of a skill execution.
// Failures are reported in the payload, Execute never returns an error.
type Result struct {
	Success         bool     `json:"success"`
	Skill           string   `json:"skill,omitempty"`
	Result          any      `json:"result,omitempty"`
	Error           string   `json:"error,omitempty"`
	Kind            string   `json:"kind,omitempty"`
	AvailableSkills []string `json:"available_skills,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// Executor calls the tool of a skill through the invoker
type Executor struct {
	invoker mcp.Invoker
	catalog Catalog
	store   store.Store
	now     func() time.Time
}

// Option configures Executor
type Option func(*Executor)

// WithCatalog replaces the default skills
func WithCatalog(c Catalog) Option {
	return func(e *Executor) {
		e.catalog = c
	}
}

// WithStore enables execution counters in the store
func WithStore(st store.Store) Option {
	return func(e *Executor) {
		e.store = st
	}
}

// WithClock replaces time.Now, used in tests
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor returns Executor
func NewExecutor(invoker mcp.Invoker, opts ...Option) *Executor {
	e := &Executor{
		invoker: invoker,
		catalog: DefaultSkills(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	logger.KV(xlog.INFO, "status", "executor_created", "skills", len(e.catalog))
	return e
}

// Skills returns sorted skill names
func (e *Executor) Skills() []string {
	return e.catalog.Names()
}

// Catalog returns the skills of the executor
func (e *Executor) Catalog() Catalog {
	return e.catalog
}

// Execute runs the skill with the parameters
func (e *Executor) Execute(ctx context.Context, name string, params Params) *Result {
	skill, ok := e.catalog[name]
	if !ok {
		metricskey.StatsSkillsExecuted.IncrCounter(1, "unknown", "failed")
		return &Result{
			Error:           "Unknown skill: " + name,
			Kind:            KindUnknownSkill,
			AvailableSkills: e.Skills(),
			Timestamp:       e.timestamp(),
		}
	}

	args, err := skill.Args(params)
	if err != nil {
		e.count(ctx, name, false)
		return &Result{
			Error:     "Invalid parameters for skill '" + name + "': " + err.Error(),
			Kind:      KindInvalidParameters,
			Timestamp: e.timestamp(),
		}
	}

	started := time.Now()
	res, err := e.invoker.Invoke(ctx, skill.Tool, args)
	metricskey.PerfSkillCall.MeasureSince(started, name)
	if err != nil {
		e.count(ctx, name, false)
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "execute",
			"skill", name,
			"tool", skill.Tool,
			"err", err.Error(),
		)
		return &Result{
			Skill:     name,
			Error:     err.Error(),
			Kind:      mcp.Kind(err),
			Timestamp: e.timestamp(),
		}
	}

	e.count(ctx, name, true)
	return &Result{
		Success:   true,
		Skill:     name,
		Result:    res,
		Timestamp: e.timestamp(),
	}
}

func (e *Executor) count(ctx context.Context, name string, success bool) {
	status := "failed"
	if success {
		status = "succeeded"
	}
	metricskey.StatsSkillsExecuted.IncrCounter(1, name, status)

	if e.store == nil {
		return
	}
	if _, err := e.store.IncrMetric(ctx, "skill:"+name+":"+status, 1); err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "incr_metric", "skill", name, "err", err.Error())
	}
}

func (e *Executor) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}
