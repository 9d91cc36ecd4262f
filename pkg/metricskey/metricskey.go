package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsToolCallsSucceeded is base for counter metric for tool calls succeeded
	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool", "kind"},
	}

	StatsToolCallsRejected = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_rejected",
		Help:         "stats_tool_calls_rejected provides total tool calls rejected by the circuit breaker",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsRetried = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_retried",
		Help:         "stats_tool_calls_retried provides total tool call retries",
		RequiredTags: []string{"tool"},
	}

	StatsBreakerStateChanged = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_breaker_state_changed",
		Help:         "stats_breaker_state_changed provides total circuit breaker transitions",
		RequiredTags: []string{"breaker", "state"},
	}

	StatsCacheHits = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_hits",
		Help:         "stats_cache_hits provides total tool result cache hits",
		RequiredTags: []string{"tool"},
	}

	StatsCacheMisses = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_misses",
		Help:         "stats_cache_misses provides total tool result cache misses",
		RequiredTags: []string{"tool"},
	}

	StatsSkillsExecuted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_skills_executed",
		Help:         "stats_skills_executed provides total skills executed",
		RequiredTags: []string{"skill", "status"},
	}
)

// Perf
var (
	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfPoolBorrow = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_pool_borrow",
		Help:         "perf_pool_borrow provides time spent waiting for a pooled connection",
		RequiredTags: []string{"transport"},
	}

	PerfSkillCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_skill_call",
		Help:         "perf_skill_call provides duration of skill execution",
		RequiredTags: []string{"skill"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfPoolBorrow,
	&PerfSkillCall,
	&PerfToolCall,
	&StatsBreakerStateChanged,
	&StatsCacheHits,
	&StatsCacheMisses,
	&StatsSkillsExecuted,
	&StatsToolCallsFailed,
	&StatsToolCallsRejected,
	&StatsToolCallsRetried,
	&StatsToolCallsSucceeded,
}
