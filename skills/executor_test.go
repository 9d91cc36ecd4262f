package skills_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/mocks/mockmcp"
	"github.com/effective-security/cwagent/skills"
	"github.com/effective-security/cwagent/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = func() time.Time {
	return time.Date(2026, 1, 2, 18, 30, 0, 0, time.UTC)
}

func TestDefaultSkills(t *testing.T) {
	c := skills.DefaultSkills()
	assert.Equal(t, []string{
		"analyze-trends",
		"batch-track",
		"calculate-kpis",
		"calculate-route",
		"escalate-problem",
		"find-alternatives",
		"forecast-performance",
		"generate-report",
		"handle-exception",
		"optimize-route",
		"predict-delay",
		"query-database",
		"resolve-issue",
		"search-shipments",
		"track-shipment",
		"track-vessel",
		"update-eta",
	}, c.Names())

	list := c.List()
	require.Len(t, list, 17)
	for _, s := range list {
		assert.NotEmpty(t, s.Tool, s.Name)
		assert.NotEmpty(t, s.Group, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}
}

func TestSkillArgs(t *testing.T) {
	c := skills.DefaultSkills()

	tcases := []struct {
		skill  string
		params skills.Params
		exp    map[string]any
		err    string
	}{
		{
			skill:  "track-shipment",
			params: skills.Params{"shipment_id": "SH-12345"},
			exp:    map[string]any{"identifier": "SH-12345"},
		},
		{
			skill:  "track-shipment",
			params: skills.Params{"shipment_id": "", "identifier": "CONT-1"},
			exp:    map[string]any{"identifier": "CONT-1"},
		},
		{
			skill:  "track-shipment",
			params: nil,
			exp:    map[string]any{"identifier": nil},
		},
		{
			skill:  "search-shipments",
			params: skills.Params{"query": map[string]any{"status": "delayed"}},
			exp:    map[string]any{"query": map[string]any{"status": "delayed"}, "limit": 50},
		},
		{
			skill:  "batch-track",
			params: skills.Params{},
			err:    "missing required parameter 'shipment_ids'",
		},
		{
			skill:  "update-eta",
			params: skills.Params{"shipment_id": "SH-1", "new_eta": "2026-01-05T14:00:00Z"},
			exp:    map[string]any{"shipment_id": "SH-1", "new_eta": "2026-01-05T14:00:00Z", "reason": ""},
		},
		{
			skill:  "update-eta",
			params: skills.Params{"shipment_id": "SH-1"},
			err:    "missing required parameter 'new_eta'",
		},
		{
			skill:  "calculate-route",
			params: skills.Params{"origin": "Shanghai", "destination": "Rotterdam", "mode": "sea"},
			exp:    map[string]any{"origin": "Shanghai", "destination": "Rotterdam", "mode": "sea"},
		},
		{
			skill:  "optimize-route",
			params: skills.Params{"stops": []any{"A", "B"}},
			exp:    map[string]any{"stops": []any{"A", "B"}, "start_location": nil, "end_location": nil},
		},
		{
			skill:  "find-alternatives",
			params: skills.Params{"origin": "A", "destination": "B"},
			exp:    map[string]any{"origin": "A", "destination": "B", "num_alternatives": 3},
		},
		{
			skill:  "handle-exception",
			params: skills.Params{"shipment_id": "SH-1", "exception_type": "damage", "description": "wet cargo"},
			exp:    map[string]any{"shipment_id": "SH-1", "exception_type": "damage", "description": "wet cargo", "severity": "medium"},
		},
		{
			skill:  "escalate-problem",
			params: skills.Params{"exception_id": "EX-1"},
			exp:    map[string]any{"exception_id": "EX-1", "escalation_level": "manager"},
		},
		{
			skill:  "calculate-kpis",
			params: skills.Params{},
			exp:    map[string]any{"kpi_types": []string{"on_time_delivery"}, "timeframe": "monthly"},
		},
		{
			skill:  "analyze-trends",
			params: skills.Params{"metric": "transit_time", "period_count": 6},
			exp:    map[string]any{"metric": "transit_time", "timeframe": "monthly", "period_count": 6},
		},
		{
			skill:  "track-vessel",
			params: skills.Params{"name": "EVER GIVEN"},
			exp:    map[string]any{"vessel_name": "EVER GIVEN"},
		},
		{
			skill:  "query-database",
			params: skills.Params{},
			err:    "missing required parameter 'query_type'",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.skill, func(t *testing.T) {
			args, err := c[tc.skill].Args(tc.params)
			if tc.err != "" {
				assert.EqualError(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, args)
		})
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	inv := mockmcp.NewMockInvoker(ctrl)
	st := store.NewMemoryStore()
	e := skills.NewExecutor(inv, skills.WithStore(st), skills.WithClock(fixedNow))

	inv.EXPECT().Invoke(ctx, "track_shipment", map[string]any{"identifier": "SH-12345"}).
		Return(map[string]any{"status": "in_transit"}, nil)

	res := e.Execute(ctx, "track-shipment", skills.Params{"shipment_id": "SH-12345"})
	assert.Equal(t, &skills.Result{
		Success:   true,
		Skill:     "track-shipment",
		Result:    map[string]any{"status": "in_transit"},
		Timestamp: "2026-01-02T18:30:00Z",
	}, res)

	n, err := st.Metric(ctx, "skill:track-shipment:succeeded")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExecuteFailures(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	inv := mockmcp.NewMockInvoker(ctrl)
	st := store.NewMemoryStore()
	e := skills.NewExecutor(inv, skills.WithStore(st), skills.WithClock(fixedNow))

	res := e.Execute(ctx, "teleport", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown skill: teleport", res.Error)
	assert.Equal(t, skills.KindUnknownSkill, res.Kind)
	assert.Equal(t, e.Skills(), res.AvailableSkills)
	assert.Empty(t, res.Skill)

	res = e.Execute(ctx, "batch-track", skills.Params{})
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid parameters for skill 'batch-track': missing required parameter 'shipment_ids'", res.Error)
	assert.Equal(t, skills.KindInvalidParameters, res.Kind)

	inv.EXPECT().Invoke(ctx, "track_shipment", gomock.Any()).
		Return(nil, &mcp.ToolError{Code: -32000, Message: "shipment not found"})
	res = e.Execute(ctx, "track-shipment", skills.Params{"shipment_id": "SH-0"})
	assert.False(t, res.Success)
	assert.Equal(t, "track-shipment", res.Skill)
	assert.Equal(t, "tool_error", res.Kind)
	assert.Contains(t, res.Error, "shipment not found")

	inv.EXPECT().Invoke(ctx, "calculate_kpis", gomock.Any()).
		Return(nil, mcp.CircuitOpenError("open"))
	res = e.Execute(ctx, "calculate-kpis", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "circuit_open", res.Kind)

	inv.EXPECT().Invoke(ctx, "analyze_trends", gomock.Any()).
		Return(nil, errors.New("boom"))
	res = e.Execute(ctx, "analyze-trends", skills.Params{"metric": "cost"})
	assert.Equal(t, "internal_error", res.Kind)
	assert.Equal(t, "boom", res.Error)

	n, err := st.Metric(ctx, "skill:batch-track:failed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestParams(t *testing.T) {
	p := skills.Params{"a": "", "b": 0, "c": "x"}
	assert.Equal(t, 0, p.First("a", "b", "c"))
	assert.Equal(t, "x", p.First("a", "c"))
	assert.Nil(t, p.First("a", "z"))
	assert.Equal(t, "", p.Get("a", "def"))
	assert.Equal(t, "def", p.Get("z", "def"))
}

func TestCustomCatalog(t *testing.T) {
	ctrl := gomock.NewController(t)
	inv := mockmcp.NewMockInvoker(ctrl)
	e := skills.NewExecutor(inv, skills.WithCatalog(skills.NewCatalog()))
	assert.Empty(t, e.Skills())
	assert.Empty(t, e.Catalog())
}

func TestGroups(t *testing.T) {
	c := skills.DefaultSkills()
	assert.Equal(t, []string{"analytics", "exception", "routing", "tracking"}, c.Groups())
	assert.Equal(t, []string{"calculate-route", "find-alternatives", "optimize-route"}, c.Group(skills.GroupRouting).Names())
	assert.Empty(t, c.Group("billing"))
}
