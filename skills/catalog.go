package skills

// DefaultSkills returns the logistics skills served by the agent
func DefaultSkills() Catalog {
	return NewCatalog(
		// tracking
		&Skill{
			Name:        "track-shipment",
			Tool:        "track_shipment",
			Group:       GroupTracking,
			Description: "Track individual shipment by ID and get current status, location, and ETA",
			args: func(p Params) map[string]any {
				return map[string]any{"identifier": p.First("shipment_id", "identifier")}
			},
		},
		&Skill{
			Name:        "search-shipments",
			Tool:        "search_shipments",
			Group:       GroupTracking,
			Description: "Search shipments by various criteria (status, customer, date range, etc.)",
			args: func(p Params) map[string]any {
				return map[string]any{
					"query": p.Get("query", map[string]any{}),
					"limit": p.Get("limit", 50),
				}
			},
		},
		&Skill{
			Name:        "batch-track",
			Tool:        "batch_track_shipments",
			Group:       GroupTracking,
			Description: "Track multiple shipments in batch (up to 50 shipments)",
			Required:    []string{"shipment_ids"},
			args: func(p Params) map[string]any {
				return map[string]any{"shipment_ids": p["shipment_ids"]}
			},
		},
		&Skill{
			Name:        "update-eta",
			Tool:        "update_eta",
			Group:       GroupTracking,
			Description: "Update estimated time of arrival for a shipment",
			Required:    []string{"shipment_id", "new_eta"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"shipment_id": p["shipment_id"],
					"new_eta":     p["new_eta"],
					"reason":      p.Get("reason", ""),
				}
			},
		},
		&Skill{
			Name:        "track-vessel",
			Tool:        "real_time_vessel_tracking",
			Group:       GroupTracking,
			Description: "Track a vessel in real-time using AIS data",
			args: func(p Params) map[string]any {
				return map[string]any{"vessel_name": p.First("vessel_name", "name")}
			},
		},
		&Skill{
			Name:        "predict-delay",
			Tool:        "predictive_delay_detection",
			Group:       GroupTracking,
			Description: "Predict if a shipment will be delayed, with probability and risk factors",
			args: func(p Params) map[string]any {
				return map[string]any{"identifier": p.First("shipment_id", "identifier")}
			},
		},

		// routing
		&Skill{
			Name:        "calculate-route",
			Tool:        "calculate_route",
			Group:       GroupRouting,
			Description: "Calculate optimal route between origin and destination with mode and constraints",
			Required:    []string{"origin", "destination"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"origin":      p["origin"],
					"destination": p["destination"],
					"mode":        p.Get("mode", "road"),
				}
			},
		},
		&Skill{
			Name:        "optimize-route",
			Tool:        "optimize_multi_stop_route",
			Group:       GroupRouting,
			Description: "Optimize route for multiple waypoints to minimize distance/time/cost",
			Required:    []string{"stops"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"stops":          p["stops"],
					"start_location": p.Get("start_location", nil),
					"end_location":   p.Get("end_location", nil),
				}
			},
		},
		&Skill{
			Name:        "find-alternatives",
			Tool:        "find_alternative_routes",
			Group:       GroupRouting,
			Description: "Find alternative routes when primary route has issues",
			Required:    []string{"origin", "destination"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"origin":           p["origin"],
					"destination":      p["destination"],
					"num_alternatives": p.Get("num_alternatives", 3),
				}
			},
		},

		// exceptions
		&Skill{
			Name:        "handle-exception",
			Tool:        "log_exception",
			Group:       GroupExceptions,
			Description: "Handle and log shipping exceptions (delays, damage, lost items, etc.)",
			Required:    []string{"shipment_id", "exception_type", "description"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"shipment_id":    p["shipment_id"],
					"exception_type": p["exception_type"],
					"description":    p["description"],
					"severity":       p.Get("severity", "medium"),
				}
			},
		},
		&Skill{
			Name:        "resolve-issue",
			Tool:        "resolve_exception",
			Group:       GroupExceptions,
			Description: "Mark an exception as resolved with resolution details",
			Required:    []string{"exception_id", "resolution"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"exception_id": p["exception_id"],
					"resolution":   p["resolution"],
				}
			},
		},
		&Skill{
			Name:        "escalate-problem",
			Tool:        "escalate_exception",
			Group:       GroupExceptions,
			Description: "Escalate unresolved exception to higher management level",
			Required:    []string{"exception_id"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"exception_id":     p["exception_id"],
					"escalation_level": p.Get("escalation_level", "manager"),
				}
			},
		},

		// analytics
		&Skill{
			Name:        "generate-report",
			Tool:        "generate_report",
			Group:       GroupAnalytics,
			Description: "Generate analytics report for specified timeframe",
			Required:    []string{"report_type"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"report_type": p["report_type"],
					"filters":     p.Get("filters", map[string]any{}),
					"timeframe":   p.Get("timeframe", "weekly"),
				}
			},
		},
		&Skill{
			Name:        "calculate-kpis",
			Tool:        "calculate_kpis",
			Group:       GroupAnalytics,
			Description: "Calculate key performance indicators for shipment operations",
			args: func(p Params) map[string]any {
				return map[string]any{
					"kpi_types": p.Get("kpi_types", []string{"on_time_delivery"}),
					"timeframe": p.Get("timeframe", "monthly"),
				}
			},
		},
		&Skill{
			Name:        "analyze-trends",
			Tool:        "analyze_trends",
			Group:       GroupAnalytics,
			Description: "Analyze trends in shipment data and identify patterns",
			Required:    []string{"metric"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"metric":       p["metric"],
					"timeframe":    p.Get("timeframe", "monthly"),
					"period_count": p.Get("period_count", 12),
				}
			},
		},
		&Skill{
			Name:        "forecast-performance",
			Tool:        "forecast_performance",
			Group:       GroupAnalytics,
			Description: "Forecast future performance based on historical data",
			Required:    []string{"metric"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"metric":           p["metric"],
					"forecast_periods": p.Get("forecast_periods", 6),
				}
			},
		},
		&Skill{
			Name:        "query-database",
			Tool:        "query_database",
			Group:       GroupAnalytics,
			Description: "Query database for specific information",
			Required:    []string{"query_type"},
			args: func(p Params) map[string]any {
				return map[string]any{
					"query_type": p["query_type"],
					"parameters": p.Get("parameters", map[string]any{}),
				}
			},
		},
	)
}
