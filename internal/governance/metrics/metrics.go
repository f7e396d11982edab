/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the governance runtime,
// registered against a private registry so embedding callers control
// what gets served.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/histogram the governance runtime exports.
// Naming follows Prometheus convention: governd_ prefix, _total for
// counters, _seconds for duration histograms.
type Metrics struct {
	Registry *prometheus.Registry

	ToolCallsTotal       *prometheus.CounterVec
	CapabilityDeniedTotal *prometheus.CounterVec
	RiskEventsCreatedTotal *prometheus.CounterVec
	RiskEventsExecutedTotal *prometheus.CounterVec
	ApprovalActionsTotal *prometheus.CounterVec
	EnforcementCycleSeconds prometheus.Histogram
	RetentionDeletedTotal   *prometheus.CounterVec
}

// New constructs and registers the governance metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governd_tool_calls_total",
				Help: "Total tool calls dispatched through the Tool Gateway, by tool and status.",
			},
			[]string{"tool", "status"},
		),
		CapabilityDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governd_capability_denied_total",
				Help: "Total tool calls refused by the capability check, by tool.",
			},
			[]string{"tool"},
		),
		RiskEventsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governd_risk_events_created_total",
				Help: "Total RiskEvents created by the evaluator, by policy_type.",
			},
			[]string{"policy_type"},
		),
		RiskEventsExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governd_risk_events_executed_total",
				Help: "Total RiskEvents reaching a terminal state, by action and result.",
			},
			[]string{"action", "result"},
		),
		ApprovalActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governd_approval_actions_total",
				Help: "Total ApprovalActions by final status.",
			},
			[]string{"status"},
		),
		EnforcementCycleSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "governd_enforcement_cycle_seconds",
				Help:    "Duration of enforcement cycles.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 60},
			},
		),
		RetentionDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governd_retention_deleted_total",
				Help: "Total rows deleted by the retention GC, by entity type.",
			},
			[]string{"entity"},
		),
	}

	reg.MustRegister(
		m.ToolCallsTotal,
		m.CapabilityDeniedTotal,
		m.RiskEventsCreatedTotal,
		m.RiskEventsExecutedTotal,
		m.ApprovalActionsTotal,
		m.EnforcementCycleSeconds,
		m.RetentionDeletedTotal,
	)

	return m
}
