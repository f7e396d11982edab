/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package observability

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DailyMetrics is an obs_daily_metrics row: the per (workspace, agent,
// date) rollup produced by the daily aggregator. Upserted idempotently.
type DailyMetrics struct {
	WorkspaceID  int64
	AgentID      int64
	Date         time.Time
	RunsTotal    int64
	RunsSuccess  int64
	RunsFailed   int64
	TokensIn     int64
	TokensOut    int64
	CostUSD      decimal.Decimal
	ToolCalls    int64
	LatencyP50MS float64
	LatencyP95MS float64
	LatencyAvgMS float64
	LastHeartbeat time.Time
	ModelsUsed   map[string]int64
}

// DailyMetricsStore persists the rollup, upserting by (workspace, agent,
// date).
type DailyMetricsStore interface {
	Upsert(m DailyMetrics) error
}

// Aggregator implements §4.13 aggregate_daily.
type Aggregator struct {
	events EventStore
	out    DailyMetricsStore
}

// NewAggregator constructs an Aggregator.
func NewAggregator(events EventStore, out DailyMetricsStore) *Aggregator {
	return &Aggregator{events: events, out: out}
}

// AggregateDaily rolls up every (workspace, agent) pair that has events
// on targetDate (UTC day) into a DailyMetrics row.
func (a *Aggregator) AggregateDaily(targetDate time.Time) (int, error) {
	day := targetDate.UTC().Truncate(24 * time.Hour)

	byWorkspace, err := a.events.DistinctAgentsWithEventsOnDay(day)
	if err != nil {
		return 0, err
	}

	produced := 0
	for workspaceID, agentIDs := range byWorkspace {
		events, err := a.events.EventsForDay(workspaceID, day)
		if err != nil {
			continue
		}
		byAgent := groupByAgent(events, agentIDs)
		for agentID, agentEvents := range byAgent {
			m := rollup(workspaceID, agentID, day, agentEvents)
			if err := a.out.Upsert(m); err != nil {
				continue
			}
			produced++
		}
	}
	return produced, nil
}

func groupByAgent(events []Event, agentIDs []int64) map[int64][]Event {
	out := make(map[int64][]Event, len(agentIDs))
	for _, id := range agentIDs {
		out[id] = nil
	}
	for _, e := range events {
		if e.AgentID == nil {
			continue
		}
		out[*e.AgentID] = append(out[*e.AgentID], e)
	}
	return out
}

func rollup(workspaceID, agentID int64, day time.Time, events []Event) DailyMetrics {
	m := DailyMetrics{
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		Date:        day,
		CostUSD:     decimal.Zero,
		ModelsUsed:  map[string]int64{},
	}

	var llmLatencies []float64
	runIDsSeen := map[string]struct{}{}

	for _, e := range events {
		if e.RunID != nil {
			if _, seen := runIDsSeen[*e.RunID]; !seen {
				runIDsSeen[*e.RunID] = struct{}{}
				m.RunsTotal++
				switch e.Status {
				case StatusSuccess:
					m.RunsSuccess++
				case StatusError:
					m.RunsFailed++
				}
			}
		}

		m.TokensIn += e.TokensIn
		m.TokensOut += e.TokensOut
		m.CostUSD = m.CostUSD.Add(e.CostUSD)

		if e.EventType == "tool_call" {
			m.ToolCalls++
		}
		if e.EventType == "llm_call" && e.LatencyMS != nil {
			llmLatencies = append(llmLatencies, float64(*e.LatencyMS))
		}
		if e.Model != nil {
			m.ModelsUsed[*e.Model]++
		}
		if e.EventType == "heartbeat" && e.CreatedAt.After(m.LastHeartbeat) {
			m.LastHeartbeat = e.CreatedAt
		}
	}

	m.LatencyP50MS, m.LatencyP95MS, m.LatencyAvgMS = percentiles(llmLatencies)
	return m
}

func percentiles(values []float64) (p50, p95, avg float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	avg = sum / float64(len(sorted))
	p50 = percentileAt(sorted, 0.50)
	p95 = percentileAt(sorted, 0.95)
	return p50, p95, avg
}

func percentileAt(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
