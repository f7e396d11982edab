/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package observability

import (
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

type fakeDailyMetricsStore struct {
	upserted []DailyMetrics
}

func (f *fakeDailyMetricsStore) Upsert(m DailyMetrics) error {
	f.upserted = append(f.upserted, m)
	return nil
}

func TestAggregator_AggregateDailyRollsUpPerAgent(t *testing.T) {
	g := gomega.NewWithT(t)

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	runID := "run-1"
	latency := int64(120)
	store.events["e1"] = Event{
		ID: "e1", WorkspaceID: 1, AgentID: int64Ptr(10), RunID: &runID,
		EventType: "llm_call", Status: StatusSuccess, Model: strPtr("gpt-4o"),
		TokensIn: 10, TokensOut: 20, CostUSD: decimal.NewFromFloat(0.001),
		LatencyMS: &latency, CreatedAt: day.Add(2 * time.Hour),
	}
	store.events["e2"] = Event{
		ID: "e2", WorkspaceID: 1, AgentID: int64Ptr(10),
		EventType: "tool_call", Status: StatusSuccess,
		CreatedAt: day.Add(3 * time.Hour),
	}

	out := &fakeDailyMetricsStore{}
	agg := NewAggregator(store, out)

	produced, err := agg.AggregateDaily(day)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(produced).To(gomega.Equal(1))
	g.Expect(out.upserted).To(gomega.HaveLen(1))
	m := out.upserted[0]
	g.Expect(m.WorkspaceID).To(gomega.Equal(int64(1)))
	g.Expect(m.AgentID).To(gomega.Equal(int64(10)))
	g.Expect(m.RunsTotal).To(gomega.Equal(int64(1)))
	g.Expect(m.RunsSuccess).To(gomega.Equal(int64(1)))
	g.Expect(m.ToolCalls).To(gomega.Equal(int64(1)))
	g.Expect(m.TokensIn).To(gomega.Equal(int64(10)))
	g.Expect(m.ModelsUsed["gpt-4o"]).To(gomega.Equal(int64(1)))
}

func TestAggregator_IgnoresEventsOnOtherDays(t *testing.T) {
	g := gomega.NewWithT(t)

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.events["outside"] = Event{
		ID: "outside", WorkspaceID: 1, AgentID: int64Ptr(10),
		EventType: "tool_call", Status: StatusSuccess,
		CreatedAt: day.AddDate(0, 0, -1),
	}

	out := &fakeDailyMetricsStore{}
	agg := NewAggregator(store, out)

	produced, err := agg.AggregateDaily(day)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(produced).To(gomega.Equal(0))
}
