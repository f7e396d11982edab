/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/juanpasaflipz/legator-governance/internal/governance/observability"
)

func TestObservabilityStore_InsertEventThenFindByDedupeKey(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewObservabilityStore(openTestDB(t))

	dedupe := "run-1:tool_call:1"
	e := observability.Event{
		ID:          uuid.New().String(),
		WorkspaceID: 1,
		EventType:   "tool_call",
		Status:      observability.StatusSuccess,
		TokensIn:    100,
		TokensOut:   50,
		CostUSD:     decimal.NewFromFloat(0.01),
		Payload:     map[string]any{"tool": "web_search"},
		DedupeKey:   &dedupe,
		CreatedAt:   time.Now().UTC(),
	}
	g.Expect(s.InsertEvent(e)).To(gomega.Succeed())

	got, found, err := s.FindByDedupeKey(1, dedupe)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(found).To(gomega.BeTrue())
	g.Expect(got.EventType).To(gomega.Equal("tool_call"))
	g.Expect(got.CostUSD.Equal(decimal.NewFromFloat(0.01))).To(gomega.BeTrue())
	g.Expect(got.Payload).To(gomega.HaveKeyWithValue("tool", "web_search"))
}

func TestObservabilityStore_InsertEventDuplicateDedupeKeyIsIgnored(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewObservabilityStore(openTestDB(t))

	dedupe := "run-1:tool_call:1"
	first := observability.Event{ID: uuid.New().String(), WorkspaceID: 1, EventType: "tool_call", Status: observability.StatusSuccess, CostUSD: decimal.Zero, DedupeKey: &dedupe, CreatedAt: time.Now().UTC()}
	second := observability.Event{ID: uuid.New().String(), WorkspaceID: 1, EventType: "tool_call", Status: observability.StatusSuccess, CostUSD: decimal.Zero, DedupeKey: &dedupe, CreatedAt: time.Now().UTC()}

	g.Expect(s.InsertEvent(first)).To(gomega.Succeed())
	g.Expect(s.InsertEvent(second)).To(gomega.Succeed())

	var count int
	g.Expect(s.db.QueryRow(`SELECT COUNT(*) FROM obs_events WHERE dedupe_key = ?`, dedupe).Scan(&count)).To(gomega.Succeed())
	g.Expect(count).To(gomega.Equal(1))
}

func TestObservabilityStore_RunLifecycle(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewObservabilityStore(openTestDB(t))

	runID := uuid.New().String()
	err := s.InsertRun(observability.Run{ID: runID, WorkspaceID: 1, Status: observability.StatusInfo, StartedAt: time.Now().UTC()})
	g.Expect(err).NotTo(gomega.HaveOccurred())

	got, found, err := s.GetRun(runID)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(found).To(gomega.BeTrue())
	g.Expect(got.FinishedAt).To(gomega.BeNil())

	finished := time.Now().UTC()
	got.Status = observability.StatusSuccess
	got.TokensIn = 200
	got.EventCount = 3
	got.FinishedAt = &finished
	g.Expect(s.UpdateRun(got)).To(gomega.Succeed())

	reloaded, found, err := s.GetRun(runID)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(found).To(gomega.BeTrue())
	g.Expect(reloaded.Status).To(gomega.Equal(observability.StatusSuccess))
	g.Expect(reloaded.TokensIn).To(gomega.Equal(int64(200)))
	g.Expect(reloaded.FinishedAt).NotTo(gomega.BeNil())
}

func TestObservabilityStore_SumCostSinceUTCMidnightScopesByAgent(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewObservabilityStore(openTestDB(t))

	agentA := int64(1)
	agentB := int64(2)
	now := time.Now().UTC()
	g.Expect(s.InsertEvent(observability.Event{ID: uuid.New().String(), WorkspaceID: 1, AgentID: &agentA, EventType: "run", Status: observability.StatusSuccess, CostUSD: decimal.NewFromInt(5), CreatedAt: now})).To(gomega.Succeed())
	g.Expect(s.InsertEvent(observability.Event{ID: uuid.New().String(), WorkspaceID: 1, AgentID: &agentB, EventType: "run", Status: observability.StatusSuccess, CostUSD: decimal.NewFromInt(7), CreatedAt: now})).To(gomega.Succeed())

	total, err := s.SumCostSinceUTCMidnight(1, nil)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(total.Equal(decimal.NewFromInt(12))).To(gomega.BeTrue())

	scoped, err := s.SumCostSinceUTCMidnight(1, &agentA)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(scoped.Equal(decimal.NewFromInt(5))).To(gomega.BeTrue())
}

func TestObservabilityStore_DeleteEventsBeforeCutoffIsScopedToWorkspace(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewObservabilityStore(openTestDB(t))

	now := time.Now().UTC()
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	g.Expect(s.InsertEvent(observability.Event{ID: uuid.New().String(), WorkspaceID: 1, EventType: "run", Status: observability.StatusSuccess, CostUSD: decimal.Zero, CreatedAt: old})).To(gomega.Succeed())
	g.Expect(s.InsertEvent(observability.Event{ID: uuid.New().String(), WorkspaceID: 1, EventType: "run", Status: observability.StatusSuccess, CostUSD: decimal.Zero, CreatedAt: recent})).To(gomega.Succeed())
	g.Expect(s.InsertEvent(observability.Event{ID: uuid.New().String(), WorkspaceID: 2, EventType: "run", Status: observability.StatusSuccess, CostUSD: decimal.Zero, CreatedAt: old})).To(gomega.Succeed())

	cutoff := now.Add(-7 * 24 * time.Hour)
	deleted, err := s.DeleteEventsBefore(1, cutoff, 100)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(deleted).To(gomega.Equal(int64(1)))

	var remainingWorkspace2 int
	g.Expect(s.db.QueryRow(`SELECT COUNT(*) FROM obs_events WHERE workspace_id = 2`).Scan(&remainingWorkspace2)).To(gomega.Succeed())
	g.Expect(remainingWorkspace2).To(gomega.Equal(1), "the delete must not touch other workspaces")
}

func TestObservabilityStore_DailyMetricsUpsertRoundTrips(t *testing.T) {
	g := gomega.NewWithT(t)
	s := NewObservabilityStore(openTestDB(t))

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	m := observability.DailyMetrics{
		WorkspaceID:   1,
		AgentID:       5,
		Date:          day,
		RunsTotal:     3,
		RunsSuccess:   2,
		RunsFailed:    1,
		TokensIn:      1000,
		CostUSD:       decimal.NewFromFloat(1.5),
		LastHeartbeat: day,
		ModelsUsed:    map[string]int64{"gpt-4o": 3},
	}
	g.Expect(s.Upsert(m)).To(gomega.Succeed())

	m.RunsTotal = 5
	m.ModelsUsed = map[string]int64{"gpt-4o": 5}
	g.Expect(s.Upsert(m)).To(gomega.Succeed())

	var runsTotal int64
	g.Expect(s.db.QueryRow(`SELECT runs_total FROM obs_daily_metrics WHERE workspace_id = ? AND agent_id = ? AND date = ?`, 1, 5, "2026-08-01").Scan(&runsTotal)).To(gomega.Succeed())
	g.Expect(runsTotal).To(gomega.Equal(int64(5)))
}
