/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tenant

import (
	"testing"
	"time"

	"github.com/onsi/gomega"
)

type fakeStore struct {
	tiers map[int64]*Tier
}

func newFakeStore() *fakeStore { return &fakeStore{tiers: make(map[int64]*Tier)} }

func (f *fakeStore) GetTier(workspaceID int64) (*Tier, error) { return f.tiers[workspaceID], nil }

func (f *fakeStore) UpsertTier(t Tier) error {
	cp := t
	f.tiers[t.WorkspaceID] = &cp
	return nil
}

type fakeAgentCounter struct {
	counts  map[int64]int
	history map[int64]bool
}

func (f fakeAgentCounter) CountAgents(workspaceID int64) (int, error) { return f.counts[workspaceID], nil }

func (f fakeAgentCounter) AgentHasHistory(agentID int64) (bool, error) { return f.history[agentID], nil }

func TestRegistry_UnknownWorkspaceFallsBackToFreeTier(t *testing.T) {
	g := gomega.NewWithT(t)

	r := NewRegistry(newFakeStore(), fakeAgentCounter{})

	tier, err := r.GetWorkspaceTier(42)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(tier.Name).To(gomega.Equal("free"))
	g.Expect(tier.AgentLimit).To(gomega.Equal(DefaultFreeTier.AgentLimit))
}

func TestRegistry_CheckAgentLimitDeniesAtCeiling(t *testing.T) {
	g := gomega.NewWithT(t)

	store := newFakeStore()
	store.tiers[1] = &Tier{WorkspaceID: 1, Name: "pro", AgentLimit: 2}
	r := NewRegistry(store, fakeAgentCounter{counts: map[int64]int{1: 2}})

	allowed, reason, err := r.CheckAgentLimit(1)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(allowed).To(gomega.BeFalse())
	g.Expect(reason).NotTo(gomega.BeEmpty())
}

func TestRegistry_CheckAgentLimitAllowsBelowCeiling(t *testing.T) {
	g := gomega.NewWithT(t)

	store := newFakeStore()
	store.tiers[1] = &Tier{WorkspaceID: 1, Name: "pro", AgentLimit: 5}
	r := NewRegistry(store, fakeAgentCounter{counts: map[int64]int{1: 2}})

	allowed, _, err := r.CheckAgentLimit(1)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(allowed).To(gomega.BeTrue())
}

func TestRegistry_CheckAgentAllowedGrandfathersHistoricAgent(t *testing.T) {
	g := gomega.NewWithT(t)

	store := newFakeStore()
	store.tiers[1] = &Tier{WorkspaceID: 1, Name: "pro", AgentLimit: 1}
	r := NewRegistry(store, fakeAgentCounter{
		counts:  map[int64]int{1: 5},
		history: map[int64]bool{99: true},
	})

	allowed, _, err := r.CheckAgentAllowed(1, 99)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(allowed).To(gomega.BeTrue(), "an agent with event history must be grandfathered past a lowered limit")
}

func TestRegistry_UpsertTierInvalidatesCache(t *testing.T) {
	g := gomega.NewWithT(t)

	store := newFakeStore()
	r := NewRegistry(store, fakeAgentCounter{})

	first, err := r.GetWorkspaceTier(7)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(first.Name).To(gomega.Equal("free"))

	g.Expect(r.UpsertTier(Tier{WorkspaceID: 7, Name: "enterprise", AgentLimit: 1000})).To(gomega.Succeed())

	second, err := r.GetWorkspaceTier(7)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(second.Name).To(gomega.Equal("enterprise"))
}

func TestRegistry_GetRetentionCutoffIsRetentionDaysPlusOneDayBack(t *testing.T) {
	g := gomega.NewWithT(t)

	store := newFakeStore()
	store.tiers[1] = &Tier{WorkspaceID: 1, Name: "free", RetentionDays: 7}
	r := NewRegistry(store, fakeAgentCounter{})
	fixedNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixedNow }

	cutoff, err := r.GetRetentionCutoff(1)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cutoff).To(gomega.Equal(fixedNow.AddDate(0, 0, -7).Add(-24 * time.Hour)))
}
