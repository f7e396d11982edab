/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// fakePolicyStore is an in-memory PolicyStore for evaluator tests.
type fakePolicyStore struct {
	policies []Policy
}

func (f *fakePolicyStore) Upsert(p Policy) (Policy, error) { return p, nil }

func (f *fakePolicyStore) Get(workspaceID int64, agentID *int64, pt PolicyType) (Policy, bool, error) {
	for _, p := range f.policies {
		if p.WorkspaceID == workspaceID && p.PolicyType == pt {
			return p, true, nil
		}
	}
	return Policy{}, false, nil
}

func (f *fakePolicyStore) ListEnabled(workspaceID int64) ([]Policy, error) {
	var out []Policy
	for _, p := range f.policies {
		if p.Enabled && p.WorkspaceID == workspaceID {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeEventStore is an in-memory EventStore for evaluator and executor tests.
type fakeEventStore struct {
	events map[string]Event
	audits []AuditLog
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[string]Event)}
}

func (f *fakeEventStore) FindRecentByPolicy(policyID int64, statuses []EventStatus) (Event, bool, error) {
	var latest Event
	found := false
	for _, e := range f.events {
		if e.PolicyID != policyID {
			continue
		}
		matches := false
		for _, s := range statuses {
			if e.Status == s {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		if !found || e.EvaluatedAt.After(latest.EvaluatedAt) {
			latest = e
			found = true
		}
	}
	return latest, found, nil
}

func (f *fakeEventStore) FindByDedupeKey(key string) (Event, bool, error) {
	for _, e := range f.events {
		if e.DedupeKey == key {
			return e, true, nil
		}
	}
	return Event{}, false, nil
}

func (f *fakeEventStore) Create(e Event) (Event, error) {
	f.events[e.ID] = e
	return e, nil
}

func (f *fakeEventStore) ListPending(limit int) ([]Event, error) {
	var out []Event
	for _, e := range f.events {
		if e.Status == EventPending {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeEventStore) CompareAndTransition(eventID string, newStatus EventStatus, executedAt time.Time, result map[string]any, audit AuditLog) (bool, error) {
	e, ok := f.events[eventID]
	if !ok || e.Status != EventPending {
		return false, nil
	}
	e.Status = newStatus
	e.ExecutedAt = &executedAt
	e.ExecutionResult = result
	f.events[eventID] = e
	f.audits = append(f.audits, audit)
	return true, nil
}

// fakeSpendSource returns a fixed amount regardless of scope.
type fakeSpendSource struct {
	amount decimal.Decimal
	err    error
}

func (f fakeSpendSource) SumCostSinceUTCMidnight(workspaceID int64, agentID *int64) (decimal.Decimal, error) {
	return f.amount, f.err
}

// fakeAgentRepo is an in-memory AgentRepo for executor tests.
type fakeAgentRepo struct {
	agents map[int64]AgentState
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{agents: make(map[int64]AgentState)}
}

func (f *fakeAgentRepo) Get(agentID int64) (AgentState, bool, error) {
	s, ok := f.agents[agentID]
	return s, ok, nil
}

func (f *fakeAgentRepo) SetActive(agentID int64, active bool) error {
	s, ok := f.agents[agentID]
	if !ok {
		return ErrPolicyNotFound
	}
	s.IsActive = active
	f.agents[agentID] = s
	return nil
}

func (f *fakeAgentRepo) SetLLMConfig(agentID int64, cfg map[string]any) error {
	s, ok := f.agents[agentID]
	if !ok {
		return ErrPolicyNotFound
	}
	s.LLMConfig = cfg
	f.agents[agentID] = s
	return nil
}

// fakeNotifier records notifications instead of sending them.
type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(workspaceID int64, message string) error {
	f.messages = append(f.messages, message)
	return nil
}
