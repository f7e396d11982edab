/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package observability

import (
	"time"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory EventStore for ingestion, aggregation, and
// retention tests.
type fakeStore struct {
	events map[string]Event
	runs   map[string]Run
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]Event), runs: make(map[string]Run)}
}

func (f *fakeStore) InsertEvent(e Event) error {
	f.events[e.ID] = e
	return nil
}

func (f *fakeStore) FindByDedupeKey(workspaceID int64, key string) (Event, bool, error) {
	for _, e := range f.events {
		if e.WorkspaceID == workspaceID && e.DedupeKey != nil && *e.DedupeKey == key {
			return e, true, nil
		}
	}
	return Event{}, false, nil
}

func (f *fakeStore) InsertRun(r Run) error {
	f.runs[r.ID] = r
	return nil
}

func (f *fakeStore) GetRun(runID string) (Run, bool, error) {
	r, ok := f.runs[runID]
	return r, ok, nil
}

func (f *fakeStore) UpdateRun(r Run) error {
	f.runs[r.ID] = r
	return nil
}

func (f *fakeStore) SumCostSinceUTCMidnight(workspaceID int64, agentID *int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range f.events {
		if e.WorkspaceID == workspaceID {
			total = total.Add(e.CostUSD)
		}
	}
	return total, nil
}

func (f *fakeStore) DeleteEventsBefore(workspaceID int64, cutoff time.Time, batchSize int) (int64, error) {
	var deleted int64
	for id, e := range f.events {
		if deleted >= int64(batchSize) {
			break
		}
		if e.WorkspaceID == workspaceID && e.CreatedAt.Before(cutoff) {
			delete(f.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) DeleteRunsBefore(workspaceID int64, cutoff time.Time, batchSize int) (int64, error) {
	var deleted int64
	for id, r := range f.runs {
		if deleted >= int64(batchSize) {
			break
		}
		if r.WorkspaceID == workspaceID && r.StartedAt.Before(cutoff) {
			delete(f.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) EventsForDay(workspaceID int64, day time.Time) ([]Event, error) {
	var out []Event
	y1, m1, d1 := day.Date()
	for _, e := range f.events {
		y2, m2, d2 := e.CreatedAt.Date()
		if e.WorkspaceID == workspaceID && y1 == y2 && m1 == m2 && d1 == d2 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DistinctAgentsWithEventsOnDay(day time.Time) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	seen := make(map[[2]int64]bool)
	y1, m1, d1 := day.Date()
	for _, e := range f.events {
		y2, m2, d2 := e.CreatedAt.Date()
		if y1 != y2 || m1 != m2 || d1 != d2 || e.AgentID == nil {
			continue
		}
		key := [2]int64{e.WorkspaceID, *e.AgentID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out[e.WorkspaceID] = append(out[e.WorkspaceID], *e.AgentID)
	}
	return out, nil
}

func (f *fakeStore) WorkspacesWithEvents() ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for _, e := range f.events {
		if !seen[e.WorkspaceID] {
			seen[e.WorkspaceID] = true
			out = append(out, e.WorkspaceID)
		}
	}
	return out, nil
}

// fakePricing resolves a single fixed rate regardless of lookup args.
type fakePricing struct {
	rate  PricingRate
	found bool
}

func (f fakePricing) LookupRate(provider, model string, asOf time.Time) (PricingRate, bool, error) {
	return f.rate, f.found, nil
}

// fixedRetention returns a constant cutoff for every workspace.
type fixedRetention struct {
	cutoff time.Time
}

func (f fixedRetention) GetRetentionCutoff(workspaceID int64) (time.Time, error) {
	return f.cutoff, nil
}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }
