/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package observability implements event/run ingestion, daily
// aggregation, pricing lookup, and the retention GC that bounds how long
// raw events and runs live.
package observability

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the outcome recorded on an Event or Run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Event is an immutable obs_events row.
type Event struct {
	ID          string
	WorkspaceID int64
	AgentID     *int64
	RunID       *string
	EventType   string
	Status      Status
	Model       *string
	TokensIn    int64
	TokensOut   int64
	CostUSD     decimal.Decimal
	LatencyMS   *int64
	Payload     map[string]any
	DedupeKey   *string
	CreatedAt   time.Time
}

// Run is an obs_runs row.
type Run struct {
	ID          string
	WorkspaceID int64
	AgentID     *int64
	Model       *string
	Status      Status
	TokensIn    int64
	TokensOut   int64
	CostUSD     decimal.Decimal
	EventCount  int64
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// PricingRate is one obs_llm_pricing row: the USD-per-million-token rate
// for a (provider, model) pair, valid over [EffectiveFrom, EffectiveTo].
type PricingRate struct {
	Provider          string
	Model             string
	InputPerMillion   decimal.Decimal
	OutputPerMillion  decimal.Decimal
	EffectiveFrom     time.Time
	EffectiveTo       *time.Time
}

// PricingSource resolves the most recent applicable rate for a
// (provider, model) as of a given date.
type PricingSource interface {
	LookupRate(provider, model string, asOf time.Time) (PricingRate, bool, error)
}

// EventStore is the persistence boundary for events and runs.
type EventStore interface {
	InsertEvent(e Event) error
	FindByDedupeKey(workspaceID int64, key string) (Event, bool, error)
	InsertRun(r Run) error
	GetRun(runID string) (Run, bool, error)
	UpdateRun(r Run) error
	SumCostSinceUTCMidnight(workspaceID int64, agentID *int64) (decimal.Decimal, error)
	DeleteEventsBefore(workspaceID int64, cutoff time.Time, batchSize int) (int64, error)
	DeleteRunsBefore(workspaceID int64, cutoff time.Time, batchSize int) (int64, error)
	EventsForDay(workspaceID int64, day time.Time) ([]Event, error)
	DistinctAgentsWithEventsOnDay(day time.Time) (map[int64][]int64, error) // workspace -> agent ids
}

// EventInput is the emit_event argument bundle.
type EventInput struct {
	WorkspaceID int64
	EventType   string
	Status      Status
	AgentID     *int64
	RunID       *string
	Model       *string
	Provider    *string
	TokensIn    int64
	TokensOut   int64
	CostUSD     *decimal.Decimal
	LatencyMS   *int64
	Payload     map[string]any
	DedupeKey   *string
}

// Ingestor implements §4.13's emit_event/start_run/finish_run.
type Ingestor struct {
	store   EventStore
	pricing PricingSource
	now     func() time.Time
}

// NewIngestor constructs an Ingestor. pricing may be nil (cost is never
// computed, only whatever was passed in is stored).
func NewIngestor(store EventStore, pricing PricingSource) *Ingestor {
	return &Ingestor{store: store, pricing: pricing, now: time.Now}
}

// EmitEvent implements emit_event. A panic during emission is recovered
// and reported as a nil error; store errors are returned. Best-effort
// call sites (gateway, runtime) ignore the returned error.
func (i *Ingestor) EmitEvent(in EventInput) error {
	defer func() { recover() }()

	if in.DedupeKey != nil && *in.DedupeKey != "" {
		if _, found, err := i.store.FindByDedupeKey(in.WorkspaceID, *in.DedupeKey); err == nil && found {
			return nil
		}
	}

	cost := decimal.Zero
	if in.CostUSD != nil {
		cost = *in.CostUSD
	} else if i.pricing != nil && in.Model != nil && in.Provider != nil && (in.TokensIn > 0 || in.TokensOut > 0) {
		if computed, ok := i.computeCost(*in.Provider, *in.Model, in.TokensIn, in.TokensOut); ok {
			cost = computed
		}
	}

	e := Event{
		ID:          uuid.New().String(),
		WorkspaceID: in.WorkspaceID,
		AgentID:     in.AgentID,
		RunID:       in.RunID,
		EventType:   in.EventType,
		Status:      in.Status,
		Model:       in.Model,
		TokensIn:    in.TokensIn,
		TokensOut:   in.TokensOut,
		CostUSD:     cost,
		LatencyMS:   in.LatencyMS,
		Payload:     in.Payload,
		DedupeKey:   in.DedupeKey,
		CreatedAt:   i.now().UTC(),
	}
	return i.store.InsertEvent(e)
}

func (i *Ingestor) computeCost(provider, model string, tokensIn, tokensOut int64) (decimal.Decimal, bool) {
	rate, found, err := i.pricing.LookupRate(provider, model, i.now().UTC())
	if err != nil || !found {
		return decimal.Zero, false
	}
	million := decimal.NewFromInt(1_000_000)
	in := decimal.NewFromInt(tokensIn).Div(million).Mul(rate.InputPerMillion)
	out := decimal.NewFromInt(tokensOut).Div(million).Mul(rate.OutputPerMillion)
	return in.Add(out).Round(4), true
}

// StartRun implements start_run.
func (i *Ingestor) StartRun(workspaceID int64, agentID *int64, model *string) (string, error) {
	r := Run{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		Model:       model,
		Status:      StatusInfo,
		CostUSD:     decimal.Zero,
		StartedAt:   i.now().UTC(),
	}
	if err := i.store.InsertRun(r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// FinishRunTotals carries the monotonically-additive totals finish_run
// folds into the existing run row.
type FinishRunTotals struct {
	TokensIn   int64
	TokensOut  int64
	CostUSD    decimal.Decimal
	EventCount int64
}

// FinishRun implements finish_run: closes the run, adding totals
// on top of whatever the run already accumulated.
func (i *Ingestor) FinishRun(runID string, status Status, totals FinishRunTotals) error {
	r, found, err := i.store.GetRun(runID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	now := i.now().UTC()
	r.Status = status
	r.FinishedAt = &now
	r.TokensIn += totals.TokensIn
	r.TokensOut += totals.TokensOut
	r.CostUSD = r.CostUSD.Add(totals.CostUSD)
	r.EventCount += totals.EventCount

	return i.store.UpdateRun(r)
}
