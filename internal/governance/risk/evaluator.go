/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventStore is the persistence boundary the evaluator and executor share.
// The evaluator only calls FindRecent/FindByDedupeKey/Create; the executor
// owns the status-transition methods.
type EventStore interface {
	FindRecentByPolicy(policyID int64, statuses []EventStatus) (Event, bool, error)
	FindByDedupeKey(key string) (Event, bool, error)
	Create(e Event) (Event, error)
	ListPending(limit int) ([]Event, error)
	// CompareAndTransition atomically moves an event from 'pending' to a
	// terminal status, writing the audit row in the same transaction. It
	// must return (false, nil) without error if the event was no longer
	// pending (defense against duplicate workers).
	CompareAndTransition(eventID string, newStatus EventStatus, executedAt time.Time, result map[string]any, audit AuditLog) (bool, error)
}

// SpendSource answers "how much has this scope spent since UTC midnight",
// backing the daily_spend_cap metric.
type SpendSource interface {
	SumCostSinceUTCMidnight(workspaceID int64, agentID *int64) (decimal.Decimal, error)
}

// Evaluator turns policy breaches into pending RiskEvents. It never
// mutates agents and never writes to the audit log.
type Evaluator struct {
	policies PolicyStore
	events   EventStore
	spend    SpendSource
	now      func() time.Time
	log      *zap.Logger
}

// NewEvaluator constructs an Evaluator. log may be nil.
func NewEvaluator(policies PolicyStore, events EventStore, spend SpendSource, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{policies: policies, events: events, spend: spend, now: time.Now, log: log}
}

// Run evaluates every enabled policy, optionally scoped to a single
// workspace (workspaceID == 0 means "caller must pass a real id"; there
// is no cross-workspace scan primitive exposed here — callers iterate
// workspaces themselves and call Run once per workspace).
func (e *Evaluator) Run(workspaceID int64) (created int, err error) {
	policies, err := e.policies.ListEnabled(workspaceID)
	if err != nil {
		return 0, fmt.Errorf("list enabled policies: %w", err)
	}

	for _, p := range policies {
		ok, err := e.evaluateOne(p)
		if err != nil {
			e.log.Warn("policy evaluation failed", zap.Int64("policy_id", p.ID), zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (e *Evaluator) evaluateOne(p Policy) (bool, error) {
	now := e.now().UTC()

	// 1. Cooldown check.
	recent, found, err := e.events.FindRecentByPolicy(p.ID, []EventStatus{EventPending, EventExecuted})
	if err != nil {
		return false, fmt.Errorf("find recent event: %w", err)
	}
	if found {
		cooldownEnd := recent.EvaluatedAt.Add(time.Duration(p.CooldownMinutes) * time.Minute)
		if cooldownEnd.After(now) {
			return false, nil
		}
	}

	// 2. Metric evaluation — only daily_spend_cap is implemented in v1.
	if p.PolicyType != PolicyDailySpendCap {
		return false, nil
	}
	if e.spend == nil {
		return false, nil
	}
	breach, err := e.spend.SumCostSinceUTCMidnight(p.WorkspaceID, p.AgentID)
	if err != nil {
		return false, fmt.Errorf("sum cost: %w", err)
	}

	// 3. Threshold comparison — strict >, decimal only.
	if !breach.GreaterThan(p.Threshold) {
		return false, nil
	}

	// 4. Deduplication.
	dedupeKey := fmt.Sprintf("%d:%s", p.ID, now.Format("2006-01-02"))
	if _, found, err := e.events.FindByDedupeKey(dedupeKey); err != nil {
		return false, fmt.Errorf("find by dedupe key: %w", err)
	} else if found {
		return false, nil
	}

	// 5. Create pending event, freezing the policy's current action type.
	_, err = e.events.Create(Event{
		ID:             uuid.New().String(),
		PolicyID:       p.ID,
		WorkspaceID:    p.WorkspaceID,
		AgentID:        p.AgentID,
		BreachValue:    breach,
		ThresholdValue: p.Threshold,
		Action:         p.Action,
		Status:         EventPending,
		DedupeKey:      dedupeKey,
		EvaluatedAt:    now,
	})
	if err != nil {
		return false, fmt.Errorf("create risk event: %w", err)
	}
	return true, nil
}
