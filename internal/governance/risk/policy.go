/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package risk implements the Risk Policy Engine: RiskPolicy storage, the
// periodic Evaluator that turns metric breaches into pending RiskEvents,
// and the Executor that dispatches interventions and writes the audit
// trail.
package risk

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PolicyType enumerates the metrics a RiskPolicy can guard. Only
// daily_spend_cap is evaluated in v1; the others are accepted for CRUD
// but never trigger (§4.8).
type PolicyType string

const (
	PolicyDailySpendCap PolicyType = "daily_spend_cap"
	PolicyErrorRateCap  PolicyType = "error_rate_cap"
	PolicyTokenRateCap  PolicyType = "token_rate_cap"
)

// ActionType enumerates the interventions an Executor can dispatch.
type ActionType string

const (
	ActionAlertOnly      ActionType = "alert_only"
	ActionThrottle       ActionType = "throttle"
	ActionModelDowngrade ActionType = "model_downgrade"
	ActionPauseAgent     ActionType = "pause_agent"
)

// Policy is a RiskPolicy row. AgentID nil means workspace-wide
// aggregation.
type Policy struct {
	ID              int64
	WorkspaceID     int64
	AgentID         *int64
	PolicyType      PolicyType
	Threshold       decimal.Decimal
	Action          ActionType
	CooldownMinutes int
	Enabled         bool
}

// EventStatus is the monotone status of a RiskEvent.
type EventStatus string

const (
	EventPending  EventStatus = "pending"
	EventExecuted EventStatus = "executed"
	EventSkipped  EventStatus = "skipped"
	EventFailed   EventStatus = "failed"
)

// Event is a RiskEvent row.
type Event struct {
	ID              string
	PolicyID        int64
	WorkspaceID     int64
	AgentID         *int64
	BreachValue     decimal.Decimal
	ThresholdValue  decimal.Decimal
	Action          ActionType
	Status          EventStatus
	DedupeKey       string
	EvaluatedAt     time.Time
	ExecutedAt      *time.Time
	ExecutionResult map[string]any
}

// AuditResult is the outcome recorded alongside an executor status
// transition.
type AuditResult string

const (
	ResultSuccess AuditResult = "success"
	ResultFailed  AuditResult = "failed"
	ResultSkipped AuditResult = "skipped"
)

// AuditLog is a RiskAuditLog row. Append-only.
type AuditLog struct {
	ID            int64
	EventID       string
	PreviousState map[string]any
	NewState      map[string]any
	Result        AuditResult
	ErrorMessage  string
	CreatedAt     time.Time
}

var (
	ErrPolicyNotFound      = errors.New("risk: policy not found")
	ErrDuplicatePolicyType = errors.New("risk: a policy of this type already exists for this (workspace, agent) scope")
)

// PolicyStore persists RiskPolicy rows, enforcing uniqueness on
// (workspace, agent, policy_type).
type PolicyStore interface {
	Upsert(p Policy) (Policy, error)
	Get(workspaceID int64, agentID *int64, pt PolicyType) (Policy, bool, error)
	ListEnabled(workspaceID int64) ([]Policy, error)
}
