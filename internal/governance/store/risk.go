/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/juanpasaflipz/legator-governance/internal/governance/risk"
)

// RiskStore is the SQLite-backed implementation of risk.PolicyStore and
// risk.EventStore.
type RiskStore struct {
	db *sql.DB
}

// NewRiskStore wraps an already-opened, schema-migrated DB.
func NewRiskStore(db *sql.DB) *RiskStore {
	return &RiskStore{db: db}
}

func scopeKey(agentID *int64) int64 {
	if agentID == nil {
		return -1
	}
	return *agentID
}

// Upsert inserts or updates the policy for its (workspace, agent,
// policy_type) scope, relying on the unique index for the identity.
func (s *RiskStore) Upsert(p risk.Policy) (risk.Policy, error) {
	res, err := s.db.Exec(`INSERT INTO risk_policies
		(workspace_id, agent_id, policy_type, threshold, action, cooldown_minutes, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, COALESCE(agent_id, -1), policy_type) DO UPDATE SET
			threshold = excluded.threshold,
			action = excluded.action,
			cooldown_minutes = excluded.cooldown_minutes,
			is_enabled = excluded.is_enabled`,
		p.WorkspaceID, nullableInt64(p.AgentID), string(p.PolicyType), p.Threshold.String(),
		string(p.Action), p.CooldownMinutes, boolToInt(p.Enabled),
	)
	if err != nil {
		return risk.Policy{}, fmt.Errorf("upsert policy: %w", err)
	}

	existing, found, err := s.Get(p.WorkspaceID, p.AgentID, p.PolicyType)
	if err != nil {
		return risk.Policy{}, err
	}
	if found {
		return existing, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return risk.Policy{}, fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *RiskStore) Get(workspaceID int64, agentID *int64, pt risk.PolicyType) (risk.Policy, bool, error) {
	row := s.db.QueryRow(`SELECT id, workspace_id, agent_id, policy_type, threshold, action, cooldown_minutes, is_enabled
		FROM risk_policies WHERE workspace_id = ? AND COALESCE(agent_id, -1) = ? AND policy_type = ?`,
		workspaceID, scopeKey(agentID), string(pt))

	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Policy{}, false, nil
	}
	if err != nil {
		return risk.Policy{}, false, err
	}
	return p, true, nil
}

func scanPolicy(row rowScanner) (risk.Policy, error) {
	var (
		p           risk.Policy
		agentID     sql.NullInt64
		policyType  string
		thresholdS  string
		action      string
		enabled     int
	)
	if err := row.Scan(&p.ID, &p.WorkspaceID, &agentID, &policyType, &thresholdS, &action, &p.CooldownMinutes, &enabled); err != nil {
		return risk.Policy{}, err
	}
	if agentID.Valid {
		p.AgentID = &agentID.Int64
	}
	p.PolicyType = risk.PolicyType(policyType)
	p.Action = risk.ActionType(action)
	p.Enabled = enabled != 0

	threshold, err := decimal.NewFromString(thresholdS)
	if err != nil {
		return risk.Policy{}, fmt.Errorf("parse threshold: %w", err)
	}
	p.Threshold = threshold
	return p, nil
}

func (s *RiskStore) ListEnabled(workspaceID int64) ([]risk.Policy, error) {
	rows, err := s.db.Query(`SELECT id, workspace_id, agent_id, policy_type, threshold, action, cooldown_minutes, is_enabled
		FROM risk_policies WHERE workspace_id = ? AND is_enabled = 1`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled policies: %w", err)
	}
	defer rows.Close()

	var out []risk.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *RiskStore) FindRecentByPolicy(policyID int64, statuses []risk.EventStatus) (risk.Event, bool, error) {
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, policyID)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_value, action, status, dedupe_key, evaluated_at, executed_at, execution_result
		FROM risk_events WHERE policy_id = ? AND status IN (%s) ORDER BY evaluated_at DESC LIMIT 1`, strings.Join(placeholders, ","))

	row := s.db.QueryRow(query, args...)
	e, err := scanRiskEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Event{}, false, nil
	}
	if err != nil {
		return risk.Event{}, false, err
	}
	return e, true, nil
}

func (s *RiskStore) FindByDedupeKey(key string) (risk.Event, bool, error) {
	row := s.db.QueryRow(`SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_value, action, status, dedupe_key, evaluated_at, executed_at, execution_result
		FROM risk_events WHERE dedupe_key = ?`, key)
	e, err := scanRiskEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Event{}, false, nil
	}
	if err != nil {
		return risk.Event{}, false, err
	}
	return e, true, nil
}

func scanRiskEvent(row rowScanner) (risk.Event, error) {
	var (
		e           risk.Event
		agentID     sql.NullInt64
		breachS     string
		thresholdS  string
		action      string
		status      string
		evaluatedAt string
		executedAt  sql.NullString
		execResult  sql.NullString
	)
	if err := row.Scan(&e.ID, &e.PolicyID, &e.WorkspaceID, &agentID, &breachS, &thresholdS, &action, &status,
		&e.DedupeKey, &evaluatedAt, &executedAt, &execResult); err != nil {
		return risk.Event{}, err
	}

	if agentID.Valid {
		e.AgentID = &agentID.Int64
	}
	e.Action = risk.ActionType(action)
	e.Status = risk.EventStatus(status)

	breach, err := decimal.NewFromString(breachS)
	if err != nil {
		return risk.Event{}, fmt.Errorf("parse breach_value: %w", err)
	}
	e.BreachValue = breach

	threshold, err := decimal.NewFromString(thresholdS)
	if err != nil {
		return risk.Event{}, fmt.Errorf("parse threshold_value: %w", err)
	}
	e.ThresholdValue = threshold

	ts, err := time.Parse(time.RFC3339Nano, evaluatedAt)
	if err != nil {
		return risk.Event{}, fmt.Errorf("parse evaluated_at: %w", err)
	}
	e.EvaluatedAt = ts

	if executedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, executedAt.String)
		if err == nil {
			e.ExecutedAt = &t
		}
	}
	if execResult.Valid {
		_ = json.Unmarshal([]byte(execResult.String), &e.ExecutionResult)
	}

	return e, nil
}

func (s *RiskStore) Create(e risk.Event) (risk.Event, error) {
	_, err := s.db.Exec(`INSERT INTO risk_events
		(id, policy_id, workspace_id, agent_id, breach_value, threshold_value, action, status, dedupe_key, evaluated_at, executed_at, execution_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PolicyID, e.WorkspaceID, nullableInt64(e.AgentID), e.BreachValue.String(), e.ThresholdValue.String(),
		string(e.Action), string(e.Status), e.DedupeKey, e.EvaluatedAt.Format(time.RFC3339Nano), nil, nil,
	)
	if err != nil {
		return risk.Event{}, fmt.Errorf("create risk event: %w", err)
	}
	return e, nil
}

func (s *RiskStore) ListPending(limit int) ([]risk.Event, error) {
	rows, err := s.db.Query(`SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_value, action, status, dedupe_key, evaluated_at, executed_at, execution_result
		FROM risk_events WHERE status = ? ORDER BY evaluated_at ASC LIMIT ?`, string(risk.EventPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var out []risk.Event
	for rows.Next() {
		e, err := scanRiskEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompareAndTransition atomically moves a pending RiskEvent to a terminal
// status and writes its audit row in the same transaction. It returns
// (false, nil) without modifying anything if the event is no longer
// pending, guarding against duplicate executor workers racing the same
// batch.
func (s *RiskStore) CompareAndTransition(eventID string, newStatus risk.EventStatus, executedAt time.Time, result map[string]any, audit risk.AuditLog) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal execution result: %w", err)
	}

	res, err := tx.Exec(`UPDATE risk_events SET status = ?, executed_at = ?, execution_result = ?
		WHERE id = ? AND status = ?`,
		string(newStatus), executedAt.Format(time.RFC3339Nano), string(resultJSON), eventID, string(risk.EventPending),
	)
	if err != nil {
		return false, fmt.Errorf("transition risk event: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	prevState, err := json.Marshal(audit.PreviousState)
	if err != nil {
		return false, fmt.Errorf("marshal previous state: %w", err)
	}
	newState, err := json.Marshal(audit.NewState)
	if err != nil {
		return false, fmt.Errorf("marshal new state: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO risk_audit_log (event_id, previous_state, new_state, result, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		audit.EventID, string(prevState), string(newState), string(audit.Result), audit.ErrorMessage,
		audit.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}
