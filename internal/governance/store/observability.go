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
	"time"

	"github.com/shopspring/decimal"

	"github.com/juanpasaflipz/legator-governance/internal/governance/observability"
)

// ObservabilityStore is the SQLite-backed implementation of
// observability.EventStore and observability.DailyMetricsStore.
type ObservabilityStore struct {
	db *sql.DB
}

// NewObservabilityStore wraps an already-opened, schema-migrated DB.
func NewObservabilityStore(db *sql.DB) *ObservabilityStore {
	return &ObservabilityStore{db: db}
}

func nullableInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *ObservabilityStore) InsertEvent(e observability.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.Exec(`INSERT OR IGNORE INTO obs_events
		(id, workspace_id, agent_id, run_id, event_type, status, model, tokens_in, tokens_out, cost_usd, latency_ms, payload, dedupe_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, nullableInt64(e.AgentID), nullableString(e.RunID), e.EventType, string(e.Status),
		nullableString(e.Model), e.TokensIn, e.TokensOut, e.CostUSD.String(), nullableInt64(e.LatencyMS),
		string(payload), nullableString(e.DedupeKey), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *ObservabilityStore) FindByDedupeKey(workspaceID int64, key string) (observability.Event, bool, error) {
	row := s.db.QueryRow(`SELECT id, workspace_id, agent_id, run_id, event_type, status, model, tokens_in, tokens_out, cost_usd, latency_ms, payload, dedupe_key, created_at
		FROM obs_events WHERE workspace_id = ? AND dedupe_key = ?`, workspaceID, key)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return observability.Event{}, false, nil
	}
	if err != nil {
		return observability.Event{}, false, err
	}
	return e, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (observability.Event, error) {
	var (
		e          observability.Event
		agentID    sql.NullInt64
		runID      sql.NullString
		model      sql.NullString
		costStr    string
		latencyMS  sql.NullInt64
		payload    string
		dedupeKey  sql.NullString
		createdAt  string
		status     string
	)
	if err := row.Scan(&e.ID, &e.WorkspaceID, &agentID, &runID, &e.EventType, &status, &model,
		&e.TokensIn, &e.TokensOut, &costStr, &latencyMS, &payload, &dedupeKey, &createdAt); err != nil {
		return observability.Event{}, err
	}

	e.Status = observability.Status(status)
	if agentID.Valid {
		e.AgentID = &agentID.Int64
	}
	if runID.Valid {
		e.RunID = &runID.String
	}
	if model.Valid {
		e.Model = &model.String
	}
	if latencyMS.Valid {
		e.LatencyMS = &latencyMS.Int64
	}
	if dedupeKey.Valid {
		e.DedupeKey = &dedupeKey.String
	}
	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		return observability.Event{}, fmt.Errorf("parse cost_usd: %w", err)
	}
	e.CostUSD = cost

	_ = json.Unmarshal([]byte(payload), &e.Payload)

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return observability.Event{}, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = ts

	return e, nil
}

func (s *ObservabilityStore) InsertRun(r observability.Run) error {
	_, err := s.db.Exec(`INSERT INTO obs_runs
		(id, workspace_id, agent_id, model, status, tokens_in, tokens_out, cost_usd, event_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkspaceID, nullableInt64(r.AgentID), nullableString(r.Model), string(r.Status),
		r.TokensIn, r.TokensOut, r.CostUSD.String(), r.EventCount, r.StartedAt.Format(time.RFC3339Nano), nil,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *ObservabilityStore) GetRun(runID string) (observability.Run, bool, error) {
	row := s.db.QueryRow(`SELECT id, workspace_id, agent_id, model, status, tokens_in, tokens_out, cost_usd, event_count, started_at, finished_at
		FROM obs_runs WHERE id = ?`, runID)

	var (
		r          observability.Run
		agentID    sql.NullInt64
		model      sql.NullString
		status     string
		costStr    string
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&r.ID, &r.WorkspaceID, &agentID, &model, &status, &r.TokensIn, &r.TokensOut, &costStr, &r.EventCount, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return observability.Run{}, false, nil
	}
	if err != nil {
		return observability.Run{}, false, fmt.Errorf("get run: %w", err)
	}

	r.Status = observability.Status(status)
	if agentID.Valid {
		r.AgentID = &agentID.Int64
	}
	if model.Valid {
		r.Model = &model.String
	}
	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		return observability.Run{}, false, fmt.Errorf("parse cost_usd: %w", err)
	}
	r.CostUSD = cost

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return observability.Run{}, false, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = started

	if finishedAt.Valid {
		f, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err == nil {
			r.FinishedAt = &f
		}
	}

	return r, true, nil
}

func (s *ObservabilityStore) UpdateRun(r observability.Run) error {
	var finishedAt sql.NullString
	if r.FinishedAt != nil {
		finishedAt = sql.NullString{String: r.FinishedAt.Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.Exec(`UPDATE obs_runs SET status = ?, tokens_in = ?, tokens_out = ?, cost_usd = ?, event_count = ?, finished_at = ?
		WHERE id = ?`,
		string(r.Status), r.TokensIn, r.TokensOut, r.CostUSD.String(), r.EventCount, finishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *ObservabilityStore) SumCostSinceUTCMidnight(workspaceID int64, agentID *int64) (decimal.Decimal, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour).Format(time.RFC3339Nano)

	var rows *sql.Rows
	var err error
	if agentID == nil {
		rows, err = s.db.Query(`SELECT cost_usd FROM obs_events WHERE workspace_id = ? AND created_at >= ?`, workspaceID, midnight)
	} else {
		rows, err = s.db.Query(`SELECT cost_usd FROM obs_events WHERE workspace_id = ? AND agent_id = ? AND created_at >= ?`, workspaceID, *agentID, midnight)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum cost query: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var costStr string
		if err := rows.Scan(&costStr); err != nil {
			return decimal.Zero, err
		}
		cost, err := decimal.NewFromString(costStr)
		if err != nil {
			continue
		}
		total = total.Add(cost)
	}
	return total, rows.Err()
}

// WorkspacesWithEvents lists workspaces that currently have at least one
// stored event, the scan boundary the retention GC iterates over.
func (s *ObservabilityStore) WorkspacesWithEvents() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT workspace_id FROM obs_events`)
	if err != nil {
		return nil, fmt.Errorf("workspaces with events: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *ObservabilityStore) DeleteEventsBefore(workspaceID int64, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM obs_events WHERE id IN (
		SELECT id FROM obs_events WHERE workspace_id = ? AND created_at < ? LIMIT ?
	)`, workspaceID, cutoff.Format(time.RFC3339Nano), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete events batch: %w", err)
	}
	return res.RowsAffected()
}

func (s *ObservabilityStore) DeleteRunsBefore(workspaceID int64, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM obs_runs WHERE id IN (
		SELECT id FROM obs_runs WHERE workspace_id = ? AND started_at < ? LIMIT ?
	)`, workspaceID, cutoff.Format(time.RFC3339Nano), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete runs batch: %w", err)
	}
	return res.RowsAffected()
}

func (s *ObservabilityStore) EventsForDay(workspaceID int64, day time.Time) ([]observability.Event, error) {
	start := day.Format(time.RFC3339Nano)
	end := day.Add(24 * time.Hour).Format(time.RFC3339Nano)

	rows, err := s.db.Query(`SELECT id, workspace_id, agent_id, run_id, event_type, status, model, tokens_in, tokens_out, cost_usd, latency_ms, payload, dedupe_key, created_at
		FROM obs_events WHERE workspace_id = ? AND created_at >= ? AND created_at < ?`, workspaceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("events for day: %w", err)
	}
	defer rows.Close()

	var out []observability.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ObservabilityStore) DistinctAgentsWithEventsOnDay(day time.Time) (map[int64][]int64, error) {
	start := day.Format(time.RFC3339Nano)
	end := day.Add(24 * time.Hour).Format(time.RFC3339Nano)

	rows, err := s.db.Query(`SELECT DISTINCT workspace_id, agent_id FROM obs_events
		WHERE created_at >= ? AND created_at < ? AND agent_id IS NOT NULL`, start, end)
	if err != nil {
		return nil, fmt.Errorf("distinct agents: %w", err)
	}
	defer rows.Close()

	out := map[int64][]int64{}
	for rows.Next() {
		var workspaceID, agentID int64
		if err := rows.Scan(&workspaceID, &agentID); err != nil {
			return nil, err
		}
		out[workspaceID] = append(out[workspaceID], agentID)
	}
	return out, rows.Err()
}

// DailyMetricsStore backing: upsert by (workspace, agent, date).
func (s *ObservabilityStore) Upsert(m observability.DailyMetrics) error {
	modelsUsed, err := json.Marshal(m.ModelsUsed)
	if err != nil {
		return fmt.Errorf("marshal models_used: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO obs_daily_metrics
		(workspace_id, agent_id, date, runs_total, runs_success, runs_failed, tokens_in, tokens_out, cost_usd, tool_calls, latency_p50_ms, latency_p95_ms, latency_avg_ms, last_heartbeat, models_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, agent_id, date) DO UPDATE SET
			runs_total = excluded.runs_total,
			runs_success = excluded.runs_success,
			runs_failed = excluded.runs_failed,
			tokens_in = excluded.tokens_in,
			tokens_out = excluded.tokens_out,
			cost_usd = excluded.cost_usd,
			tool_calls = excluded.tool_calls,
			latency_p50_ms = excluded.latency_p50_ms,
			latency_p95_ms = excluded.latency_p95_ms,
			latency_avg_ms = excluded.latency_avg_ms,
			last_heartbeat = excluded.last_heartbeat,
			models_used = excluded.models_used`,
		m.WorkspaceID, m.AgentID, m.Date.Format("2006-01-02"), m.RunsTotal, m.RunsSuccess, m.RunsFailed,
		m.TokensIn, m.TokensOut, m.CostUSD.String(), m.ToolCalls, m.LatencyP50MS, m.LatencyP95MS, m.LatencyAvgMS,
		m.LastHeartbeat.Format(time.RFC3339Nano), string(modelsUsed),
	)
	if err != nil {
		return fmt.Errorf("upsert daily metrics: %w", err)
	}
	return nil
}
