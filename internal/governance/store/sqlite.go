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
	"fmt"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS obs_events (
		id           TEXT PRIMARY KEY,
		workspace_id INTEGER NOT NULL,
		agent_id     INTEGER,
		run_id       TEXT,
		event_type   TEXT NOT NULL,
		status       TEXT NOT NULL,
		model        TEXT,
		tokens_in    INTEGER NOT NULL DEFAULT 0,
		tokens_out   INTEGER NOT NULL DEFAULT 0,
		cost_usd     TEXT NOT NULL DEFAULT '0',
		latency_ms   INTEGER,
		payload      TEXT NOT NULL DEFAULT '{}',
		dedupe_key   TEXT,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_obs_events_workspace_created ON obs_events(workspace_id, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_obs_events_dedupe ON obs_events(workspace_id, dedupe_key) WHERE dedupe_key IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS obs_runs (
		id           TEXT PRIMARY KEY,
		workspace_id INTEGER NOT NULL,
		agent_id     INTEGER,
		model        TEXT,
		status       TEXT NOT NULL,
		tokens_in    INTEGER NOT NULL DEFAULT 0,
		tokens_out   INTEGER NOT NULL DEFAULT 0,
		cost_usd     TEXT NOT NULL DEFAULT '0',
		event_count  INTEGER NOT NULL DEFAULT 0,
		started_at   TEXT NOT NULL,
		finished_at  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_obs_runs_workspace_started ON obs_runs(workspace_id, started_at)`,

	`CREATE TABLE IF NOT EXISTS obs_daily_metrics (
		workspace_id    INTEGER NOT NULL,
		agent_id        INTEGER NOT NULL,
		date            TEXT NOT NULL,
		runs_total      INTEGER NOT NULL DEFAULT 0,
		runs_success    INTEGER NOT NULL DEFAULT 0,
		runs_failed     INTEGER NOT NULL DEFAULT 0,
		tokens_in       INTEGER NOT NULL DEFAULT 0,
		tokens_out      INTEGER NOT NULL DEFAULT 0,
		cost_usd        TEXT NOT NULL DEFAULT '0',
		tool_calls      INTEGER NOT NULL DEFAULT 0,
		latency_p50_ms  REAL NOT NULL DEFAULT 0,
		latency_p95_ms  REAL NOT NULL DEFAULT 0,
		latency_avg_ms  REAL NOT NULL DEFAULT 0,
		last_heartbeat  TEXT,
		models_used     TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (workspace_id, agent_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS risk_policies (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id     INTEGER NOT NULL,
		agent_id         INTEGER,
		policy_type      TEXT NOT NULL,
		threshold        TEXT NOT NULL,
		action           TEXT NOT NULL,
		cooldown_minutes INTEGER NOT NULL,
		is_enabled       INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_risk_policies_scope ON risk_policies(workspace_id, COALESCE(agent_id, -1), policy_type)`,

	`CREATE TABLE IF NOT EXISTS risk_events (
		id               TEXT PRIMARY KEY,
		policy_id        INTEGER NOT NULL,
		workspace_id     INTEGER NOT NULL,
		agent_id         INTEGER,
		breach_value     TEXT NOT NULL,
		threshold_value  TEXT NOT NULL,
		action           TEXT NOT NULL,
		status           TEXT NOT NULL,
		dedupe_key       TEXT NOT NULL UNIQUE,
		evaluated_at     TEXT NOT NULL,
		executed_at      TEXT,
		execution_result TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_policy ON risk_events(policy_id, evaluated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_status ON risk_events(status, evaluated_at)`,

	`CREATE TABLE IF NOT EXISTS risk_audit_log (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id       TEXT NOT NULL,
		previous_state TEXT,
		new_state      TEXT,
		result         TEXT NOT NULL,
		error_message  TEXT,
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_audit_event ON risk_audit_log(event_id)`,
}

// Open opens (or creates) the governance SQLite database at path and
// applies the schema, matching the teacher's WAL + busy_timeout idiom
// used throughout its session/audit stores.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open governance db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}

	if err := ensureSchema(db, schemaVersion); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
