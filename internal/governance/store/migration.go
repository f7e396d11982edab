/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package store provides the SQLite-backed persistence layer for the
// high-volume, append-mostly governance streams: observability events,
// runs, daily rollups, and the risk policy/event/audit tables. Lower-
// volume configuration resources (tiers, bundles, blueprints, instances)
// use the in-memory Store pattern defined in their own packages,
// mirroring the teacher's own split between config-shaped resources
// (policy/templates.go, in-memory) and audit-shaped resources
// (audit/store.go, SQLite-persisted).
package store

import (
	"database/sql"
	"fmt"
	"time"
)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS _schema_version (
	store_name TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 0,
	applied_at TEXT NOT NULL
)`

func ensureVersionTable(db *sql.DB) error {
	if _, err := db.Exec(createVersionTable); err != nil {
		return fmt.Errorf("create _schema_version: %w", err)
	}
	return nil
}

// currentVersion returns the schema version recorded in db, or 0 if
// none has been set yet.
func currentVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='_schema_version'`).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("check _schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM _schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// setVersion records the schema version, inserting the row on first use.
func setVersion(db *sql.DB, version int) error {
	if err := ensureVersionTable(db); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := db.Exec(`UPDATE _schema_version SET version = ?, applied_at = ?`, version, now)
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := db.Exec(`INSERT INTO _schema_version (store_name, version, applied_at) VALUES ('', ?, ?)`, version, now); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

// ensureSchema creates every governance table if missing and stamps the
// schema version on first run. It is idempotent and safe on every
// startup.
func ensureSchema(db *sql.DB, targetVersion int) error {
	if err := ensureVersionTable(db); err != nil {
		return err
	}
	current, err := currentVersion(db)
	if err != nil {
		return err
	}
	if current >= targetVersion {
		return nil
	}

	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return setVersion(db, targetVersion)
}
