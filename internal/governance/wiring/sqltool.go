/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package wiring

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Database drivers, registered with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/juanpasaflipz/legator-governance/internal/governance/gateway"
)

const (
	sqlQueryMaxRows  = 1000
	sqlQueryMaxBytes = 8192
	sqlQueryTimeout  = 30 * time.Second
)

// SQLQueryTool is the optional sql_query Tool Gateway adapter, backing
// config.ExternalSQLConfig. It enforces read-only access at the driver
// level: a read-only transaction plus a query-prefix classifier, not
// just a prompt-level instruction.
type SQLQueryTool struct {
	driverName string
	dsn        string
}

// NewSQLQueryTool opens no connection itself; conn is dialed per call via
// database/sql's pooled driver registry. driver is "postgres" or "mysql".
func NewSQLQueryTool(driver, dsn string) *SQLQueryTool {
	name := driver
	if driver == "postgres" || driver == "postgresql" {
		name = "pgx" // pgx/v5/stdlib registers itself as "pgx"
	}
	return &SQLQueryTool{driverName: name, dsn: dsn}
}

// Schema returns the gateway.ToolSchema entry for registration.
func (t *SQLQueryTool) Schema() gateway.ToolSchema {
	return gateway.ToolSchema{Name: "sql_query"}
}

// Execute runs args["query"], rejecting anything but a read-only
// statement, and returns a tab-formatted result table.
func (t *SQLQueryTool) Execute(ctx context.Context, _ int64, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if tier := classifyQuery(query); tier != queryTierRead {
		return nil, fmt.Errorf("only read-only queries are allowed (SELECT, SHOW, DESCRIBE, EXPLAIN); got %s", tier)
	}
	if looksInjected(query) {
		return nil, fmt.Errorf("query contains suspicious patterns (multiple statements, comments)")
	}

	queryCtx, cancel := context.WithTimeout(ctx, sqlQueryTimeout)
	defer cancel()

	conn, err := sql.Open(t.driverName, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(queryCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	table, rowCount, err := formatRows(rows, sqlQueryMaxRows, sqlQueryMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("format results: %w", err)
	}
	return map[string]any{"rows": rowCount, "result": table}, nil
}

type queryTier string

const (
	queryTierRead  queryTier = "read"
	queryTierWrite queryTier = "write"
)

// classifyQuery mirrors the teacher's SQL tool's prefix classifier,
// trimmed to the read/not-read distinction the gateway needs.
func classifyQuery(query string) queryTier {
	normalized := strings.TrimSpace(strings.ToUpper(query))
	readPrefixes := []string{"SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}
	for _, p := range readPrefixes {
		if strings.HasPrefix(normalized, p) {
			return queryTierRead
		}
	}
	return queryTierWrite
}

func looksInjected(query string) bool {
	normalized := strings.ToUpper(query)
	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), ";"))
	if strings.Contains(trimmed, ";") {
		return true
	}
	if strings.Contains(normalized, "--") || strings.Contains(normalized, "/*") {
		return true
	}
	return false
}

func formatRows(rows *sql.Rows, maxRows, maxBytes int) (string, int, error) {
	columns, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(columns, "\t"))
	sb.WriteString("\n")

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	rowCount := 0
	for rows.Next() {
		if rowCount >= maxRows || sb.Len() >= maxBytes {
			sb.WriteString(fmt.Sprintf("... truncated at %d rows\n", rowCount))
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return sb.String(), rowCount, fmt.Errorf("scan row %d: %w", rowCount, err)
		}
		for i, v := range values {
			if i > 0 {
				sb.WriteString("\t")
			}
			switch val := v.(type) {
			case nil:
				sb.WriteString("NULL")
			case []byte:
				sb.WriteString(string(val))
			default:
				sb.WriteString(fmt.Sprintf("%v", val))
			}
		}
		sb.WriteString("\n")
		rowCount++
	}
	return sb.String(), rowCount, rows.Err()
}
