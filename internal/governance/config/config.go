/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config provides configuration loading for the governance
// runtime. Sources, in priority order: env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds all governance runtime configuration.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DataDir    string `json:"data_dir"`

	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`

	AdminSecretHash string `json:"admin_secret_hash,omitempty"`

	Enforcement EnforcementConfig `json:"enforcement"`
	Retention   RetentionConfig   `json:"retention"`

	ExternalSQL ExternalSQLConfig `json:"external_sql,omitempty"`

	// OTelEndpoint is the OTLP gRPC collector address. Empty disables
	// tracing.
	OTelEndpoint string `json:"otel_endpoint,omitempty"`

	LogLevel string `json:"log_level"`
}

// EnforcementConfig configures the Enforcement Worker's cron schedule
// and per-cycle time budget.
type EnforcementConfig struct {
	CronSchedule string `json:"cron_schedule"`
	MaxSeconds   int    `json:"max_seconds"`
}

// RetentionConfig configures the Retention GC's cron schedule and
// per-run time budget.
type RetentionConfig struct {
	CronSchedule string `json:"cron_schedule"`
	MaxSeconds   int    `json:"max_seconds"`
}

// ExternalSQLConfig configures the optional sql_query Tool Gateway tool's
// connection to an operator-managed Postgres or MySQL database. Empty
// Driver disables the tool.
type ExternalSQLConfig struct {
	Driver string `json:"driver,omitempty"` // "postgres" or "mysql"
	DSN    string `json:"dsn,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":8090",
		DataDir:    "/var/lib/governd",
		LogLevel:   "info",
		Enforcement: EnforcementConfig{
			CronSchedule: "*/1 * * * *",
			MaxSeconds:   45,
		},
		Retention: RetentionConfig{
			CronSchedule: "0 3 * * *",
			MaxSeconds:   120,
		},
	}
}

// Load reads configuration from a file (if path is non-empty; a file
// that cannot be read is an error), then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GOVERND_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GOVERND_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GOVERND_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("GOVERND_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("GOVERND_ADMIN_SECRET_HASH"); v != "" {
		cfg.AdminSecretHash = v
	}
	if v := os.Getenv("GOVERND_ENFORCEMENT_CRON"); v != "" {
		cfg.Enforcement.CronSchedule = v
	}
	if v := os.Getenv("GOVERND_ENFORCEMENT_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Enforcement.MaxSeconds = n
		}
	}
	if v := os.Getenv("GOVERND_RETENTION_CRON"); v != "" {
		cfg.Retention.CronSchedule = v
	}
	if v := os.Getenv("GOVERND_RETENTION_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.MaxSeconds = n
		}
	}
	if v := os.Getenv("GOVERND_EXTERNAL_SQL_DRIVER"); v != "" {
		cfg.ExternalSQL.Driver = v
	}
	if v := os.Getenv("GOVERND_EXTERNAL_SQL_DSN"); v != "" {
		cfg.ExternalSQL.DSN = v
	}
	if v := os.Getenv("GOVERND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOVERND_OTEL_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}

	return cfg, nil
}
