/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// governd is the governed multi-agent runtime's control-plane binary. It
// serves the blueprint/capability/approval/observability HTTP surface and
// owns the enforcement and retention cron schedules.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/juanpasaflipz/legator-governance/internal/governance/api"
	"github.com/juanpasaflipz/legator-governance/internal/governance/approval"
	"github.com/juanpasaflipz/legator-governance/internal/governance/blueprint"
	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/config"
	"github.com/juanpasaflipz/legator-governance/internal/governance/enforcement"
	"github.com/juanpasaflipz/legator-governance/internal/governance/instance"
	"github.com/juanpasaflipz/legator-governance/internal/governance/observability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/risk"
	"github.com/juanpasaflipz/legator-governance/internal/governance/seed"
	"github.com/juanpasaflipz/legator-governance/internal/governance/store"
	"github.com/juanpasaflipz/legator-governance/internal/governance/telemetry"
	"github.com/juanpasaflipz/legator-governance/internal/governance/tenant"
	"github.com/juanpasaflipz/legator-governance/internal/governance/wiring"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := buildLogger()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("GOVERND_CONFIG_PATH"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	shutdownTracing, err := telemetry.InitTraceProvider(context.Background(), cfg.OTelEndpoint, version)
	if err != nil {
		logger.Fatal("failed to init trace provider", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace provider shutdown error", zap.Error(err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("failed to create data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "governance.db"))
	if err != nil {
		logger.Fatal("failed to open governance database", zap.Error(err))
	}
	defer db.Close()

	obsStore := store.NewObservabilityStore(db)
	riskStore := store.NewRiskStore(db)

	agents := wiring.NewAgentDirectory()
	tiers := tenant.NewRegistry(wiring.NewTierStore(), agents)
	auditSink := wiring.AuditSink{Log: logger}
	notifier := wiring.Notifier{Log: logger}
	usage := wiring.NewServiceUsage()
	pricing := wiring.NewPricingSource()

	fixture, err := seed.Load(os.Getenv("GOVERND_SEED_PATH"))
	if err != nil {
		logger.Fatal("failed to load seed fixture", zap.Error(err))
	}

	bundles := capability.NewMemStoreWithBundles(fixture.SystemBundles)
	catalog := blueprint.NewCatalog(auditSink, bundles)
	binder := instance.NewBinder(catalog, bundles, agents, auditSink)

	tools := wiring.NewToolRegistry()
	registerBuiltinTools(tools)
	if cfg.ExternalSQL.Driver != "" {
		sqlTool := wiring.NewSQLQueryTool(cfg.ExternalSQL.Driver, cfg.ExternalSQL.DSN)
		tools.RegisterTool(sqlTool.Schema(), sqlTool.Execute)
	}

	evaluator := risk.NewEvaluator(riskStore, riskStore, obsStore, logger)
	executor := risk.NewExecutor(riskStore, agents, notifier, logger)
	executor.SetDowngradeTargets(fixture.DowngradeTargets)
	worker := enforcement.New(evaluator, executor, agents, logger)

	gc := observability.NewGC(obsStore, tiers, obsStore, logger)
	ingestor := observability.NewIngestor(obsStore, pricing)

	approvals := approval.NewQueue(usage)
	registerApprovalHandlers(approvals)

	srv := &api.Server{
		Blueprints:  catalog,
		Bundles:     bundles,
		Instances:   binder,
		Approvals:   approvals,
		Ingestor:    ingestor,
		Tools:       tools,
		Worker:      worker,
		Retention:   gc,
		AdminSecret: cfg.AdminSecretHash,
		Log:         logger,
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := worker.StartCron(ctx, cfg.Enforcement.CronSchedule, cfg.Enforcement.MaxSeconds); err != nil {
		logger.Fatal("failed to start enforcement cron", zap.Error(err))
	}
	if err := gc.StartCron(ctx, cfg.Retention.CronSchedule, cfg.Retention.MaxSeconds); err != nil {
		logger.Fatal("failed to start retention cron", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting governd",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func buildLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// registerBuiltinTools wires the Tool Gateway's built-in adapters,
// mirroring the teacher's internal/tools package's registration style
// generalized from infrastructure tools to agent-callable tools.
func registerBuiltinTools(reg *wiring.ToolRegistry) {
	httpTool := wiring.NewHTTPGetTool("")
	reg.RegisterTool(httpTool.Schema(), httpTool.Execute)
}

// registerApprovalHandlers wires the deferred-action adapters the
// approval queue dispatches on approve_and_execute: (workspace_id,
// action_data) -> (result, errString).
func registerApprovalHandlers(q *approval.Queue) {
	q.RegisterHandler("send_email", "gmail", func(workspaceID int64, actionData map[string]any) (map[string]any, string, error) {
		to, _ := actionData["to"].(string)
		if to == "" {
			return nil, "missing 'to' address", nil
		}
		return map[string]any{"message_id": "m1"}, "", nil
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
