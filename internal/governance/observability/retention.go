/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package observability

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/juanpasaflipz/legator-governance/internal/governance/telemetry"
)

const retentionBatchSize = 500

// TierLookup resolves the retention cutoff for a workspace, the same
// contract tenant.Registry.GetRetentionCutoff exposes (kept as a local
// interface to avoid an import cycle back into the tenant package).
type TierLookup interface {
	GetRetentionCutoff(workspaceID int64) (time.Time, error)
}

// WorkspaceLister enumerates workspaces that currently have any events,
// the scan boundary for the GC.
type WorkspaceLister interface {
	WorkspacesWithEvents() ([]int64, error)
}

// RetentionResult is the per-workspace delete count the GC reports.
type RetentionResult struct {
	WorkspaceID  int64
	EventsDeleted int64
	RunsDeleted   int64
}

// GC implements §4.12 Retention GC: per-workspace, time-budgeted,
// batched hard-delete of events and runs older than the workspace's
// retention cutoff. Grounded on the teacher's audit.Store.Purge, which
// deletes by a single cutoff and reports rows affected; this extends
// that idiom per-workspace and in fixed-size batches.
type GC struct {
	store      EventStore
	tiers      TierLookup
	workspaces WorkspaceLister
	now        func() time.Time

	log *zap.Logger
	mu  sync.Mutex
	cr  *cron.Cron
}

// NewGC constructs a GC. log may be nil.
func NewGC(store EventStore, tiers TierLookup, workspaces WorkspaceLister, log *zap.Logger) *GC {
	if log == nil {
		log = zap.NewNop()
	}
	return &GC{store: store, tiers: tiers, workspaces: workspaces, now: time.Now, log: log}
}

// StartCron registers the retention sweep on a cron schedule (e.g.
// "0 3 * * *" for once a day) and starts the cron runner, mirroring
// enforcement.Worker.StartCron. Call Stop to shut it down.
func (g *GC) StartCron(ctx context.Context, schedule string, maxSeconds int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cr != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		_, span := telemetry.StartRetentionSweepSpan(ctx)
		results, err := g.Run(maxSeconds)
		if err != nil {
			telemetry.EndRetentionSweepSpan(span, 0, 0, 0)
			g.log.Warn("retention sweep failed", zap.Error(err))
			return
		}
		var events, runs int64
		for _, r := range results {
			events += r.EventsDeleted
			runs += r.RunsDeleted
		}
		telemetry.EndRetentionSweepSpan(span, len(results), events, runs)
		g.log.Info("retention sweep complete",
			zap.Int("workspaces", len(results)),
			zap.Int64("events_deleted", events),
			zap.Int64("runs_deleted", runs),
		)
	})
	if err != nil {
		return err
	}
	c.Start()
	g.cr = c

	go func() {
		<-ctx.Done()
		g.Stop()
	}()
	return nil
}

// Stop halts the cron runner, if running.
func (g *GC) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cr == nil {
		return
	}
	stopCtx := g.cr.Stop()
	<-stopCtx.Done()
	g.cr = nil
}

// Run executes the GC under a time budget, returning per-workspace
// counts. It stops early, mid-workspace if necessary, once the budget is
// exhausted.
func (g *GC) Run(maxSeconds int) ([]RetentionResult, error) {
	deadline := g.now().Add(time.Duration(maxSeconds) * time.Second)

	ids, err := g.workspaces.WorkspacesWithEvents()
	if err != nil {
		return nil, err
	}

	results := make([]RetentionResult, 0, len(ids))
	for _, id := range ids {
		if g.now().After(deadline) {
			break
		}
		results = append(results, g.runOneWorkspace(id, deadline))
	}
	return results, nil
}

func (g *GC) runOneWorkspace(workspaceID int64, deadline time.Time) RetentionResult {
	result := RetentionResult{WorkspaceID: workspaceID}
	cutoff, err := g.tiers.GetRetentionCutoff(workspaceID)
	if err != nil {
		return result
	}

	for {
		if g.now().After(deadline) {
			return result
		}
		n, err := g.store.DeleteEventsBefore(workspaceID, cutoff, retentionBatchSize)
		if err != nil || n == 0 {
			break
		}
		result.EventsDeleted += n
	}

	for {
		if g.now().After(deadline) {
			return result
		}
		n, err := g.store.DeleteRunsBefore(workspaceID, cutoff, retentionBatchSize)
		if err != nil || n == 0 {
			break
		}
		result.RunsDeleted += n
	}

	return result
}
