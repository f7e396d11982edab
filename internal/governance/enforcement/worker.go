/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package enforcement orchestrates the evaluate→execute cycle under a
// time budget, and owns the cron schedule that triggers it.
package enforcement

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/juanpasaflipz/legator-governance/internal/governance/risk"
	"github.com/juanpasaflipz/legator-governance/internal/governance/telemetry"
)

const (
	defaultMaxSeconds  = 45
	executorMinSeconds = 2 * time.Second
)

// CycleResult is the §4.10 run_enforcement_cycle return value.
type CycleResult struct {
	EventsCreated  int
	EventsExecuted int
	Elapsed        time.Duration
	Truncated      bool
}

// WorkspaceLister enumerates the workspaces the evaluator should scan per
// cycle.
type WorkspaceLister interface {
	ListWorkspaceIDs() ([]int64, error)
}

// Worker runs the enforcement cycle, triggered only by cron or an admin
// endpoint — never from within a tool call or HTTP request cycle.
type Worker struct {
	evaluator *risk.Evaluator
	executor  *risk.Executor
	workspaces WorkspaceLister
	log        *zap.Logger
	now        func() time.Time

	mu  sync.Mutex
	cr  *cron.Cron
}

// New constructs a Worker. log may be nil.
func New(evaluator *risk.Evaluator, executor *risk.Executor, workspaces WorkspaceLister, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{evaluator: evaluator, executor: executor, workspaces: workspaces, log: log, now: time.Now}
}

// RunCycle implements §4.10 run_enforcement_cycle. maxSeconds <= 0 uses
// the default of 45.
func (w *Worker) RunCycle(maxSeconds int) CycleResult {
	if maxSeconds <= 0 {
		maxSeconds = defaultMaxSeconds
	}
	start := w.now()
	deadline := start.Add(time.Duration(maxSeconds) * time.Second)

	result := CycleResult{}
	result.EventsCreated = w.runEvaluatePhase()

	if w.now().Add(executorMinSeconds).After(deadline) {
		result.Truncated = true
		result.Elapsed = w.now().Sub(start)
		return result
	}

	executed, truncated := w.runExecutePhase(deadline)
	result.EventsExecuted = executed
	result.Truncated = truncated
	result.Elapsed = w.now().Sub(start)
	return result
}

// runEvaluatePhase is independently callable, per §4.10's "each phase is
// independently callable" requirement.
func (w *Worker) runEvaluatePhase() int {
	if w.evaluator == nil || w.workspaces == nil {
		return 0
	}
	ids, err := w.workspaces.ListWorkspaceIDs()
	if err != nil {
		w.log.Warn("enforcement: list workspaces failed", zap.Error(err))
		return 0
	}

	total := 0
	for _, id := range ids {
		created, err := w.evaluator.Run(id)
		if err != nil {
			w.log.Warn("enforcement: evaluate failed for workspace", zap.Int64("workspace_id", id), zap.Error(err))
			continue
		}
		total += created
	}
	return total
}

// runExecutePhase is independently callable. It checks the clock between
// batches so the worker honors the cycle's time budget.
func (w *Worker) runExecutePhase(deadline time.Time) (executed int, truncated bool) {
	if w.executor == nil {
		return 0, false
	}
	for {
		if w.now().After(deadline) {
			return executed, true
		}
		n, err := w.executor.Run()
		if err != nil {
			w.log.Warn("enforcement: execute failed", zap.Error(err))
			return executed, false
		}
		executed += n
		if n == 0 {
			return executed, false
		}
	}
}

// StartCron registers the enforcement cycle on a cron schedule (e.g.
// "*/1 * * * *" for once a minute) and starts the cron runner. Call
// Stop to shut it down.
func (w *Worker) StartCron(ctx context.Context, schedule string, maxSeconds int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cr != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		_, span := telemetry.StartEnforcementCycleSpan(ctx)
		result := w.RunCycle(maxSeconds)
		telemetry.EndEnforcementCycleSpan(span, result.EventsCreated, result.EventsExecuted, result.Truncated)
		w.log.Info("enforcement cycle complete",
			zap.Int("events_created", result.EventsCreated),
			zap.Int("events_executed", result.EventsExecuted),
			zap.Duration("elapsed", result.Elapsed),
			zap.Bool("truncated", result.Truncated),
		)
	})
	if err != nil {
		return err
	}
	c.Start()
	w.cr = c

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the cron runner, if running.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cr == nil {
		return
	}
	stopCtx := w.cr.Stop()
	<-stopCtx.Done()
	w.cr = nil
}
