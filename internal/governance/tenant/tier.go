/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tenant implements the per-workspace tier registry: the cached
// lookup of a workspace's plan limits and the predicate checks gateway,
// runtime, and the HTTP layer use to deny over-limit operations.
package tenant

import (
	"fmt"
	"sync"
	"time"
)

// cacheTTL bounds the staleness of a cached tier lookup in a single process.
const cacheTTL = 60 * time.Second

// Tier holds the quantitative limits and feature flags for one workspace.
type Tier struct {
	WorkspaceID       int64
	Name              string
	AgentLimit        int
	RetentionDays     int
	AlertRuleLimit    int
	HealthHistoryDays int
	MaxBatchSize      int
	AnomalyDetection  bool
	SlackNotify       bool
}

// DefaultFreeTier is applied to any workspace without a persisted tier row.
var DefaultFreeTier = Tier{
	Name:              "free",
	AgentLimit:        3,
	RetentionDays:     7,
	AlertRuleLimit:    1,
	HealthHistoryDays: 7,
	MaxBatchSize:      100,
	AnomalyDetection:  false,
	SlackNotify:       false,
}

// Store is the persistence boundary the registry reads through on a cache
// miss. In production it is backed by the workspace_tiers table.
type Store interface {
	GetTier(workspaceID int64) (*Tier, error)
	UpsertTier(t Tier) error
}

// AgentCounter reports how many agents a workspace currently has, and
// whether a given agent has ever emitted an event (grandfathering already
// monitored agents past a newly-lowered limit).
type AgentCounter interface {
	CountAgents(workspaceID int64) (int, error)
	AgentHasHistory(agentID int64) (bool, error)
}

type cacheEntry struct {
	tier    Tier
	cachedAt time.Time
}

// Registry is the process-local tier cache plus the limit predicates.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	cache   map[int64]cacheEntry
	store   Store
	agents  AgentCounter
	now     func() time.Time
}

// NewRegistry builds a Registry backed by store for persisted tiers and
// agents for grandfathering checks.
func NewRegistry(store Store, agents AgentCounter) *Registry {
	return &Registry{
		cache:  make(map[int64]cacheEntry),
		store:  store,
		agents: agents,
		now:    time.Now,
	}
}

// GetWorkspaceTier returns the effective tier for workspaceID: the cached
// or freshly loaded persisted record, or DefaultFreeTier if none exists.
func (r *Registry) GetWorkspaceTier(workspaceID int64) (Tier, error) {
	if t, ok := r.lookupCache(workspaceID); ok {
		return t, nil
	}

	t, err := r.store.GetTier(workspaceID)
	if err != nil {
		return Tier{}, fmt.Errorf("load tier for workspace %d: %w", workspaceID, err)
	}

	resolved := DefaultFreeTier
	if t != nil {
		resolved = *t
	}
	resolved.WorkspaceID = workspaceID

	r.mu.Lock()
	r.cache[workspaceID] = cacheEntry{tier: resolved, cachedAt: r.now()}
	r.mu.Unlock()

	return resolved, nil
}

func (r *Registry) lookupCache(workspaceID int64) (Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[workspaceID]
	if !ok {
		return Tier{}, false
	}
	if r.now().Sub(entry.cachedAt) > cacheTTL {
		return Tier{}, false
	}
	return entry.tier, true
}

// Invalidate evicts the cached tier for workspaceID. Callers must invoke
// this after any tier mutation.
func (r *Registry) Invalidate(workspaceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, workspaceID)
}

// UpsertTier writes t through the store and invalidates the cache entry.
func (r *Registry) UpsertTier(t Tier) error {
	if err := r.store.UpsertTier(t); err != nil {
		return fmt.Errorf("upsert tier for workspace %d: %w", t.WorkspaceID, err)
	}
	r.Invalidate(t.WorkspaceID)
	return nil
}

// CheckAgentLimit denies at or above the workspace's agent_limit.
func (r *Registry) CheckAgentLimit(workspaceID int64) (bool, string, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return false, "", err
	}
	count, err := r.agents.CountAgents(workspaceID)
	if err != nil {
		return false, "", fmt.Errorf("count agents for workspace %d: %w", workspaceID, err)
	}
	if count >= tier.AgentLimit {
		return false, fmt.Sprintf("agent limit reached (%d/%d). Upgrade tier to add more agents.", count, tier.AgentLimit), nil
	}
	return true, "", nil
}

// CheckAgentAllowed grandfathers an agent with prior event history past a
// lowered limit: only brand-new agents are subject to CheckAgentLimit.
func (r *Registry) CheckAgentAllowed(workspaceID, agentID int64) (bool, string, error) {
	hasHistory, err := r.agents.AgentHasHistory(agentID)
	if err != nil {
		return false, "", fmt.Errorf("check agent history for agent %d: %w", agentID, err)
	}
	if hasHistory {
		return true, "", nil
	}
	return r.CheckAgentLimit(workspaceID)
}

// CheckAlertRuleLimit denies at or above the workspace's alert_rule_limit.
func (r *Registry) CheckAlertRuleLimit(workspaceID int64, currentCount int) (bool, string, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return false, "", err
	}
	if currentCount >= tier.AlertRuleLimit {
		return false, fmt.Sprintf("alert rule limit reached (%d/%d). Upgrade tier to add more rules.", currentCount, tier.AlertRuleLimit), nil
	}
	return true, "", nil
}

// CheckAPIKeyLimit mirrors CheckAlertRuleLimit for observability API keys;
// the spec does not name a distinct limit so it reuses AlertRuleLimit as
// the workspace's general per-resource ceiling.
func (r *Registry) CheckAPIKeyLimit(workspaceID int64, currentCount int) (bool, string, error) {
	return r.CheckAlertRuleLimit(workspaceID, currentCount)
}

// CheckAnomalyDetection reports whether the tier enables anomaly detection.
func (r *Registry) CheckAnomalyDetection(workspaceID int64) (bool, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return false, err
	}
	return tier.AnomalyDetection, nil
}

// CheckSlackNotifications reports whether the tier enables Slack delivery.
func (r *Registry) CheckSlackNotifications(workspaceID int64) (bool, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return false, err
	}
	return tier.SlackNotify, nil
}

// GetMaxBatchSize returns the workspace's ingest batch size ceiling.
func (r *Registry) GetMaxBatchSize(workspaceID int64) (int, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return 0, err
	}
	return tier.MaxBatchSize, nil
}

// GetRetentionCutoff returns now - retention_days - 24h, the point before
// which retention GC may delete events for the workspace.
func (r *Registry) GetRetentionCutoff(workspaceID int64) (time.Time, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return time.Time{}, err
	}
	cutoff := r.now().UTC().
		AddDate(0, 0, -tier.RetentionDays).
		Add(-24 * time.Hour)
	return cutoff, nil
}

// GetHealthHistoryCutoff returns the earliest date health-history queries
// may span for the workspace.
func (r *Registry) GetHealthHistoryCutoff(workspaceID int64) (time.Time, error) {
	tier, err := r.GetWorkspaceTier(workspaceID)
	if err != nil {
		return time.Time{}, err
	}
	return r.now().UTC().AddDate(0, 0, -tier.HealthHistoryDays), nil
}

// ClampDateRange restricts [from, to] to the workspace's retention window
// so callers cannot query further back than the data is guaranteed to
// exist.
func (r *Registry) ClampDateRange(workspaceID int64, from, to time.Time) (time.Time, time.Time, error) {
	cutoff, err := r.GetRetentionCutoff(workspaceID)
	if err != nil {
		return from, to, err
	}
	if from.Before(cutoff) {
		from = cutoff
	}
	now := r.now().UTC()
	if to.After(now) {
		to = now
	}
	return from, to, nil
}
