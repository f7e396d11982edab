/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package wiring provides the in-memory adapters cmd/governd uses to
// satisfy the narrow interfaces exposed by tenant, instance, gateway,
// risk, approval, and observability: the agent directory, the built-in
// tool registry, static LLM pricing, and a zap-backed audit sink and
// notifier. These mirror the teacher's in-memory seed stores (e.g.
// capability.MemStore) generalized to the remaining config-shaped
// resources.
package wiring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/juanpasaflipz/legator-governance/internal/governance/execctx"
	"github.com/juanpasaflipz/legator-governance/internal/governance/gateway"
	"github.com/juanpasaflipz/legator-governance/internal/governance/observability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/risk"
)

// Agent is the minimal agent record the governance runtime needs:
// workspace ownership, active/paused state, and LLM config.
type Agent struct {
	ID          int64
	WorkspaceID int64
	IsActive    bool
	LLMConfig   map[string]any
	hasHistory  bool
}

// AgentDirectory is an in-memory agent store satisfying
// tenant.AgentCounter, execctx.Ownership, instance.AgentOwnership, and
// risk.AgentRepo — the four thin ownership/mutation contracts the
// governance packages declare independently per SPEC_FULL.md §9's
// "explicit injection points" redesign note.
type AgentDirectory struct {
	mu     sync.RWMutex
	agents map[int64]*Agent
}

// NewAgentDirectory builds an empty directory. Call Seed to register
// agents as they are created in the owning system.
func NewAgentDirectory() *AgentDirectory {
	return &AgentDirectory{agents: make(map[int64]*Agent)}
}

// Seed registers or resets an agent's ownership.
func (d *AgentDirectory) Seed(agentID, workspaceID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agentID] = &Agent{ID: agentID, WorkspaceID: workspaceID, IsActive: true, LLMConfig: map[string]any{}}
}

func (d *AgentDirectory) BelongsToWorkspace(agentID, workspaceID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return false, nil
	}
	return a.WorkspaceID == workspaceID, nil
}

// ListWorkspaceIDs returns the distinct set of workspaces with at least
// one registered agent, satisfying enforcement.WorkspaceLister.
func (d *AgentDirectory) ListWorkspaceIDs() ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[int64]struct{}{}
	var out []int64
	for _, a := range d.agents {
		if _, ok := seen[a.WorkspaceID]; !ok {
			seen[a.WorkspaceID] = struct{}{}
			out = append(out, a.WorkspaceID)
		}
	}
	return out, nil
}

func (d *AgentDirectory) CountAgents(workspaceID int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, a := range d.agents {
		if a.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (d *AgentDirectory) AgentHasHistory(agentID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	return ok && a.hasHistory, nil
}

// MarkHasHistory flags an agent as having emitted at least one event,
// grandfathering it past a newly-lowered tier agent limit.
func (d *AgentDirectory) MarkHasHistory(agentID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[agentID]; ok {
		a.hasHistory = true
	}
}

func (d *AgentDirectory) Get(agentID int64) (risk.AgentState, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return risk.AgentState{}, false, nil
	}
	cfg := make(map[string]any, len(a.LLMConfig))
	for k, v := range a.LLMConfig {
		cfg[k] = v
	}
	return risk.AgentState{IsActive: a.IsActive, LLMConfig: cfg}, true, nil
}

func (d *AgentDirectory) SetActive(agentID int64, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("wiring: agent %d not found", agentID)
	}
	a.IsActive = active
	return nil
}

func (d *AgentDirectory) SetLLMConfig(agentID int64, cfg map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("wiring: agent %d not found", agentID)
	}
	a.LLMConfig = cfg
	return nil
}

// AuditSink writes blueprint/instance governance audit entries to the
// structured logger, the same role the teacher's zap-based audit
// middleware plays around mutating controller actions.
type AuditSink struct {
	Log *zap.Logger
}

func (s AuditSink) Emit(workspaceID int64, eventType, actor, summary string, before, after any) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("governance_audit",
		zap.Int64("workspace_id", workspaceID),
		zap.String("event_type", eventType),
		zap.String("actor", actor),
		zap.String("summary", summary),
		zap.Any("before", before),
		zap.Any("after", after),
	)
}

// Notifier logs alert_only risk interventions. A production deployment
// would route this through Slack/email; SPEC_FULL.md leaves the channel
// unspecified, so the default sink is the structured logger the rest of
// the runtime already uses.
type Notifier struct {
	Log *zap.Logger
}

func (n Notifier) Notify(workspaceID int64, message string) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Warn("risk_alert", zap.Int64("workspace_id", workspaceID), zap.String("message", message))
	return nil
}

// ServiceUsage is an in-memory per-(workspace,service) counter satisfying
// approval.UsageCounter.
type ServiceUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewServiceUsage builds an empty counter.
func NewServiceUsage() *ServiceUsage {
	return &ServiceUsage{counts: make(map[string]int)}
}

func (u *ServiceUsage) IncrementUsage(workspaceID int64, serviceType string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[fmt.Sprintf("%d:%s", workspaceID, serviceType)]++
}

// Count returns the current usage count for (workspaceID, serviceType).
func (u *ServiceUsage) Count(workspaceID int64, serviceType string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[fmt.Sprintf("%d:%s", workspaceID, serviceType)]
}

// staticRate is a fixed, in-process LLM pricing table, standing in for
// the obs_llm_pricing table until an operator seeds real rates.
type staticRate struct {
	inputPerMillion  decimal.Decimal
	outputPerMillion decimal.Decimal
}

// PricingSource looks up per-token pricing by (provider, model) with a
// small built-in seed table, satisfying observability.PricingSource.
type PricingSource struct {
	rates map[string]staticRate
}

// NewPricingSource seeds a handful of well-known provider/model pairs.
// Unlisted pairs return found=false and the ingestor skips cost
// computation for that event.
func NewPricingSource() *PricingSource {
	return &PricingSource{
		rates: map[string]staticRate{
			"openai:gpt-4o":           {decimal.NewFromFloat(2.50), decimal.NewFromFloat(10.00)},
			"openai:gpt-4o-mini":      {decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.60)},
			"anthropic:claude-haiku":  {decimal.NewFromFloat(0.25), decimal.NewFromFloat(1.25)},
			"google:gemini-2.0-flash": {decimal.NewFromFloat(0.10), decimal.NewFromFloat(0.40)},
		},
	}
}

func (p *PricingSource) LookupRate(provider, model string, asOf time.Time) (observability.PricingRate, bool, error) {
	r, ok := p.rates[provider+":"+model]
	if !ok {
		return observability.PricingRate{}, false, nil
	}
	return observability.PricingRate{
		Provider:         provider,
		Model:            model,
		InputPerMillion:  r.inputPerMillion,
		OutputPerMillion: r.outputPerMillion,
	}, true, nil
}

// toolAdapter is a registered built-in tool: a name, a JSON-Schema-ish
// parameter description, and the function invoked on execution.
type toolAdapter struct {
	schema gateway.ToolSchema
	fn     func(ctx context.Context, workspaceID int64, args map[string]any) (map[string]any, error)
}

// ToolRegistry is the built-in Tool Gateway registry, mirroring the
// teacher's internal/tools.Registry (name→Tool map, Register/Get/List)
// but generalized to the gateway.Registry contract (workspace-scoped
// catalog plus a uniform executor signature).
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]toolAdapter
}

// NewToolRegistry builds an empty registry. Register adapters with
// RegisterTool.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]toolAdapter)}
}

// RegisterTool adds a built-in tool available to every workspace.
func (r *ToolRegistry) RegisterTool(schema gateway.ToolSchema, fn func(ctx context.Context, workspaceID int64, args map[string]any) (map[string]any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[schema.Name] = toolAdapter{schema: schema, fn: fn}
}

func (r *ToolRegistry) ToolsForWorkspace(workspaceID int64) ([]gateway.ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]gateway.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.schema)
	}
	return out, nil
}

func (r *ToolRegistry) Execute(toolName string, workspaceID int64, arguments map[string]any) (gateway.Result, error) {
	r.mu.RLock()
	t, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return gateway.Result{Error: fmt.Sprintf("Tool '%s' is not registered", toolName)}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := t.fn(ctx, workspaceID, arguments)
	if err != nil {
		return gateway.Result{Error: err.Error()}, nil
	}
	return gateway.Result{Data: data}, nil
}

var _ execctx.Ownership = (*AgentDirectory)(nil)
