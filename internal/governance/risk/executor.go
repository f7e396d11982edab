/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package risk

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultBatchCap = 50

// DefaultDowngradeTargets maps an llm_config provider to the model it
// gets downgraded to. "default" is used for any provider not explicitly
// listed. An operator can override this at startup (see the seed
// package) by passing a different map to NewExecutor.
var DefaultDowngradeTargets = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-haiku",
	"google":    "gemini-2.0-flash",
	"default":   "gpt-4o-mini",
}

// AgentState is the slice of Agent fields the executor reads and mutates.
type AgentState struct {
	IsActive  bool           `json:"is_active"`
	LLMConfig map[string]any `json:"llm_config"`
}

// AgentRepo is the executor's agent-mutation boundary.
type AgentRepo interface {
	Get(agentID int64) (AgentState, bool, error)
	SetActive(agentID int64, active bool) error
	SetLLMConfig(agentID int64, cfg map[string]any) error
}

// Notifier dispatches a best-effort workspace notification for
// alert_only interventions.
type Notifier interface {
	Notify(workspaceID int64, message string) error
}

// Executor scans pending RiskEvents and dispatches interventions,
// committing the status transition and audit entry atomically.
type Executor struct {
	events           EventStore
	agents           AgentRepo
	notifier         Notifier
	now              func() time.Time
	log              *zap.Logger
	batchCap         int
	downgradeTargets map[string]string
}

// NewExecutor constructs an Executor using DefaultDowngradeTargets.
// notifier and log may be nil.
func NewExecutor(events EventStore, agents AgentRepo, notifier Notifier, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{events: events, agents: agents, notifier: notifier, now: time.Now, log: log, batchCap: defaultBatchCap, downgradeTargets: DefaultDowngradeTargets}
}

// SetDowngradeTargets overrides the provider→model downgrade map, e.g.
// with operator-supplied values loaded from a seed fixture.
func (x *Executor) SetDowngradeTargets(targets map[string]string) {
	if len(targets) == 0 {
		return
	}
	x.downgradeTargets = targets
}

// Run processes up to the batch cap of pending events, oldest first, and
// returns how many reached a terminal state.
func (x *Executor) Run() (executed int, err error) {
	pending, err := x.events.ListPending(x.batchCap)
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}

	for _, e := range pending {
		if x.processOne(e) {
			executed++
		}
	}
	return executed, nil
}

func (x *Executor) processOne(e Event) bool {
	now := x.now().UTC()

	status, result, auditResult, before, after, errMsg := x.dispatch(e)

	audit := AuditLog{
		EventID:       e.ID,
		PreviousState: before,
		NewState:      after,
		Result:        auditResult,
		ErrorMessage:  errMsg,
		CreatedAt:     now,
	}

	committed, err := x.events.CompareAndTransition(e.ID, status, now, result, audit)
	if err != nil {
		x.log.Warn("commit risk event transition failed", zap.String("event_id", e.ID), zap.Error(err))
		return false
	}
	return committed
}

// dispatch runs the action handler for one event. It never returns an
// error directly — exceptions are folded into status=failed, matching
// §4.9 step 4.
func (x *Executor) dispatch(e Event) (status EventStatus, result map[string]any, auditResult AuditResult, before, after map[string]any, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			status = EventFailed
			auditResult = ResultFailed
			errMsg = fmt.Sprintf("panic in action handler: %v", r)
		}
	}()

	switch e.Action {
	case ActionAlertOnly:
		return x.handleAlertOnly(e)
	case ActionPauseAgent:
		return x.handlePauseAgent(e)
	case ActionModelDowngrade:
		return x.handleModelDowngrade(e)
	case ActionThrottle:
		return EventSkipped, map[string]any{"reason": "not_implemented"}, ResultSkipped, nil, nil, ""
	default:
		x.log.Warn("unknown risk action type", zap.String("action", string(e.Action)), zap.String("event_id", e.ID))
		return EventSkipped, map[string]any{"reason": "unknown_action_type"}, ResultSkipped, nil, nil, ""
	}
}

func (x *Executor) handleAlertOnly(e Event) (EventStatus, map[string]any, AuditResult, map[string]any, map[string]any, string) {
	if x.notifier != nil {
		msg := fmt.Sprintf("risk policy %d breached: %s exceeded %s", e.PolicyID, e.BreachValue.String(), e.ThresholdValue.String())
		if err := x.notifier.Notify(e.WorkspaceID, msg); err != nil {
			x.log.Warn("alert notification failed", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
	return EventExecuted, map[string]any{"notified": true}, ResultSuccess, nil, nil, ""
}

func (x *Executor) handlePauseAgent(e Event) (EventStatus, map[string]any, AuditResult, map[string]any, map[string]any, string) {
	if e.AgentID == nil {
		return EventSkipped, map[string]any{"reason": "no_agent_scope"}, ResultSkipped, nil, nil, ""
	}

	state, ok, err := x.agents.Get(*e.AgentID)
	if err != nil || !ok {
		return EventFailed, nil, ResultFailed, nil, nil, "agent not found"
	}

	before := snapshot(state)
	if err := x.agents.SetActive(*e.AgentID, false); err != nil {
		return EventFailed, nil, ResultFailed, before, nil, err.Error()
	}
	state.IsActive = false
	after := snapshot(state)

	return EventExecuted, map[string]any{"paused": true}, ResultSuccess, before, after, ""
}

func (x *Executor) handleModelDowngrade(e Event) (EventStatus, map[string]any, AuditResult, map[string]any, map[string]any, string) {
	if e.AgentID == nil {
		return EventSkipped, map[string]any{"reason": "no_agent_scope"}, ResultSkipped, nil, nil, ""
	}

	state, ok, err := x.agents.Get(*e.AgentID)
	if err != nil || !ok {
		return EventFailed, nil, ResultFailed, nil, nil, "agent not found"
	}

	before := snapshot(state)

	provider, _ := state.LLMConfig["provider"].(string)
	currentModel, _ := state.LLMConfig["model"].(string)

	target, ok := x.downgradeTargets[provider]
	if !ok {
		target = x.downgradeTargets["default"]
	}
	if currentModel == target {
		return EventSkipped, map[string]any{"reason": "already_on_target", "model": target}, ResultSkipped, nil, nil, ""
	}

	newConfig := make(map[string]any, len(state.LLMConfig))
	for k, v := range state.LLMConfig {
		newConfig[k] = v
	}
	newConfig["model"] = target

	if err := x.agents.SetLLMConfig(*e.AgentID, newConfig); err != nil {
		return EventFailed, nil, ResultFailed, before, nil, err.Error()
	}
	state.LLMConfig = newConfig
	after := snapshot(state)

	return EventExecuted, map[string]any{"downgraded_to": target}, ResultSuccess, before, after, ""
}

func snapshot(s AgentState) map[string]any {
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"is_active": s.IsActive}
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}
