/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package gateway implements the Tool Gateway: the scoped proxy every tool
// call passes through, enforcing capability boundaries, re-checking tier
// governance, dispatching to the external tool registry, and emitting
// best-effort observability events.
package gateway

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/juanpasaflipz/legator-governance/internal/governance/execctx"
)

// Result is the JSON-serializable outcome of a tool call. The convention,
// carried over unchanged from the adapter contract, is that presence of
// the Error field denotes failure.
type Result struct {
	Error           string `json:"error,omitempty"`
	Governance      bool   `json:"governance,omitempty"`
	CapabilityDenied bool  `json:"capability_denied,omitempty"`
	Data            map[string]any `json:"-"`
}

// ToolSchema describes one entry of the workspace's tool catalog.
type ToolSchema struct {
	Name string `json:"name"`
}

// Registry is the external tool-dispatch boundary (out of governance
// scope; the gateway only calls this contract).
type Registry interface {
	ToolsForWorkspace(workspaceID int64) ([]ToolSchema, error)
	Execute(toolName string, workspaceID int64, arguments map[string]any) (Result, error)
}

// GovernanceCheck re-verifies tier limits for a (workspace, agent) pair at
// dispatch time, independent of the capability check.
type GovernanceCheck interface {
	CheckAgentAllowed(workspaceID, agentID int64) (bool, string, error)
}

// EventSink receives best-effort tool_call/tool_result events. Failures
// here must never fail the tool call itself.
type EventSink interface {
	EmitToolCall(ctx execctx.Context, toolName string, arguments map[string]any)
	EmitToolResult(ctx execctx.Context, toolName string, status string, latency time.Duration, hasError bool)
}

// Gateway is instantiated per (workspace, agent, run) — one per
// ExecutionContext — and holds no mutable state beyond it.
type Gateway struct {
	ctx        execctx.Context
	registry   Registry
	governance GovernanceCheck
	events     EventSink
	log        *zap.Logger
}

// New builds a Gateway scoped to ctx. log may be nil (defaults to a no-op
// logger).
func New(ctx execctx.Context, registry Registry, governance GovernanceCheck, events EventSink, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{ctx: ctx, registry: registry, governance: governance, events: events, log: log}
}

// Context returns the scope this gateway was constructed with.
func (g *Gateway) Context() execctx.Context { return g.ctx }

const argPreviewMaxLen = 500

// Execute runs the full §4.6 flow: capability check, governance gate,
// emit(tool_call), dispatch, emit(tool_result).
func (g *Gateway) Execute(toolName string, arguments map[string]any) Result {
	if arguments == nil {
		arguments = map[string]any{}
	}

	if denial, ok := g.checkCapability(toolName); ok {
		g.safeEmitResult(toolName, "error", 0, true)
		return denial
	}

	if denial, ok := g.checkGovernance(); ok {
		g.safeEmitResult(toolName, "error", 0, true)
		return denial
	}

	g.safeEmitCall(toolName, arguments)

	start := time.Now()
	result, err := g.registry.Execute(toolName, g.ctx.WorkspaceID, arguments)
	elapsed := time.Since(start)
	if err != nil {
		result = Result{Error: "tool execution failed: " + truncate(err.Error(), 300)}
	}

	status := "success"
	hasError := result.Error != ""
	if hasError {
		status = "error"
	}
	g.safeEmitResult(toolName, status, elapsed, hasError)

	return result
}

// checkCapability enforces the blueprint capability boundary (§4.6 step 1).
// A nil AllowedTools set (legacy agent or wildcard) always passes.
func (g *Gateway) checkCapability(toolName string) (Result, bool) {
	allowed := g.ctx.AllowedTools()
	if allowed == nil {
		return Result{}, false
	}
	if _, ok := allowed[toolName]; ok {
		return Result{}, false
	}
	names := make([]string, 0, len(allowed))
	for n := range allowed {
		names = append(names, n)
	}
	sort.Strings(names)
	return Result{
		Error:            "Tool '" + toolName + "' is not in agent capabilities. Allowed tools: " + joinQuoted(names),
		Governance:       true,
		CapabilityDenied: true,
	}, true
}

// checkGovernance re-verifies tier limits (§4.6 step 2). Per spec §7,
// governance checks fail open: an unavailable governance subsystem must
// not block all tool calls.
func (g *Gateway) checkGovernance() (Result, bool) {
	if g.governance == nil {
		return Result{}, false
	}
	allowed, reason, err := g.governance.CheckAgentAllowed(g.ctx.WorkspaceID, g.ctx.AgentID)
	if err != nil {
		g.log.Warn("governance check unavailable, failing open", zap.Error(err))
		return Result{}, false
	}
	if !allowed {
		return Result{Error: "Workspace limit reached: " + reason, Governance: true}, true
	}
	return Result{}, false
}

// CheckModelAllowed validates a model identifier against the allowed
// models snapshot via exact or provider-prefix match. A nil allowlist
// (absent snapshot or wildcard) always allows.
func (g *Gateway) CheckModelAllowed(modelIdentifier string) (bool, string) {
	allowed := g.ctx.AllowedModels()
	if allowed == nil {
		return true, ""
	}
	if _, ok := allowed[modelIdentifier]; ok {
		return true, ""
	}
	for entry := range allowed {
		if strings.HasPrefix(modelIdentifier, entry+"/") || strings.HasPrefix(entry, modelIdentifier+"/") {
			return true, ""
		}
	}
	names := make([]string, 0, len(allowed))
	for n := range allowed {
		names = append(names, n)
	}
	sort.Strings(names)
	return false, "Model '" + modelIdentifier + "' is not in agent capabilities. Allowed: " + joinQuoted(names)
}

// ListTools returns the workspace tool catalog, filtered by capability
// when the context restricts it.
func (g *Gateway) ListTools() ([]ToolSchema, error) {
	all, err := g.registry.ToolsForWorkspace(g.ctx.WorkspaceID)
	if err != nil {
		return nil, err
	}
	allowed := g.ctx.AllowedTools()
	if allowed == nil {
		return all, nil
	}
	out := make([]ToolSchema, 0, len(all))
	for _, t := range all {
		if _, ok := allowed[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *Gateway) safeEmitCall(toolName string, arguments map[string]any) {
	if g.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("tool_call event emission panicked", zap.Any("recover", r))
		}
	}()
	g.events.EmitToolCall(g.ctx, toolName, truncateArgs(arguments))
}

func (g *Gateway) safeEmitResult(toolName, status string, latency time.Duration, hasError bool) {
	if g.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("tool_result event emission panicked", zap.Any("recover", r))
		}
	}()
	g.events.EmitToolResult(g.ctx, toolName, status, latency, hasError)
}

func truncateArgs(arguments map[string]any) map[string]any {
	safe := make(map[string]any, len(arguments))
	for k, v := range arguments {
		s, ok := v.(string)
		if !ok {
			safe[k] = v
			continue
		}
		safe[k] = truncate(s, argPreviewMaxLen)
	}
	return safe
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func joinQuoted(items []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(item)
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}
