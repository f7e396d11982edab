/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package execctx implements the Execution Context: the immutable token
// that scopes every tool call, message dispatch, and governance check to a
// (workspace, agent, run) triple.
package execctx

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
)

// ErrCrossWorkspace is returned when a context derivation would cross a
// workspace boundary.
var ErrCrossWorkspace = errors.New("execctx: agent does not belong to this workspace")

// Ownership verifies an agent belongs to a workspace, the same contract
// instance.AgentOwnership exposes.
type Ownership interface {
	BelongsToWorkspace(agentID, workspaceID int64) (bool, error)
}

// Context is the immutable scope token. It carries no mutable state;
// derivations always return a new Context.
type Context struct {
	WorkspaceID  int64
	AgentID      int64
	RunID        string
	CreatedAt    time.Time
	Capabilities *capability.Snapshot // nil = legacy agent, unrestricted
}

// Create builds a Context after verifying the agent belongs to the
// workspace.
func Create(ownership Ownership, workspaceID, agentID int64) (Context, error) {
	ok, err := ownership.BelongsToWorkspace(agentID, workspaceID)
	if err != nil {
		return Context{}, err
	}
	if !ok {
		return Context{}, ErrCrossWorkspace
	}
	return Context{
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		RunID:       uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// WithCapabilities returns a new Context with the resolved capability
// snapshot attached. The receiver is unmodified.
func (c Context) WithCapabilities(snapshot capability.Snapshot) Context {
	c.Capabilities = &snapshot
	return c
}

// ForAgent derives a sibling context for another agent in the same
// workspace, used for intra-workspace collaboration. A fresh run_id is
// generated so cost/observability streams stay separate.
func (c Context) ForAgent(ownership Ownership, otherAgentID int64) (Context, error) {
	ok, err := ownership.BelongsToWorkspace(otherAgentID, c.WorkspaceID)
	if err != nil {
		return Context{}, err
	}
	if !ok {
		return Context{}, ErrCrossWorkspace
	}
	return Context{
		WorkspaceID: c.WorkspaceID,
		AgentID:     otherAgentID,
		RunID:       uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// HasCapabilities reports whether this context has a blueprint-resolved
// snapshot attached.
func (c Context) HasCapabilities() bool {
	return c.Capabilities != nil
}

// AllowedTools returns the set of allowed tool names, or nil when
// unrestricted (no snapshot, or the snapshot is wildcarded).
func (c Context) AllowedTools() map[string]struct{} {
	return allowSet(c.Capabilities, func(s capability.Snapshot) []string { return s.AllowedTools })
}

// AllowedModels returns the set of allowed model identifiers, or nil when
// unrestricted.
func (c Context) AllowedModels() map[string]struct{} {
	return allowSet(c.Capabilities, func(s capability.Snapshot) []string { return s.AllowedModels })
}

func allowSet(snapshot *capability.Snapshot, field func(capability.Snapshot) []string) map[string]struct{} {
	if snapshot == nil {
		return nil
	}
	values := field(*snapshot)
	if len(values) == 0 {
		return nil
	}
	for _, v := range values {
		if v == "*" {
			return nil
		}
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
