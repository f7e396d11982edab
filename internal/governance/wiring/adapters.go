/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package wiring

import (
	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/instance"
	"github.com/juanpasaflipz/legator-governance/internal/governance/observability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/runtime"
)

// InstanceStoreAdapter narrows instance.Binder (workspace-scoped,
// returns the full Instance) down to the single-workspace,
// snapshot-only shape runtime.InstanceStore declares. One adapter is
// constructed per workspace, mirroring how a Runtime itself is scoped
// to one workspace.
type InstanceStoreAdapter struct {
	Binder      *instance.Binder
	WorkspaceID int64
}

func (a InstanceStoreAdapter) GetInstance(agentID int64) (*capability.Snapshot, bool, error) {
	inst, err := a.Binder.GetInstance(a.WorkspaceID, agentID)
	if err != nil {
		if err == instance.ErrNoInstance {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &inst.PolicySnapshot, true, nil
}

// ObservabilityAdapter implements runtime.ObservabilityStore by
// delegating to an *observability.Ingestor, translating between the two
// packages' intentionally distinct EventInput shapes and StartRun/
// FinishRun signatures (see DESIGN.md's note on narrow per-consumer
// interfaces).
type ObservabilityAdapter struct {
	Ingestor *observability.Ingestor
}

func (a ObservabilityAdapter) StartRun(workspaceID int64, agentID int64) (string, error) {
	return a.Ingestor.StartRun(workspaceID, &agentID, nil)
}

func (a ObservabilityAdapter) FinishRun(runID string, status string, errMsg string) error {
	return a.Ingestor.FinishRun(runID, observability.Status(status), observability.FinishRunTotals{})
}

func (a ObservabilityAdapter) EmitEvent(e runtime.EventInput) error {
	return a.Ingestor.EmitEvent(observability.EventInput{
		WorkspaceID: e.WorkspaceID,
		AgentID:     e.AgentID,
		RunID:       e.RunID,
		EventType:   e.EventType,
		Status:      observability.Status(e.Status),
		Payload:     e.Payload,
	})
}
