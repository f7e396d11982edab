/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package instance implements the Agent Instance Binder: binding a runtime
// Agent to a specific BlueprintVersion, validating overrides, seeding risk
// policies and a collaboration role, and freezing the resolved policy
// snapshot.
package instance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/juanpasaflipz/legator-governance/internal/governance/blueprint"
	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
)

var (
	ErrAlreadyInstantiated = errors.New("instance: agent already has an instance")
	ErrBlueprintNotPublished = errors.New("instance: blueprint is not published")
	ErrNoInstance          = errors.New("instance: agent has no instance")
	ErrInvalidOverride     = errors.New("instance: override key is not permitted")
	ErrAgentNotInWorkspace = errors.New("instance: agent does not belong to workspace")
)

// Instance is the frozen binding between an Agent and a BlueprintVersion.
type Instance struct {
	AgentID        int64              `json:"agent_id"`
	WorkspaceID    int64              `json:"workspace_id"`
	BlueprintID    string             `json:"blueprint_id"`
	Version        int                `json:"version"`
	Overrides      map[string]any     `json:"overrides,omitempty"`
	PolicySnapshot capability.Snapshot `json:"policy_snapshot"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// PolicyType enumerates the seedable RiskPolicy types.
type PolicyType string

const (
	PolicyDailySpendCap PolicyType = "daily_spend_cap"
	PolicyErrorRateCap  PolicyType = "error_rate_cap"
	PolicyTokenRateCap  PolicyType = "token_rate_cap"
)

var seedablePolicyTypes = []PolicyType{PolicyDailySpendCap, PolicyErrorRateCap, PolicyTokenRateCap}

// ActionType enumerates the RiskPolicy intervention actions.
type ActionType string

const (
	ActionAlertOnly      ActionType = "alert_only"
	ActionThrottle       ActionType = "throttle"
	ActionModelDowngrade ActionType = "model_downgrade"
	ActionPauseAgent     ActionType = "pause_agent"
)

var validActionTypes = map[ActionType]bool{
	ActionAlertOnly: true, ActionThrottle: true, ActionModelDowngrade: true, ActionPauseAgent: true,
}

const defaultCooldownMinutes = 360

// SeededPolicy is one risk policy produced by seeding a default risk
// profile, to be upserted by the caller's RiskPolicy store.
type SeededPolicy struct {
	WorkspaceID     int64
	AgentID         int64
	PolicyType      PolicyType
	ThresholdValue  decimal.Decimal
	ActionType      ActionType
	CooldownMinutes int
	Enabled         bool
}

// roleForBlueprintType maps a blueprint role_type to a collaboration role
// when hierarchy_defaults does not specify one explicitly.
var roleForBlueprintType = map[blueprint.RoleType]string{
	blueprint.RoleSupervisor: "supervisor",
	blueprint.RoleResearcher: "specialist",
	blueprint.RoleExecutor:   "worker",
	blueprint.RoleWorker:     "worker",
	blueprint.RoleAutonomous: "worker",
}

// AuditSink mirrors blueprint.AuditSink; instance writes its own
// instance_created/instance_refreshed/instance_removed entries.
type AuditSink interface {
	Emit(workspaceID int64, eventType, actor, summary string, before, after any)
}

type noopAuditSink struct{}

func (noopAuditSink) Emit(int64, string, string, string, any, any) {}

// AgentOwnership verifies an agent belongs to a workspace.
type AgentOwnership interface {
	BelongsToWorkspace(agentID, workspaceID int64) (bool, error)
}

// CapabilityLookup resolves bundle IDs scoped to a workspace.
type CapabilityLookup interface {
	Get(workspaceID int64, id int64) (*capability.Bundle, error)
}

// Binder binds agents to blueprint versions, holding instances in a
// mutex-guarded in-memory map keyed by agent ID.
type Binder struct {
	mu        sync.RWMutex
	instances map[int64]*Instance // agentID -> instance
	catalog   *blueprint.Catalog
	caps      CapabilityLookup
	agents    AgentOwnership
	audit     AuditSink
	now       func() time.Time
}

// NewBinder builds a Binder. audit may be nil.
func NewBinder(catalog *blueprint.Catalog, caps CapabilityLookup, agents AgentOwnership, audit AuditSink) *Binder {
	if audit == nil {
		audit = noopAuditSink{}
	}
	return &Binder{
		instances: make(map[int64]*Instance),
		catalog:   catalog,
		caps:      caps,
		agents:    agents,
		audit:     audit,
		now:       time.Now,
	}
}

// ValidateOverrides is a pure function checking overrides against an
// override policy. Wildcard "*" in AllowedOverrides allows everything not
// explicitly denied. Absent policy (both lists empty) means no overrides
// are permitted.
func ValidateOverrides(overrides map[string]any, policy blueprint.OverridePolicy) (bool, string) {
	if len(overrides) == 0 {
		return true, ""
	}

	denied := toSet(policy.DeniedOverrides)
	wildcard := hasWildcard(policy.AllowedOverrides)
	allowed := toSet(policy.AllowedOverrides)

	for key := range overrides {
		if denied[key] {
			return false, fmt.Sprintf("override %q is explicitly denied", key)
		}
		if wildcard {
			continue
		}
		if !allowed[key] {
			return false, fmt.Sprintf("override %q is not permitted by this blueprint's override policy", key)
		}
	}
	return true, ""
}

// InstantiateAgent implements §4.4 steps 1-9.
func (b *Binder) InstantiateAgent(workspaceID, agentID int64, blueprintID string, version int, overrides map[string]any) (*Instance, []SeededPolicy, string, error) {
	ok, err := b.agents.BelongsToWorkspace(agentID, workspaceID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("verify agent ownership: %w", err)
	}
	if !ok {
		return nil, nil, "", ErrAgentNotInWorkspace
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.instances[agentID]; exists {
		return nil, nil, "", ErrAlreadyInstantiated
	}

	bp, err := b.catalog.GetBlueprint(workspaceID, blueprintID)
	if err != nil {
		return nil, nil, "", err
	}
	if bp.Status != blueprint.StatusPublished {
		return nil, nil, "", ErrBlueprintNotPublished
	}

	v, err := b.catalog.GetVersion(workspaceID, blueprintID, version)
	if err != nil {
		return nil, nil, "", err
	}

	if valid, msg := ValidateOverrides(overrides, v.OverridePolicy); !valid {
		return nil, nil, "", fmt.Errorf("%w: %s", ErrInvalidOverride, msg)
	}

	bundles, err := b.resolveBundles(workspaceID, v.CapabilityIDs)
	if err != nil {
		return nil, nil, "", err
	}
	snapshot := capability.Resolve(capability.VersionCeiling{
		AllowedTools:       v.AllowedTools,
		AllowedModels:      v.AllowedModels,
		DefaultRiskProfile: v.DefaultRiskProfile,
		LLMDefaults:        v.LLMDefaults,
		IdentityDefaults:   v.IdentityDefaults,
	}, bundles)

	seeded := seedRiskPolicies(workspaceID, agentID, v.DefaultRiskProfile)
	role := seedCollaborationRole(v.HierarchyDefaults, bp.RoleType)

	now := b.now().UTC()
	inst := &Instance{
		AgentID:        agentID,
		WorkspaceID:    workspaceID,
		BlueprintID:    blueprintID,
		Version:        version,
		Overrides:      overrides,
		PolicySnapshot: snapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	b.instances[agentID] = inst

	b.audit.Emit(workspaceID, "instance_created", "binder",
		fmt.Sprintf("agent %d bound to blueprint %s v%d (role=%s)", agentID, blueprintID, version, role),
		nil, map[string]any{"blueprint_id": blueprintID, "version": version})

	return inst, seeded, role, nil
}

// RefreshInstancePolicy re-runs capability resolution and risk/role
// seeding for an already-instantiated agent, optionally against a new
// version and/or new overrides.
func (b *Binder) RefreshInstancePolicy(workspaceID, agentID int64, newVersion *int, newOverrides map[string]any) (*Instance, []SeededPolicy, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[agentID]
	if !ok || inst.WorkspaceID != workspaceID {
		return nil, nil, "", ErrNoInstance
	}

	version := inst.Version
	if newVersion != nil {
		version = *newVersion
	}
	overrides := inst.Overrides
	if newOverrides != nil {
		overrides = newOverrides
	}

	bp, err := b.catalog.GetBlueprint(workspaceID, inst.BlueprintID)
	if err != nil {
		return nil, nil, "", err
	}
	if bp.Status != blueprint.StatusPublished {
		return nil, nil, "", ErrBlueprintNotPublished
	}
	v, err := b.catalog.GetVersion(workspaceID, inst.BlueprintID, version)
	if err != nil {
		return nil, nil, "", err
	}
	if valid, msg := ValidateOverrides(overrides, v.OverridePolicy); !valid {
		return nil, nil, "", fmt.Errorf("%w: %s", ErrInvalidOverride, msg)
	}

	bundles, err := b.resolveBundles(workspaceID, v.CapabilityIDs)
	if err != nil {
		return nil, nil, "", err
	}
	snapshot := capability.Resolve(capability.VersionCeiling{
		AllowedTools:       v.AllowedTools,
		AllowedModels:      v.AllowedModels,
		DefaultRiskProfile: v.DefaultRiskProfile,
		LLMDefaults:        v.LLMDefaults,
		IdentityDefaults:   v.IdentityDefaults,
	}, bundles)

	seeded := seedRiskPolicies(workspaceID, agentID, v.DefaultRiskProfile)
	role := seedCollaborationRole(v.HierarchyDefaults, bp.RoleType)

	inst.Version = version
	inst.Overrides = overrides
	inst.PolicySnapshot = snapshot
	inst.UpdatedAt = b.now().UTC()

	b.audit.Emit(workspaceID, "instance_refreshed", "binder",
		fmt.Sprintf("agent %d instance refreshed to v%d", agentID, version), nil, map[string]any{"version": version})

	return inst, seeded, role, nil
}

// RemoveAgentInstance deletes the binding. Risk policies and roles are not
// rolled back (considered stateful, per §4.4).
func (b *Binder) RemoveAgentInstance(workspaceID, agentID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.instances[agentID]
	if !ok || inst.WorkspaceID != workspaceID {
		return ErrNoInstance
	}
	delete(b.instances, agentID)
	b.audit.Emit(workspaceID, "instance_removed", "binder", fmt.Sprintf("agent %d instance removed", agentID), inst, nil)
	return nil
}

// GetInstance returns the instance for agentID, or ErrNoInstance.
func (b *Binder) GetInstance(workspaceID, agentID int64) (*Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	inst, ok := b.instances[agentID]
	if !ok || inst.WorkspaceID != workspaceID {
		return nil, ErrNoInstance
	}
	return inst, nil
}

func (b *Binder) resolveBundles(workspaceID int64, ids []int64) ([]*capability.Bundle, error) {
	if len(ids) == 0 || b.caps == nil {
		return nil, nil
	}
	bundles := make([]*capability.Bundle, 0, len(ids))
	for _, id := range ids {
		bundle, err := b.caps.Get(workspaceID, id)
		if err != nil {
			return nil, fmt.Errorf("resolve capability %d: %w", id, err)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func seedRiskPolicies(workspaceID, agentID int64, profile map[string]decimal.Decimal) []SeededPolicy {
	var out []SeededPolicy
	for _, pt := range seedablePolicyTypes {
		raw, ok := profile[string(pt)]
		if !ok {
			continue
		}
		action := ActionAlertOnly
		out = append(out, SeededPolicy{
			WorkspaceID:     workspaceID,
			AgentID:         agentID,
			PolicyType:      pt,
			ThresholdValue:  raw,
			ActionType:      action,
			CooldownMinutes: defaultCooldownMinutes,
			Enabled:         true,
		})
	}
	return out
}

func seedCollaborationRole(hierarchyDefaults map[string]any, roleType blueprint.RoleType) string {
	if hierarchyDefaults != nil {
		if r, ok := hierarchyDefaults["role"].(string); ok && r != "" {
			return r
		}
	}
	if role, ok := roleForBlueprintType[roleType]; ok {
		return role
	}
	return "worker"
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

func hasWildcard(items []string) bool {
	for _, i := range items {
		if i == "*" {
			return true
		}
	}
	return false
}
