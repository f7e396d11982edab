/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package blueprint implements the Blueprint Catalog: the
// Draft→Published→Archived lifecycle for AgentBlueprints and their
// immutable BlueprintVersions.
package blueprint

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
)

// Status is the blueprint lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// RoleType constrains the blueprint's declared agent role.
type RoleType string

const (
	RoleSupervisor RoleType = "supervisor"
	RoleResearcher RoleType = "researcher"
	RoleExecutor   RoleType = "executor"
	RoleWorker     RoleType = "worker"
	RoleAutonomous RoleType = "autonomous"
)

var validRoleTypes = map[RoleType]bool{
	RoleSupervisor: true, RoleResearcher: true, RoleExecutor: true,
	RoleWorker: true, RoleAutonomous: true,
}

// OverridePolicy constrains which AgentInstance override keys are legal.
type OverridePolicy struct {
	AllowedOverrides []string `json:"allowed_overrides,omitempty"`
	DeniedOverrides  []string `json:"denied_overrides,omitempty"`
}

// Version is an immutable snapshot of a blueprint's policy, pinned by
// instances that reference it.
type Version struct {
	BlueprintID        string                     `json:"blueprint_id"`
	Version            int                        `json:"version"`
	AllowedModels      []string                   `json:"allowed_models"`
	AllowedTools       []string                   `json:"allowed_tools"`
	DefaultRiskProfile map[string]decimal.Decimal `json:"default_risk_profile,omitempty"`
	HierarchyDefaults  map[string]any             `json:"hierarchy_defaults,omitempty"`
	OverridePolicy     OverridePolicy             `json:"override_policy"`
	LLMDefaults        map[string]any             `json:"llm_defaults,omitempty"`
	IdentityDefaults   map[string]any             `json:"identity_defaults,omitempty"`
	CapabilityIDs      []int64                    `json:"capability_ids,omitempty"`
	Changelog          string                     `json:"changelog,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// Blueprint is a reusable, versioned template declaring what an agent is
// permitted to do.
type Blueprint struct {
	ID          string    `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RoleType    RoleType  `json:"role_type"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrInvalidRoleType   = errors.New("blueprint: invalid role_type")
	ErrNotDraft          = errors.New("blueprint: operation only valid while status=draft")
	ErrArchived          = errors.New("blueprint: cannot publish an archived blueprint")
	ErrDraftCannotArchive = errors.New("blueprint: cannot archive a draft; publish first")
	ErrNotFound          = errors.New("blueprint: not found")
	ErrVersionNotFound   = errors.New("blueprint: version not found")
	ErrForeignCapability = errors.New("blueprint: capability belongs to a different workspace")
)

// AuditSink receives governance audit entries for catalog operations.
// An explicit injection point per spec §9 rather than a global logger.
type AuditSink interface {
	Emit(workspaceID int64, eventType, actor, summary string, before, after any)
}

type noopAuditSink struct{}

func (noopAuditSink) Emit(int64, string, string, string, any, any) {}

// CapabilityLookup resolves bundle IDs to bundles scoped to a workspace,
// used to validate publish-time capability references.
type CapabilityLookup interface {
	Get(workspaceID int64, id int64) (*capability.Bundle, error)
}

// Catalog is the in-memory Blueprint Catalog, mirroring the mutex-guarded
// map store pattern of internal/controlplane/policy/templates.go,
// generalized to a two-level store (blueprints + their version history).
type Catalog struct {
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
	versions   map[string][]*Version // blueprintID -> versions, ascending
	audit      AuditSink
	caps       CapabilityLookup
	now        func() time.Time
}

// NewCatalog builds an empty Catalog. audit may be nil (defaults to a
// no-op sink); caps is required to validate capability references on
// publish.
func NewCatalog(audit AuditSink, caps CapabilityLookup) *Catalog {
	if audit == nil {
		audit = noopAuditSink{}
	}
	return &Catalog{
		blueprints: make(map[string]*Blueprint),
		versions:   make(map[string][]*Version),
		audit:      audit,
		caps:       caps,
		now:        time.Now,
	}
}

// CreateBlueprint creates a new draft blueprint.
func (c *Catalog) CreateBlueprint(workspaceID int64, name string, roleType RoleType, description string) (*Blueprint, error) {
	if !validRoleTypes[roleType] {
		return nil, ErrInvalidRoleType
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	bp := &Blueprint{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		RoleType:    roleType,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.blueprints[bp.ID] = bp
	return bp, nil
}

// UpdateDraftBlueprint updates name/description/role_type, only while the
// blueprint is still a draft.
func (c *Catalog) UpdateDraftBlueprint(workspaceID int64, id string, name, description *string, roleType *RoleType) (*Blueprint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bp, err := c.getLocked(workspaceID, id)
	if err != nil {
		return nil, err
	}
	if bp.Status != StatusDraft {
		return nil, ErrNotDraft
	}
	if roleType != nil {
		if !validRoleTypes[*roleType] {
			return nil, ErrInvalidRoleType
		}
		bp.RoleType = *roleType
	}
	if name != nil {
		bp.Name = *name
	}
	if description != nil {
		bp.Description = *description
	}
	bp.UpdatedAt = c.now().UTC()
	return bp, nil
}

// PublishInput carries the fields of a new BlueprintVersion to create.
type PublishInput struct {
	AllowedModels      []string
	AllowedTools       []string
	DefaultRiskProfile map[string]decimal.Decimal
	HierarchyDefaults  map[string]any
	OverridePolicy     OverridePolicy
	LLMDefaults        map[string]any
	IdentityDefaults   map[string]any
	CapabilityIDs      []int64
	Changelog          string
}

// PublishBlueprint creates a new immutable version and, if the blueprint
// was a draft, transitions it to published. Refuses archived blueprints.
// All capability references must belong to the same workspace or the
// entire publish aborts.
func (c *Catalog) PublishBlueprint(workspaceID int64, id string, in PublishInput) (*Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bp, err := c.getLocked(workspaceID, id)
	if err != nil {
		return nil, err
	}
	if bp.Status == StatusArchived {
		return nil, ErrArchived
	}

	for _, capID := range in.CapabilityIDs {
		if c.caps == nil {
			break
		}
		if _, err := c.caps.Get(workspaceID, capID); err != nil {
			return nil, fmt.Errorf("%w: capability %d", ErrForeignCapability, capID)
		}
	}

	existing := c.versions[id]
	nextVersion := 1
	if len(existing) > 0 {
		nextVersion = existing[len(existing)-1].Version + 1
	}

	v := &Version{
		BlueprintID:        id,
		Version:            nextVersion,
		AllowedModels:      in.AllowedModels,
		AllowedTools:       in.AllowedTools,
		DefaultRiskProfile: in.DefaultRiskProfile,
		HierarchyDefaults:  in.HierarchyDefaults,
		OverridePolicy:     in.OverridePolicy,
		LLMDefaults:        in.LLMDefaults,
		IdentityDefaults:   in.IdentityDefaults,
		CapabilityIDs:      in.CapabilityIDs,
		Changelog:          in.Changelog,
		CreatedAt:          c.now().UTC(),
	}
	c.versions[id] = append(existing, v)

	wasDraft := bp.Status == StatusDraft
	bp.Status = StatusPublished
	bp.UpdatedAt = v.CreatedAt

	c.audit.Emit(workspaceID, "blueprint_published", "catalog",
		fmt.Sprintf("blueprint %s published version %d", id, v.Version),
		map[string]any{"status": map[bool]Status{true: StatusDraft, false: StatusPublished}[wasDraft]},
		map[string]any{"status": StatusPublished, "version": v.Version})

	return v, nil
}

// ArchiveBlueprint archives a published blueprint. Refuses a draft (must
// publish first). Idempotent on an already archived blueprint.
func (c *Catalog) ArchiveBlueprint(workspaceID int64, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bp, err := c.getLocked(workspaceID, id)
	if err != nil {
		return err
	}
	if bp.Status == StatusArchived {
		return nil
	}
	if bp.Status == StatusDraft {
		return ErrDraftCannotArchive
	}
	bp.Status = StatusArchived
	bp.UpdatedAt = c.now().UTC()
	return nil
}

// CloneBlueprint creates a fresh draft copying role_type/description from
// source at the given version. The returned draft has no versions of its
// own; the caller publishes separately.
func (c *Catalog) CloneBlueprint(workspaceID int64, sourceID string, version int, newName *string) (*Blueprint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.getLocked(workspaceID, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := c.findVersionLocked(sourceID, version); err != nil {
		return nil, err
	}

	name := source.Name + " (copy)"
	if newName != nil {
		name = *newName
	}

	now := c.now().UTC()
	clone := &Blueprint{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: source.Description,
		RoleType:    source.RoleType,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.blueprints[clone.ID] = clone
	return clone, nil
}

// GetBlueprint returns a blueprint scoped to workspaceID.
func (c *Catalog) GetBlueprint(workspaceID int64, id string) (*Blueprint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(workspaceID, id)
}

// GetLatestVersion returns the most recently published version.
func (c *Catalog) GetLatestVersion(workspaceID int64, id string) (*Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, err := c.getLocked(workspaceID, id); err != nil {
		return nil, err
	}
	versions := c.versions[id]
	if len(versions) == 0 {
		return nil, ErrVersionNotFound
	}
	return versions[len(versions)-1], nil
}

// GetVersion returns a specific version number.
func (c *Catalog) GetVersion(workspaceID int64, id string, version int) (*Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, err := c.getLocked(workspaceID, id); err != nil {
		return nil, err
	}
	return c.findVersionLocked(id, version)
}

// ListBlueprintVersions returns up to limit versions, newest first.
func (c *Catalog) ListBlueprintVersions(workspaceID int64, id string, limit int) ([]*Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, err := c.getLocked(workspaceID, id); err != nil {
		return nil, err
	}
	versions := c.versions[id]
	out := make([]*Version, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListBlueprints returns blueprints for workspaceID, optionally filtered
// by status and role_type, paginated by limit/offset.
func (c *Catalog) ListBlueprints(workspaceID int64, status *Status, roleType *RoleType, limit, offset int) ([]*Blueprint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []*Blueprint
	for _, bp := range c.blueprints {
		if bp.WorkspaceID != workspaceID {
			continue
		}
		if status != nil && bp.Status != *status {
			continue
		}
		if roleType != nil && bp.RoleType != *roleType {
			continue
		}
		matched = append(matched, bp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	if offset >= len(matched) {
		return []*Blueprint{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountBlueprints returns the number of blueprints in a workspace.
func (c *Catalog) CountBlueprints(workspaceID int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, bp := range c.blueprints {
		if bp.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (c *Catalog) getLocked(workspaceID int64, id string) (*Blueprint, error) {
	bp, ok := c.blueprints[id]
	if !ok || bp.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return bp, nil
}

func (c *Catalog) findVersionLocked(id string, version int) (*Version, error) {
	for _, v := range c.versions[id] {
		if v.Version == version {
			return v, nil
		}
	}
	return nil, ErrVersionNotFound
}

// GenerateImplicitBlueprint opts a legacy agent into management by
// publishing a wide-open blueprint: allowed_tools/allowed_models are
// wildcarded, override_policy allows everything, and default_risk_profile
// is empty. Per spec §9 this must never mutate existing RiskPolicy or
// AgentRole rows — callers must not re-run the instance seeding steps
// against an agent instantiated from the result.
func (c *Catalog) GenerateImplicitBlueprint(workspaceID int64, agentName string, existingRole *string) (*Blueprint, *Version, error) {
	bp, err := c.CreateBlueprint(workspaceID, agentName+"-implicit", RoleAutonomous, "auto-generated from legacy agent")
	if err != nil {
		return nil, nil, err
	}

	hierarchy := map[string]any{}
	if existingRole != nil {
		hierarchy["role"] = *existingRole
	}

	v, err := c.PublishBlueprint(workspaceID, bp.ID, PublishInput{
		AllowedModels:     []string{"*"},
		AllowedTools:      []string{"*"},
		HierarchyDefaults: hierarchy,
		OverridePolicy:    OverridePolicy{AllowedOverrides: []string{"*"}},
		Changelog:         "implicit blueprint for legacy agent",
	})
	if err != nil {
		return nil, nil, err
	}
	return bp, v, nil
}
