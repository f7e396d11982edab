/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package capability implements CapabilityBundles — named, workspace-scoped
// permission sets composed into blueprint versions — and the deterministic
// resolution algorithm that folds a set of bundles plus blueprint-level
// ceilings into a policy snapshot.
package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ModelConstraints restricts the LLM providers an agent may call.
type ModelConstraints struct {
	AllowedProviders []string `json:"allowed_providers,omitempty"`
}

// Bundle is a named, workspace-scoped permission set.
type Bundle struct {
	ID               int64                      `json:"id"`
	WorkspaceID      int64                      `json:"workspace_id"`
	Name             string                     `json:"name"`
	ToolSet          []string                   `json:"tool_set"`
	ModelConstraints ModelConstraints           `json:"model_constraints"`
	RiskConstraints  map[string]decimal.Decimal `json:"risk_constraints,omitempty"`
	IsSystem         bool                       `json:"is_system"`
}

// Store is the CRUD boundary for capability bundles, modeled on the
// teacher's PolicyManager interface (list/get/create/update/delete as an
// explicit injection point).
type Store interface {
	List(workspaceID int64) ([]*Bundle, error)
	Get(workspaceID int64, id int64) (*Bundle, error)
	Create(b *Bundle) error
	Update(b *Bundle) error
	Delete(workspaceID int64, id int64) error
}

var (
	// ErrSystemBundle is returned when an update is attempted against a
	// system bundle, which refuses any mutation.
	ErrSystemBundle = fmt.Errorf("capability: system bundles cannot be modified")
	// ErrNameConflict is returned on a duplicate bundle name within a
	// workspace.
	ErrNameConflict = fmt.Errorf("capability: bundle name already exists in workspace")
	// ErrNotFound is returned when a bundle lookup misses.
	ErrNotFound = fmt.Errorf("capability: bundle not found")
)

// MemStore is an in-memory Store, mirroring the teacher's Store type in
// internal/controlplane/policy/templates.go: a mutex-guarded map seeded
// with fixed built-in bundles.
type MemStore struct {
	mu      sync.RWMutex
	bundles map[int64]*Bundle
	nextID  int64
}

// DefaultSystemBundles is the fallback observe-only/diagnose/full-access
// ladder used when no seed fixture overrides it, matching the teacher's
// observe-only/diagnose/full-remediate ladder generalized to the
// tool-calling domain.
var DefaultSystemBundles = []*Bundle{
	{Name: "observe-only", ToolSet: []string{"web_search", "read_inbox"}, IsSystem: true},
	{Name: "diagnose", ToolSet: []string{"web_search", "read_inbox", "sql_query"}, IsSystem: true},
	{Name: "full-access", ToolSet: []string{"*"}, IsSystem: true},
}

// NewMemStore seeds DefaultSystemBundles.
func NewMemStore() *MemStore {
	return NewMemStoreWithBundles(DefaultSystemBundles)
}

// NewMemStoreWithBundles seeds the given system bundles, e.g. ones loaded
// from an operator-supplied fixture (see the seed package). Each bundle's
// IsSystem is forced true and its ID is assigned.
func NewMemStoreWithBundles(systemBundles []*Bundle) *MemStore {
	s := &MemStore{bundles: make(map[int64]*Bundle), nextID: 100}
	for _, b := range systemBundles {
		cp := *b
		cp.IsSystem = true
		cp.ID = s.nextID
		s.nextID++
		s.bundles[cp.ID] = &cp
	}
	return s
}

// List returns all bundles visible to a workspace: its own plus the
// workspace-agnostic system bundles.
func (s *MemStore) List(workspaceID int64) ([]*Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		if b.IsSystem || b.WorkspaceID == workspaceID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a bundle by id, scoped to workspaceID unless it is a system
// bundle.
func (s *MemStore) Get(workspaceID int64, id int64) (*Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok || (!b.IsSystem && b.WorkspaceID != workspaceID) {
		return nil, ErrNotFound
	}
	return b, nil
}

// Create inserts a new bundle, rejecting a name collision within the
// workspace.
func (s *MemStore) Create(b *Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bundles {
		if existing.WorkspaceID == b.WorkspaceID && existing.Name == b.Name {
			return ErrNameConflict
		}
	}
	b.ID = s.nextID
	s.nextID++
	s.bundles[b.ID] = b
	return nil
}

// Update replaces a bundle in place, refusing system bundles.
func (s *MemStore) Update(b *Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.bundles[b.ID]
	if !ok || existing.WorkspaceID != b.WorkspaceID {
		return ErrNotFound
	}
	if existing.IsSystem {
		return ErrSystemBundle
	}
	s.bundles[b.ID] = b
	return nil
}

// Delete removes a bundle, refusing system bundles.
func (s *MemStore) Delete(workspaceID int64, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.bundles[id]
	if !ok || existing.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	if existing.IsSystem {
		return ErrSystemBundle
	}
	delete(s.bundles, id)
	return nil
}
