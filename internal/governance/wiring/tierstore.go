/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package wiring

import (
	"sync"

	"github.com/juanpasaflipz/legator-governance/internal/governance/tenant"
)

// TierStore is an in-memory tenant.Store. Tier assignment is a
// config-shaped resource (one row per workspace, rarely written), so it
// stays in-memory per the architectural split documented in
// store/migration.go rather than getting its own SQL table.
type TierStore struct {
	mu    sync.RWMutex
	tiers map[int64]*tenant.Tier
}

// NewTierStore builds an empty store; workspaces without an entry fall
// back to tenant.DefaultFreeTier via the registry.
func NewTierStore() *TierStore {
	return &TierStore{tiers: make(map[int64]*tenant.Tier)}
}

func (s *TierStore) GetTier(workspaceID int64) (*tenant.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[workspaceID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *TierStore) UpsertTier(t tenant.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tiers[t.WorkspaceID] = &cp
	return nil
}
