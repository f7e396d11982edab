/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package capability

import (
	"sort"

	"github.com/shopspring/decimal"
)

// VersionCeiling carries the blueprint-version-level ceilings the
// resolution algorithm intersects bundle output against.
type VersionCeiling struct {
	AllowedTools       []string
	AllowedModels      []string
	DefaultRiskProfile map[string]decimal.Decimal
	LLMDefaults        map[string]any
	IdentityDefaults   map[string]any
}

// Snapshot is the resolved, denormalized policy snapshot stored on an
// AgentInstance — the authoritative runtime reference for the Tool Gateway
// and Execution Context.
type Snapshot struct {
	AllowedTools     []string                   `json:"allowed_tools"`
	AllowedModels    []string                   `json:"allowed_models"`
	RiskProfile      map[string]decimal.Decimal `json:"risk_profile"`
	LLMDefaults      map[string]any             `json:"llm_defaults,omitempty"`
	IdentityDefaults map[string]any             `json:"identity_defaults,omitempty"`
}

// Resolve implements the §4.2 resolution algorithm: fold a set of bundles
// against a blueprint version's ceilings into the policy snapshot that
// gets frozen onto an AgentInstance.
func Resolve(ceiling VersionCeiling, bundles []*Bundle) Snapshot {
	return Snapshot{
		AllowedTools:     resolveTools(ceiling, bundles),
		AllowedModels:    resolveModels(ceiling, bundles),
		RiskProfile:      resolveRiskProfile(ceiling, bundles),
		LLMDefaults:      ceiling.LLMDefaults,
		IdentityDefaults: ceiling.IdentityDefaults,
	}
}

// resolveTools: union across bundles, intersected with the blueprint
// ceiling when it is non-empty and non-wildcard. With no bundles the
// union is unrestricted, so the result is the ceiling itself (or "*" when
// the ceiling does not constrain).
func resolveTools(ceiling VersionCeiling, bundles []*Bundle) []string {
	union := stringSet{}
	for _, b := range bundles {
		for _, t := range b.ToolSet {
			union[t] = struct{}{}
		}
	}

	if len(bundles) == 0 {
		if isCeilingConstraining(ceiling.AllowedTools) {
			return sortedSlice(toSet(ceiling.AllowedTools))
		}
		return []string{"*"}
	}

	if isCeilingConstraining(ceiling.AllowedTools) {
		ceilingSet := toSet(ceiling.AllowedTools)
		union = intersect(union, ceilingSet)
	}

	return sortedSlice(union)
}

// resolveModels: intersection of each bundle's allowed providers
// (restrictive), then intersected again with the blueprint ceiling when
// it constrains. If no bundle specifies providers, fall back to the
// blueprint list (or "*" when that too is empty).
func resolveModels(ceiling VersionCeiling, bundles []*Bundle) []string {
	var intersection stringSet
	sawAny := false

	for _, b := range bundles {
		providers := b.ModelConstraints.AllowedProviders
		if len(providers) == 0 {
			continue
		}
		sawAny = true
		set := toSet(providers)
		if intersection == nil {
			intersection = set
		} else {
			intersection = intersect(intersection, set)
		}
	}

	if !sawAny {
		if isCeilingConstraining(ceiling.AllowedModels) {
			return append([]string(nil), ceiling.AllowedModels...)
		}
		return []string{"*"}
	}

	if isCeilingConstraining(ceiling.AllowedModels) {
		intersection = intersect(intersection, toSet(ceiling.AllowedModels))
	}

	return sortedSlice(intersection)
}

// resolveRiskProfile: start from the blueprint default, then for each
// numeric key present on any bundle keep the minimum (most conservative)
// value across all bundles and the running profile.
func resolveRiskProfile(ceiling VersionCeiling, bundles []*Bundle) map[string]decimal.Decimal {
	profile := make(map[string]decimal.Decimal, len(ceiling.DefaultRiskProfile))
	for k, v := range ceiling.DefaultRiskProfile {
		profile[k] = v
	}

	for _, b := range bundles {
		for k, v := range b.RiskConstraints {
			if existing, ok := profile[k]; ok {
				if v.LessThan(existing) {
					profile[k] = v
				}
			} else {
				profile[k] = v
			}
		}
	}

	return profile
}

// isCeilingConstraining reports whether a blueprint-level allowlist
// actually restricts anything — empty or wildcard lists do not.
func isCeilingConstraining(list []string) bool {
	if len(list) == 0 {
		return false
	}
	for _, v := range list {
		if v == "*" {
			return false
		}
	}
	return true
}

type stringSet map[string]struct{}

func toSet(items []string) stringSet {
	s := make(stringSet, len(items))
	for _, i := range items {
		s[i] = struct{}{}
	}
	return s
}

func intersect(a, b stringSet) stringSet {
	out := stringSet{}
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func sortedSlice(s stringSet) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
