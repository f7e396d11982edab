/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package wiring

import (
	"context"
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/juanpasaflipz/legator-governance/internal/governance/enforcement"
	"github.com/juanpasaflipz/legator-governance/internal/governance/gateway"
	"github.com/juanpasaflipz/legator-governance/internal/governance/instance"
	"github.com/juanpasaflipz/legator-governance/internal/governance/risk"
	"github.com/juanpasaflipz/legator-governance/internal/governance/tenant"
)

var (
	_ tenant.AgentCounter         = (*AgentDirectory)(nil)
	_ instance.AgentOwnership     = (*AgentDirectory)(nil)
	_ risk.AgentRepo              = (*AgentDirectory)(nil)
	_ enforcement.WorkspaceLister = (*AgentDirectory)(nil)
)

func TestAgentDirectory_SeedAndOwnershipChecks(t *testing.T) {
	g := gomega.NewWithT(t)

	d := NewAgentDirectory()
	d.Seed(1, 100)
	d.Seed(2, 100)
	d.Seed(3, 200)

	owned, err := d.BelongsToWorkspace(1, 100)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(owned).To(gomega.BeTrue())

	owned, err = d.BelongsToWorkspace(1, 200)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(owned).To(gomega.BeFalse())

	count, err := d.CountAgents(100)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(count).To(gomega.Equal(2))

	ids, err := d.ListWorkspaceIDs()
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ids).To(gomega.ConsistOf(int64(100), int64(200)))
}

func TestAgentDirectory_MarkHasHistoryGrandfathers(t *testing.T) {
	g := gomega.NewWithT(t)

	d := NewAgentDirectory()
	d.Seed(1, 100)

	hasHistory, err := d.AgentHasHistory(1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(hasHistory).To(gomega.BeFalse())

	d.MarkHasHistory(1)

	hasHistory, err = d.AgentHasHistory(1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(hasHistory).To(gomega.BeTrue())
}

func TestAgentDirectory_SetActiveAndLLMConfig(t *testing.T) {
	g := gomega.NewWithT(t)

	d := NewAgentDirectory()
	d.Seed(1, 100)

	g.Expect(d.SetActive(1, false)).To(gomega.Succeed())
	state, ok, err := d.Get(1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(state.IsActive).To(gomega.BeFalse())

	g.Expect(d.SetLLMConfig(1, map[string]any{"provider": "openai", "model": "gpt-4o-mini"})).To(gomega.Succeed())
	state, _, _ = d.Get(1)
	g.Expect(state.LLMConfig["model"]).To(gomega.Equal("gpt-4o-mini"))

	g.Expect(d.SetActive(999, true)).To(gomega.HaveOccurred())
}

func TestPricingSource_LookupRateKnownAndUnknownPair(t *testing.T) {
	g := gomega.NewWithT(t)

	p := NewPricingSource()

	rate, found, err := p.LookupRate("openai", "gpt-4o-mini", time.Now())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(found).To(gomega.BeTrue())
	g.Expect(rate.InputPerMillion.String()).To(gomega.Equal("0.15"))

	_, found, err = p.LookupRate("acme", "mystery-model", time.Now())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(found).To(gomega.BeFalse())
}

func TestToolRegistry_ExecuteRegisteredAndUnknownTool(t *testing.T) {
	g := gomega.NewWithT(t)

	reg := NewToolRegistry()
	reg.RegisterTool(gateway.ToolSchema{Name: "echo"}, func(ctx context.Context, workspaceID int64, args map[string]any) (map[string]any, error) {
		return map[string]any{"echo": args["msg"]}, nil
	})

	result, err := reg.Execute("echo", 1, map[string]any{"msg": "hi"})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(result.Error).To(gomega.BeEmpty())
	g.Expect(result.Data["echo"]).To(gomega.Equal("hi"))

	result, err = reg.Execute("missing", 1, nil)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(result.Error).NotTo(gomega.BeEmpty())

	tools, err := reg.ToolsForWorkspace(1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(tools).To(gomega.HaveLen(1))
}

func TestServiceUsage_IncrementUsageIsPerWorkspaceAndService(t *testing.T) {
	g := gomega.NewWithT(t)

	u := NewServiceUsage()
	u.IncrementUsage(1, "gmail")
	u.IncrementUsage(1, "gmail")
	u.IncrementUsage(1, "binance")
	u.IncrementUsage(2, "gmail")

	g.Expect(u.Count(1, "gmail")).To(gomega.Equal(2))
	g.Expect(u.Count(1, "binance")).To(gomega.Equal(1))
	g.Expect(u.Count(2, "gmail")).To(gomega.Equal(1))
}

func TestTierStore_UpsertAndGetRoundTrips(t *testing.T) {
	g := gomega.NewWithT(t)

	s := NewTierStore()

	got, err := s.GetTier(1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(got).To(gomega.BeNil())

	g.Expect(s.UpsertTier(tenant.Tier{WorkspaceID: 1, Name: "pro", AgentLimit: 10})).To(gomega.Succeed())

	got, err = s.GetTier(1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(got.Name).To(gomega.Equal("pro"))
}
