/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func pendingEvent(action ActionType, agentID *int64) Event {
	return Event{
		ID:             uuid.New().String(),
		PolicyID:       1,
		WorkspaceID:    10,
		AgentID:        agentID,
		BreachValue:    decimal.NewFromInt(200),
		ThresholdValue: decimal.NewFromInt(100),
		Action:         action,
		Status:         EventPending,
		DedupeKey:      uuid.New().String(),
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestExecutor_AlertOnlyNotifiesAndExecutes(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionAlertOnly, nil)
	events.events[e.ID] = e

	notifier := &fakeNotifier{}
	x := NewExecutor(events, newFakeAgentRepo(), notifier, nil)

	n, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(n).To(gomega.Equal(1))
	g.Expect(events.events[e.ID].Status).To(gomega.Equal(EventExecuted))
	g.Expect(notifier.messages).To(gomega.HaveLen(1))
}

func TestExecutor_PauseAgentDeactivatesAndRecordsAudit(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionPauseAgent, int64Ptr(5))
	events.events[e.ID] = e

	agents := newFakeAgentRepo()
	agents.agents[5] = AgentState{IsActive: true}
	x := NewExecutor(events, agents, nil, nil)

	n, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(n).To(gomega.Equal(1))
	g.Expect(agents.agents[5].IsActive).To(gomega.BeFalse())
	g.Expect(events.events[e.ID].Status).To(gomega.Equal(EventExecuted))
	g.Expect(events.audits).To(gomega.HaveLen(1))
	g.Expect(events.audits[0].Result).To(gomega.Equal(ResultSuccess))
}

func TestExecutor_PauseAgentWithoutScopeIsSkipped(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionPauseAgent, nil)
	events.events[e.ID] = e

	x := NewExecutor(events, newFakeAgentRepo(), nil, nil)

	_, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(events.events[e.ID].Status).To(gomega.Equal(EventSkipped))
}

func TestExecutor_ModelDowngradeUsesProviderTarget(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionModelDowngrade, int64Ptr(5))
	events.events[e.ID] = e

	agents := newFakeAgentRepo()
	agents.agents[5] = AgentState{IsActive: true, LLMConfig: map[string]any{"provider": "openai", "model": "gpt-4o"}}
	x := NewExecutor(events, agents, nil, nil)

	_, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(agents.agents[5].LLMConfig["model"]).To(gomega.Equal("gpt-4o-mini"))
	g.Expect(events.events[e.ID].Status).To(gomega.Equal(EventExecuted))
}

func TestExecutor_ModelDowngradeAlreadyOnTargetIsSkipped(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionModelDowngrade, int64Ptr(5))
	events.events[e.ID] = e

	agents := newFakeAgentRepo()
	agents.agents[5] = AgentState{IsActive: true, LLMConfig: map[string]any{"provider": "openai", "model": "gpt-4o-mini"}}
	x := NewExecutor(events, agents, nil, nil)

	_, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(events.events[e.ID].Status).To(gomega.Equal(EventSkipped))
}

func TestExecutor_ModelDowngradeHonorsInjectedTargets(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionModelDowngrade, int64Ptr(5))
	events.events[e.ID] = e

	agents := newFakeAgentRepo()
	agents.agents[5] = AgentState{IsActive: true, LLMConfig: map[string]any{"provider": "acme", "model": "acme-large"}}
	x := NewExecutor(events, agents, nil, nil)
	x.SetDowngradeTargets(map[string]string{"default": "acme-small"})

	_, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(agents.agents[5].LLMConfig["model"]).To(gomega.Equal("acme-small"))
}

func TestExecutor_ThrottleIsNotImplementedAndSkipped(t *testing.T) {
	g := gomega.NewWithT(t)

	events := newFakeEventStore()
	e := pendingEvent(ActionThrottle, nil)
	events.events[e.ID] = e

	x := NewExecutor(events, newFakeAgentRepo(), nil, nil)

	_, err := x.Run()

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(events.events[e.ID].Status).To(gomega.Equal(EventSkipped))
}
