/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var errBoom = errors.New("spend source should not have been called")

func TestEvaluator_BreachAboveThresholdCreatesPendingEvent(t *testing.T) {
	g := gomega.NewWithT(t)

	policies := &fakePolicyStore{policies: []Policy{
		{ID: 1, WorkspaceID: 10, PolicyType: PolicyDailySpendCap, Threshold: decimal.NewFromInt(100), Action: ActionAlertOnly, Enabled: true},
	}}
	events := newFakeEventStore()
	spend := fakeSpendSource{amount: decimal.NewFromInt(101)}
	e := NewEvaluator(policies, events, spend, nil)

	created, err := e.Run(10)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(created).To(gomega.Equal(1))
	g.Expect(events.events).To(gomega.HaveLen(1))
}

func TestEvaluator_ExactlyAtThresholdDoesNotBreach(t *testing.T) {
	g := gomega.NewWithT(t)

	policies := &fakePolicyStore{policies: []Policy{
		{ID: 1, WorkspaceID: 10, PolicyType: PolicyDailySpendCap, Threshold: decimal.NewFromInt(100), Action: ActionAlertOnly, Enabled: true},
	}}
	events := newFakeEventStore()
	spend := fakeSpendSource{amount: decimal.NewFromInt(100)}
	e := NewEvaluator(policies, events, spend, nil)

	created, err := e.Run(10)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(created).To(gomega.Equal(0))
	g.Expect(events.events).To(gomega.BeEmpty())
}

func TestEvaluator_OnlyDailySpendCapIsEvaluated(t *testing.T) {
	g := gomega.NewWithT(t)

	policies := &fakePolicyStore{policies: []Policy{
		{ID: 1, WorkspaceID: 10, PolicyType: PolicyErrorRateCap, Threshold: decimal.Zero, Action: ActionAlertOnly, Enabled: true},
	}}
	events := newFakeEventStore()
	// A SpendSource that errors would fail the test if it were ever called.
	spend := fakeSpendSource{err: errBoom}
	e := NewEvaluator(policies, events, spend, nil)

	created, err := e.Run(10)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(created).To(gomega.Equal(0))
}

func TestEvaluator_DedupeKeySuppressesSameDayDuplicate(t *testing.T) {
	g := gomega.NewWithT(t)

	policies := &fakePolicyStore{policies: []Policy{
		{ID: 1, WorkspaceID: 10, PolicyType: PolicyDailySpendCap, Threshold: decimal.NewFromInt(100), Action: ActionAlertOnly, CooldownMinutes: 0, Enabled: true},
	}}
	events := newFakeEventStore()
	spend := fakeSpendSource{amount: decimal.NewFromInt(200)}
	e := NewEvaluator(policies, events, spend, nil)
	fixedNow := e.now()
	e.now = func() time.Time { return fixedNow }

	first, err := e.Run(10)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(first).To(gomega.Equal(1))

	second, err := e.Run(10)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(second).To(gomega.Equal(0), "dedupe key for the same policy/day must suppress a second event")
}

func TestEvaluator_CooldownWindowSuppressesReevaluation(t *testing.T) {
	g := gomega.NewWithT(t)

	policies := &fakePolicyStore{policies: []Policy{
		{ID: 1, WorkspaceID: 10, PolicyType: PolicyDailySpendCap, Threshold: decimal.NewFromInt(100), Action: ActionAlertOnly, CooldownMinutes: 60, Enabled: true},
	}}
	events := newFakeEventStore()
	spend := fakeSpendSource{amount: decimal.NewFromInt(200)}
	e := NewEvaluator(policies, events, spend, nil)

	created, err := e.Run(10)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(created).To(gomega.Equal(1))

	// Same instant again: still inside the 60-minute cooldown, so no new
	// event even though the dedupe key hasn't been consulted yet.
	second, err := e.Run(10)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(second).To(gomega.Equal(0))
}
