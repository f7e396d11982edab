/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package approval implements the Approval Queue: a state machine over
// agent-proposed externally-facing actions that require a human decision
// before dispatch.
package approval

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the ApprovalAction lifecycle state. Transitions are:
// pending→approved→executed, pending→approved→failed, or
// pending→rejected. No reverse transitions.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound       = errors.New("approval: action not found")
	ErrNotPending     = errors.New("approval: action is not pending")
	ErrNoHandler      = errors.New("approval: no handler registered for this action/service type")
	ErrWrongWorkspace = errors.New("approval: action does not belong to this workspace")
)

// Action is an ApprovalAction row.
type Action struct {
	ID          int64
	WorkspaceID int64
	AgentID     *int64
	ActionType  string
	ServiceType string
	ActionData  map[string]any
	Status      Status
	AIReasoning string
	AIConfidence float64
	ResultData  map[string]any
	ErrorMessage string
	CreatedAt   time.Time
	ApprovedAt  *time.Time
	ExecutedAt  *time.Time
}

// handlerKey identifies a compile-time-registered action handler.
type handlerKey struct {
	actionType  string
	serviceType string
}

// Handler executes one externally-facing action. It returns either a
// result map or an error string (distinct from a Go error, matching the
// spec's handler contract of "(result_dict|nil, error_string|nil)").
type Handler func(workspaceID int64, actionData map[string]any) (result map[string]any, errString string, err error)

// UsageCounter bumps a per-service usage counter on successful execution.
type UsageCounter interface {
	IncrementUsage(workspaceID int64, serviceType string)
}

// Queue is the in-memory Approval Queue. IDs are assigned sequentially
// starting at 1, mirroring the teacher's fixed-start-ID seeding idiom
// used elsewhere in this tree for in-memory stores.
type Queue struct {
	mu       sync.Mutex
	actions  map[int64]*Action
	nextID   int64
	handlers map[handlerKey]Handler
	usage    UsageCounter
	now      func() time.Time
}

// NewQueue constructs an empty Approval Queue. usage may be nil.
func NewQueue(usage UsageCounter) *Queue {
	return &Queue{
		actions:  make(map[int64]*Action),
		nextID:   1,
		handlers: make(map[handlerKey]Handler),
		usage:    usage,
		now:      time.Now,
	}
}

// RegisterHandler wires a compile-time handler for an (action_type,
// service_type) pair, e.g. ("send_email", "gmail") or ("place_order",
// "binance").
func (q *Queue) RegisterHandler(actionType, serviceType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[handlerKey{actionType, serviceType}] = h
}

// CreateAction implements §4.11 create_action — always lands in pending.
func (q *Queue) CreateAction(workspaceID int64, agentID *int64, actionType, serviceType string, actionData map[string]any, reasoning string, confidence float64) *Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := &Action{
		ID:           q.nextID,
		WorkspaceID:  workspaceID,
		AgentID:      agentID,
		ActionType:   actionType,
		ServiceType:  serviceType,
		ActionData:   actionData,
		Status:       StatusPending,
		AIReasoning:  reasoning,
		AIConfidence: confidence,
		CreatedAt:    q.now().UTC(),
	}
	q.actions[a.ID] = a
	q.nextID++
	return a
}

// ApproveAndExecute implements §4.11 approve_and_execute: loads the
// pending action, stamps approved and resolves the handler under the
// queue lock, releases the lock while the handler runs, then re-takes it
// to commit the final status.
func (q *Queue) ApproveAndExecute(actionID, workspaceID int64) (*Action, error) {
	q.mu.Lock()
	a, ok := q.actions[actionID]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	if a.WorkspaceID != workspaceID {
		q.mu.Unlock()
		return nil, ErrWrongWorkspace
	}
	if a.Status != StatusPending {
		q.mu.Unlock()
		return nil, ErrNotPending
	}

	now := q.now().UTC()
	a.Status = StatusApproved
	a.ApprovedAt = &now

	handler, ok := q.handlers[handlerKey{a.ActionType, a.ServiceType}]
	if !ok {
		a.Status = StatusFailed
		a.ErrorMessage = fmt.Sprintf("no handler registered for (%s, %s)", a.ActionType, a.ServiceType)
		q.mu.Unlock()
		return a, ErrNoHandler
	}
	usage, actionType, serviceType := q.usage, a.ActionType, a.ServiceType
	_ = actionType
	q.mu.Unlock()

	result, errString, err := q.invokeHandler(handler, a)

	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case err != nil:
		a.Status = StatusFailed
		a.ErrorMessage = err.Error()
	case errString != "":
		a.Status = StatusFailed
		a.ErrorMessage = errString
	default:
		executedAt := q.now().UTC()
		a.Status = StatusExecuted
		a.ExecutedAt = &executedAt
		a.ResultData = result
		if usage != nil {
			usage.IncrementUsage(a.WorkspaceID, serviceType)
		}
	}
	return a, nil
}

// invokeHandler isolates the handler call so a panicking handler becomes
// a normal failed transition rather than crashing the caller.
func (q *Queue) invokeHandler(h Handler, a *Action) (result map[string]any, errString string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(a.WorkspaceID, a.ActionData)
}

// RejectAction implements §4.11 reject_action.
func (q *Queue) RejectAction(actionID, workspaceID int64) (*Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.actions[actionID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.WorkspaceID != workspaceID {
		return nil, ErrWrongWorkspace
	}
	if a.Status != StatusPending {
		return nil, ErrNotPending
	}
	a.Status = StatusRejected
	return a, nil
}

// Get returns a single action.
func (q *Queue) Get(actionID, workspaceID int64) (*Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.actions[actionID]
	if !ok || a.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return a, nil
}

// ListPending returns all pending actions for a workspace, oldest first.
func (q *Queue) ListPending(workspaceID int64) []*Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Action, 0)
	for _, a := range q.actions {
		if a.WorkspaceID == workspaceID && a.Status == StatusPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
