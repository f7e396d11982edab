/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package runtime implements the Agent Runtime: a per-workspace manager
// holding the session registry and per-agent inboxes. Two Runtime
// instances for different workspaces share no mutable state.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/execctx"
	"github.com/juanpasaflipz/legator-governance/internal/governance/gateway"
)

var (
	// ErrWrongWorkspace is returned when a context resolves to a different
	// workspace than the runtime it was presented to.
	ErrWrongWorkspace = errors.New("runtime: execution context belongs to a different workspace")
	// ErrGovernanceDenied is returned when tier limits refuse a session.
	ErrGovernanceDenied = errors.New("runtime: governance denied session start")
	// ErrSessionStopped is returned by any session operation after Stop.
	ErrSessionStopped = errors.New("runtime: session is stopped")
	// ErrCrossWorkspaceMessage is returned when send_message targets an
	// agent outside the sending session's workspace.
	ErrCrossWorkspaceMessage = errors.New("runtime: cannot message an agent in another workspace")
)

// InstanceStore resolves the AgentInstance bound to an agent, if any.
type InstanceStore interface {
	GetInstance(agentID int64) (*capability.Snapshot, bool, error)
}

// Governance performs the pre-start tier checks. Unavailability must fail
// open per §4.7 step 4.
type Governance interface {
	CheckAgentLimit(workspaceID int64) (bool, string, error)
	CheckAgentAllowed(workspaceID, agentID int64) (bool, string, error)
}

// ObservabilityStore is the narrow slice of the observability surface the
// runtime needs to open and close runs.
type ObservabilityStore interface {
	StartRun(workspaceID int64, agentID int64) (runID string, err error)
	FinishRun(runID string, status string, errMsg string) error
	EmitEvent(e EventInput) error
}

// EventInput is the minimal event shape the runtime emits for session
// lifecycle and messaging activity.
type EventInput struct {
	WorkspaceID int64
	AgentID     *int64
	RunID       *string
	EventType   string
	Status      string
	Payload     map[string]any
}

// AgentMessage is an immutable inter-agent mailbox entry.
type AgentMessage struct {
	ID          string
	From        int64
	To          int64
	WorkspaceID int64
	Content     string
	CreatedAt   time.Time
}

// Runtime is a per-workspace session manager. Construct one per
// workspace; do not share across workspaces.
type Runtime struct {
	workspaceID int64

	ownership execctx.Ownership
	instances InstanceStore
	gov       Governance
	obs       ObservabilityStore
	registry  gateway.Registry
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	inboxes  map[int64][]AgentMessage
}

// New constructs a Runtime scoped to workspaceID.
func New(workspaceID int64, ownership execctx.Ownership, instances InstanceStore, gov Governance, obs ObservabilityStore, registry gateway.Registry, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		workspaceID: workspaceID,
		ownership:   ownership,
		instances:   instances,
		gov:         gov,
		obs:         obs,
		registry:    registry,
		log:         log,
		sessions:    make(map[string]*Session),
		inboxes:     make(map[int64][]AgentMessage),
	}
}

// StartSession implements §4.7 start_session.
func (r *Runtime) StartSession(agentID int64) (*Session, error) {
	ctx, err := execctx.Create(r.ownership, r.workspaceID, agentID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if ctx.WorkspaceID != r.workspaceID {
		return nil, ErrWrongWorkspace
	}

	if r.instances != nil {
		snapshot, ok, err := r.instances.GetInstance(agentID)
		if err != nil {
			r.log.Warn("instance lookup failed, proceeding unrestricted", zap.Int64("agent_id", agentID), zap.Error(err))
		} else if ok {
			ctx = ctx.WithCapabilities(*snapshot)
		}
	}

	if r.gov != nil {
		if allowed, reason, err := r.gov.CheckAgentLimit(r.workspaceID); err != nil {
			r.log.Warn("governance check_agent_limit unavailable, failing open", zap.Error(err))
		} else if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrGovernanceDenied, reason)
		}
		if allowed, reason, err := r.gov.CheckAgentAllowed(r.workspaceID, agentID); err != nil {
			r.log.Warn("governance check_agent_allowed unavailable, failing open", zap.Error(err))
		} else if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrGovernanceDenied, reason)
		}
	}

	var runID string
	if r.obs != nil {
		runID, err = r.obs.StartRun(r.workspaceID, agentID)
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
		ctx.RunID = runID
	}

	gw := gateway.New(ctx, r.registry, nil, nil, r.log)

	sess := &Session{
		ctx:     ctx,
		gateway: gw,
		rt:      r,
	}

	r.mu.Lock()
	r.sessions[ctx.RunID] = sess
	r.mu.Unlock()

	return sess, nil
}

func (r *Runtime) deliverMessage(to int64, msg AgentMessage) {
	r.mu.Lock()
	r.inboxes[to] = append(r.inboxes[to], msg)
	r.mu.Unlock()
}

func (r *Runtime) drainInbox(agentID int64) []AgentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.inboxes[agentID]
	r.inboxes[agentID] = nil
	return msgs
}

func (r *Runtime) unregister(runID string) {
	r.mu.Lock()
	delete(r.sessions, runID)
	r.mu.Unlock()
}

func (r *Runtime) emitBestEffort(e EventInput) {
	if r.obs == nil {
		return
	}
	if err := r.obs.EmitEvent(e); err != nil {
		r.log.Warn("best-effort event emission failed", zap.String("event_type", e.EventType), zap.Error(err))
	}
}

// Session is one agent's open execution scope within a Runtime. All
// session-local state is immutable after construction except the
// stopped flag.
type Session struct {
	ctx     execctx.Context
	gateway *gateway.Gateway
	rt      *Runtime

	mu      sync.Mutex
	stopped bool
}

// Context returns the session's execution scope.
func (s *Session) Context() execctx.Context { return s.ctx }

func (s *Session) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	return nil
}

// ExecuteTool proxies to the session's Tool Gateway.
func (s *Session) ExecuteTool(toolName string, arguments map[string]any) (gateway.Result, error) {
	if err := s.checkAlive(); err != nil {
		return gateway.Result{}, err
	}
	return s.gateway.Execute(toolName, arguments), nil
}

// ListTools proxies to the session's Tool Gateway.
func (s *Session) ListTools() ([]gateway.ToolSchema, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.gateway.ListTools()
}

// SendMessage implements §4.7 send_message: verify same-workspace target,
// append to the target's inbox, emit a best-effort annotated event.
func (s *Session) SendMessage(toAgentID int64, content string) (AgentMessage, error) {
	if err := s.checkAlive(); err != nil {
		return AgentMessage{}, err
	}

	ok, err := s.rt.ownership.BelongsToWorkspace(toAgentID, s.ctx.WorkspaceID)
	if err != nil {
		return AgentMessage{}, fmt.Errorf("send message: %w", err)
	}
	if !ok {
		return AgentMessage{}, ErrCrossWorkspaceMessage
	}

	msg := AgentMessage{
		ID:          uuid.New().String(),
		From:        s.ctx.AgentID,
		To:          toAgentID,
		WorkspaceID: s.ctx.WorkspaceID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	s.rt.deliverMessage(toAgentID, msg)

	runID := s.ctx.RunID
	s.rt.emitBestEffort(EventInput{
		WorkspaceID: s.ctx.WorkspaceID,
		AgentID:     &s.ctx.AgentID,
		RunID:       &runID,
		EventType:   "action_started",
		Status:      "success",
		Payload: map[string]any{
			"kind":    "agent_message",
			"to":      toAgentID,
			"message": msg.ID,
		},
	})

	return msg, nil
}

// ReceiveMessages drains this session's agent's inbox, FIFO.
func (s *Session) ReceiveMessages() ([]AgentMessage, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.rt.drainInbox(s.ctx.AgentID), nil
}

// Stop ends the session. Idempotent; subsequent operations fail with
// ErrSessionStopped.
func (s *Session) Stop(status string, errMsg string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.rt.unregister(s.ctx.RunID)

	if s.rt.obs != nil {
		if err := s.rt.obs.FinishRun(s.ctx.RunID, status, errMsg); err != nil {
			s.rt.log.Warn("finish_run failed", zap.String("run_id", s.ctx.RunID), zap.Error(err))
		}
	}
	return nil
}
