/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package api exposes the governance runtime's external HTTP surface:
// blueprint/capability CRUD, agent binding, the approval queue, and the
// observability ingest and cron/admin endpoints. Routing follows the
// teacher's stdlib ServeMux pattern (cmd/control-plane/main.go) rather
// than a router dependency.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/juanpasaflipz/legator-governance/internal/governance/approval"
	"github.com/juanpasaflipz/legator-governance/internal/governance/blueprint"
	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/enforcement"
	"github.com/juanpasaflipz/legator-governance/internal/governance/gateway"
	"github.com/juanpasaflipz/legator-governance/internal/governance/instance"
	"github.com/juanpasaflipz/legator-governance/internal/governance/observability"
)

// Server bundles every governance component the HTTP surface fronts.
type Server struct {
	Blueprints  *blueprint.Catalog
	Bundles     capability.Store
	Instances   *instance.Binder
	Approvals   *approval.Queue
	Ingestor    *observability.Ingestor
	Tools       gateway.Registry

	Worker    *enforcement.Worker
	Retention *observability.GC

	AdminSecret string // bcrypt hash compared against cron/admin bearer tokens

	Log *zap.Logger
}

func (s *Server) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Routes builds the HTTP mux for the SPEC_FULL.md §6 surface. It does not
// register POST /agents/{id}/convert-to-blueprint or
// POST /blueprints/migrate-workspace.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	mux.HandleFunc("GET /blueprints", s.listBlueprints)
	mux.HandleFunc("POST /blueprints", s.createBlueprint)
	mux.HandleFunc("GET /blueprints/{id}", s.getBlueprint)
	mux.HandleFunc("POST /blueprints/{id}", s.updateBlueprint)
	mux.HandleFunc("POST /blueprints/{id}/publish", s.publishBlueprint)
	mux.HandleFunc("POST /blueprints/{id}/archive", s.archiveBlueprint)
	mux.HandleFunc("POST /blueprints/{id}/clone", s.cloneBlueprint)
	mux.HandleFunc("GET /blueprints/{id}/versions", s.listVersions)
	mux.HandleFunc("GET /blueprints/{id}/versions/{n}", s.getVersion)

	mux.HandleFunc("GET /capabilities", s.listCapabilities)
	mux.HandleFunc("POST /capabilities", s.createCapability)
	mux.HandleFunc("GET /capabilities/{id}", s.getCapability)
	mux.HandleFunc("POST /capabilities/{id}", s.updateCapability)

	mux.HandleFunc("POST /agents/{id}/instantiate", s.instantiateAgent)
	mux.HandleFunc("GET /agents/{id}/instance", s.getInstance)
	mux.HandleFunc("POST /agents/{id}/instance/refresh", s.refreshInstance)
	mux.HandleFunc("DELETE /agents/{id}/instance", s.removeInstance)

	mux.HandleFunc("GET /tools", s.listTools)

	mux.HandleFunc("GET /agent-actions/pending", s.listPendingActions)
	mux.HandleFunc("POST /agent-actions/{id}/approve", s.approveAction)
	mux.HandleFunc("POST /agent-actions/{id}/reject", s.rejectAction)

	mux.HandleFunc("POST /obs/ingest/events", s.requireObsKey(s.ingestEvent))
	mux.HandleFunc("POST /obs/ingest/heartbeat", s.requireObsKey(s.ingestHeartbeat))

	mux.HandleFunc("POST /obs/internal/enforce-risk", s.requireAdminSecret(s.runEnforcementCycle))
	mux.HandleFunc("POST /obs/internal/retention-cleanup", s.requireAdminSecret(s.runRetentionCleanup))

	return mux
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeSuccess(w http.ResponseWriter, status int, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	extra["success"] = true
	writeJSON(w, status, extra)
}

func workspaceID(r *http.Request) (int64, bool) {
	v := r.Header.Get("X-Workspace-ID")
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil
}

func pathInt(r *http.Request, key string) (int64, bool) {
	v := r.PathValue(key)
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// --- auth middleware ---

func (s *Server) requireAdminSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if s.AdminSecret == "" || token == "" || bcrypt.CompareHashAndPassword([]byte(s.AdminSecret), []byte(token)) != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) requireObsKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(token, "obsk_") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- blueprints ---

func (s *Server) listBlueprints(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	list, err := s.Blueprints.ListBlueprints(ws, nil, nil, 100, 0)
	if err != nil {
		s.log().Error("list blueprints failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createBlueprint(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	var in struct {
		Name        string             `json:"name"`
		RoleType    blueprint.RoleType `json:"role_type"`
		Description string             `json:"description"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bp, err := s.Blueprints.CreateBlueprint(ws, in.Name, in.RoleType, in.Description)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, bp)
}

func (s *Server) getBlueprint(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	bp, err := s.Blueprints.GetBlueprint(ws, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) updateBlueprint(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	var in struct {
		Name        *string             `json:"name"`
		Description *string             `json:"description"`
		RoleType    *blueprint.RoleType `json:"role_type"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bp, err := s.Blueprints.UpdateDraftBlueprint(ws, r.PathValue("id"), in.Name, in.Description, in.RoleType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) publishBlueprint(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	var in blueprint.PublishInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, err := s.Blueprints.PublishBlueprint(ws, r.PathValue("id"), in)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) archiveBlueprint(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	if err := s.Blueprints.ArchiveBlueprint(ws, r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) cloneBlueprint(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	var in struct {
		Version int     `json:"version"`
		NewName *string `json:"new_name"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bp, err := s.Blueprints.CloneBlueprint(ws, r.PathValue("id"), in.Version, in.NewName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, bp)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	versions, err := s.Blueprints.ListBlueprintVersions(ws, r.PathValue("id"), 0)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	n, ok := pathInt(r, "n")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	v, err := s.Blueprints.GetVersion(ws, r.PathValue("id"), int(n))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- capabilities ---

func (s *Server) listCapabilities(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	list, err := s.Bundles.List(ws)
	if err != nil {
		s.log().Error("list capabilities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createCapability(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	var b capability.Bundle
	if err := decodeBody(r, &b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b.WorkspaceID = ws
	if err := s.Bundles.Create(&b); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getCapability(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	id, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	b, err := s.Bundles.Get(ws, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) updateCapability(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	id, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var b capability.Bundle
	if err := decodeBody(r, &b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b.ID = id
	b.WorkspaceID = ws
	if err := s.Bundles.Update(&b); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- tool gateway ---

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	if s.Tools == nil {
		writeJSON(w, http.StatusOK, []gateway.ToolSchema{})
		return
	}
	list, err := s.Tools.ToolsForWorkspace(ws)
	if err != nil {
		s.log().Error("list tools failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- agent binding ---

func (s *Server) instantiateAgent(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	agentID, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var in struct {
		BlueprintID string         `json:"blueprint_id"`
		Version     int            `json:"version"`
		Overrides   map[string]any `json:"overrides"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inst, policies, role, err := s.Instances.InstantiateAgent(ws, agentID, in.BlueprintID, in.Version, in.Overrides)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"instance":          inst,
		"seeded_policies":   policies,
		"collaboration_role": role,
	})
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	agentID, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	inst, err := s.Instances.GetInstance(ws, agentID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) refreshInstance(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	agentID, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var in struct {
		Version   *int           `json:"version"`
		Overrides map[string]any `json:"overrides"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inst, policies, role, err := s.Instances.RefreshInstancePolicy(ws, agentID, in.Version, in.Overrides)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance":          inst,
		"seeded_policies":   policies,
		"collaboration_role": role,
	})
}

func (s *Server) removeInstance(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	agentID, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if err := s.Instances.RemoveAgentInstance(ws, agentID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// --- approvals ---

func (s *Server) listPendingActions(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	writeJSON(w, http.StatusOK, s.Approvals.ListPending(ws))
}

func (s *Server) approveAction(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	id, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	a, err := s.Approvals.ApproveAndExecute(id, ws)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) rejectAction(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Workspace-ID")
		return
	}
	id, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	a, err := s.Approvals.RejectAction(id, ws)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- observability ingest ---

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var in observability.EventInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Ingestor.EmitEvent(in); err != nil {
		s.log().Error("emit event failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	writeSuccess(w, http.StatusCreated, nil)
}

func (s *Server) ingestHeartbeat(w http.ResponseWriter, r *http.Request) {
	var in observability.EventInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.EventType = "heartbeat"
	if err := s.Ingestor.EmitEvent(in); err != nil {
		s.log().Error("emit event failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	writeSuccess(w, http.StatusCreated, nil)
}

// --- cron/admin ---

func (s *Server) runEnforcementCycle(w http.ResponseWriter, r *http.Request) {
	result := s.Worker.RunCycle(45)
	writeSuccess(w, http.StatusOK, map[string]any{
		"events_created":  result.EventsCreated,
		"events_executed": result.EventsExecuted,
		"elapsed_seconds": result.Elapsed.Seconds(),
		"truncated":       result.Truncated,
	})
}

func (s *Server) runRetentionCleanup(w http.ResponseWriter, r *http.Request) {
	if s.Retention == nil {
		writeError(w, http.StatusInternalServerError, "retention GC not configured")
		return
	}
	results, err := s.Retention.Run(120)
	if err != nil {
		s.log().Error("retention cleanup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"workspaces": results})
}
