/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/juanpasaflipz/legator-governance/internal/governance/approval"
	"github.com/juanpasaflipz/legator-governance/internal/governance/blueprint"
	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
	"github.com/juanpasaflipz/legator-governance/internal/governance/instance"
)

type fakeOwnership struct{}

func (fakeOwnership) BelongsToWorkspace(agentID, workspaceID int64) (bool, error) { return true, nil }

type fakeUsageCounter struct{}

func (fakeUsageCounter) IncrementUsage(workspaceID int64, serviceType string) {}

func newTestServer() *Server {
	bundles := capability.NewMemStore()
	catalog := blueprint.NewCatalog(nil, bundles)
	binder := instance.NewBinder(catalog, nil, fakeOwnership{}, nil)
	queue := approval.NewQueue(fakeUsageCounter{})

	return &Server{
		Blueprints: catalog,
		Bundles:    bundles,
		Instances:  binder,
		Approvals:  queue,
	}
}

func doRequest(mux http.Handler, method, path string, workspaceID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if workspaceID != "" {
		req.Header.Set("X-Workspace-ID", workspaceID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Healthz(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()

	rec := doRequest(s.Routes(), http.MethodGet, "/healthz", "", nil)

	g.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
}

func TestAPI_ListBlueprintsRequiresWorkspaceHeader(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()

	rec := doRequest(s.Routes(), http.MethodGet, "/blueprints", "", nil)

	g.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
}

func TestAPI_CreateThenGetBlueprint(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()
	mux := s.Routes()

	rec := doRequest(mux, http.MethodPost, "/blueprints", "1", map[string]any{
		"name":      "researcher",
		"role_type": "researcher",
	})
	g.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))

	var created blueprint.Blueprint
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &created)).To(gomega.Succeed())
	g.Expect(created.ID).NotTo(gomega.BeEmpty())

	rec = doRequest(mux, http.MethodGet, "/blueprints/"+created.ID, "1", nil)
	g.Expect(rec.Code).To(gomega.Equal(http.StatusOK))

	rec = doRequest(mux, http.MethodGet, "/blueprints/"+created.ID, "2", nil)
	g.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound), "a blueprint must not be visible from a foreign workspace")
}

func TestAPI_CreateBlueprintRejectsInvalidRoleType(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()

	rec := doRequest(s.Routes(), http.MethodPost, "/blueprints", "1", map[string]any{
		"name":      "bad",
		"role_type": "not-a-role",
	})

	g.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
}

func TestAPI_InstantiateAgentAgainstPublishedBlueprint(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()
	mux := s.Routes()

	rec := doRequest(mux, http.MethodPost, "/blueprints", "1", map[string]any{"name": "researcher", "role_type": "researcher"})
	g.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
	var bp blueprint.Blueprint
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &bp)).To(gomega.Succeed())

	rec = doRequest(mux, http.MethodPost, "/blueprints/"+bp.ID+"/publish", "1", map[string]any{
		"AllowedTools": []string{"web_search"},
	})
	g.Expect(rec.Code).To(gomega.Equal(http.StatusOK))

	rec = doRequest(mux, http.MethodPost, "/agents/5/instantiate", "1", map[string]any{
		"blueprint_id": bp.ID,
		"version":      1,
	})
	g.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))

	rec = doRequest(mux, http.MethodGet, "/agents/5/instance", "1", nil)
	g.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
}

func TestAPI_AdminRouteRejectsWrongBearerToken(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-secret"), bcrypt.MinCost)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	s.AdminSecret = string(hash)
	mux := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/obs/internal/retention-cleanup", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
}

func TestAPI_ObsIngestRejectsMissingBearerPrefix(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()
	mux := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/obs/ingest/events", bytes.NewBufferString("{}"))
	req.Header.Set("Authorization", "Bearer not-an-obs-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
}

func TestAPI_ListToolsWithNoRegistryReturnsEmptyArray(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()

	rec := doRequest(s.Routes(), http.MethodGet, "/tools", "1", nil)

	g.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
	g.Expect(rec.Body.String()).To(gomega.MatchJSON(`[]`))
}

func TestAPI_ApproveRejectsWrongWorkspace(t *testing.T) {
	g := gomega.NewWithT(t)
	s := newTestServer()
	agentID := int64(5)
	a := s.Approvals.CreateAction(1, &agentID, "send_message", "email", map[string]any{"to": "a@b.com"}, "routine outreach", 0.9)

	rec := doRequest(s.Routes(), http.MethodPost, "/agent-actions/"+strconv.FormatInt(a.ID, 10)+"/approve", "2", nil)

	g.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
}
