/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package execctx

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
)

type fakeOwnership struct {
	owned map[int64]int64
}

func (f fakeOwnership) BelongsToWorkspace(agentID, workspaceID int64) (bool, error) {
	return f.owned[agentID] == workspaceID, nil
}

func TestCreate_RejectsCrossWorkspaceAgent(t *testing.T) {
	g := gomega.NewWithT(t)

	_, err := Create(fakeOwnership{owned: map[int64]int64{5: 2}}, 1, 5)

	g.Expect(err).To(gomega.MatchError(ErrCrossWorkspace))
}

func TestCreate_AssignsFreshRunID(t *testing.T) {
	g := gomega.NewWithT(t)

	ownership := fakeOwnership{owned: map[int64]int64{5: 1}}
	c1, err := Create(ownership, 1, 5)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	c2, err := Create(ownership, 1, 5)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	g.Expect(c1.RunID).NotTo(gomega.Equal(c2.RunID))
}

func TestContext_AllowedToolsNilWithoutSnapshot(t *testing.T) {
	g := gomega.NewWithT(t)

	c := Context{}
	g.Expect(c.AllowedTools()).To(gomega.BeNil())
	g.Expect(c.HasCapabilities()).To(gomega.BeFalse())
}

func TestContext_AllowedToolsWildcardIsUnrestricted(t *testing.T) {
	g := gomega.NewWithT(t)

	c := Context{}.WithCapabilities(capability.Snapshot{AllowedTools: []string{"*"}})

	g.Expect(c.AllowedTools()).To(gomega.BeNil())
}

func TestContext_AllowedToolsRestrictsToSnapshotSet(t *testing.T) {
	g := gomega.NewWithT(t)

	c := Context{}.WithCapabilities(capability.Snapshot{AllowedTools: []string{"web_search"}})

	allowed := c.AllowedTools()
	g.Expect(allowed).To(gomega.HaveKey("web_search"))
	g.Expect(allowed).NotTo(gomega.HaveKey("sql_query"))
}

func TestContext_ForAgentDerivesSiblingContextInSameWorkspace(t *testing.T) {
	g := gomega.NewWithT(t)

	ownership := fakeOwnership{owned: map[int64]int64{5: 1, 6: 1}}
	c, err := Create(ownership, 1, 5)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	sibling, err := c.ForAgent(ownership, 6)

	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(sibling.AgentID).To(gomega.Equal(int64(6)))
	g.Expect(sibling.WorkspaceID).To(gomega.Equal(c.WorkspaceID))
	g.Expect(sibling.RunID).NotTo(gomega.Equal(c.RunID))
}

func TestContext_ForAgentRejectsCrossWorkspaceSibling(t *testing.T) {
	g := gomega.NewWithT(t)

	ownership := fakeOwnership{owned: map[int64]int64{5: 1, 9: 2}}
	c, err := Create(ownership, 1, 5)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	_, err = c.ForAgent(ownership, 9)

	g.Expect(err).To(gomega.MatchError(ErrCrossWorkspace))
}
