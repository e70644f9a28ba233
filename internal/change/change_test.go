// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package change

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/graph"
)

// buildScript constructs the S2 scenario's graph: FROM alpine / COPY app . / RUN cat app/x.
func buildScript(t *testing.T, root, appContent string) (*graph.BuildGraph, int, int, int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "x"), []byte(appContent), 0o644))

	g := graph.New()
	base, err := g.AddNode(graph.KindBaseImage, "FROM alpine", nil)
	require.NoError(t, err)
	cp, err := g.AddNode(graph.KindCopy, "COPY app .", []int{base.ID})
	require.NoError(t, err)
	cp.SourcePath = "app"
	cp.DestPath = "."
	run, err := g.AddNode(graph.KindRun, "RUN sh -c 'cat app/x'", []int{cp.ID})
	require.NoError(t, err)
	return g, base.ID, cp.ID, run.ID
}

func TestDetect_SourceChangeInvalidatesTransitively(t *testing.T) {
	root := t.TempDir()
	g, baseID, cpID, runID := buildScript(t, root, "v1")

	_, err := Detect(context.Background(), g, Options{ProjectRoot: root, PriorHashes: map[int]string{}})
	require.NoError(t, err)
	// First build: everything is dirty since PriorHashes is empty.
	assert.True(t, g.Nodes[cpID].Dirty)

	priorKeys := map[int]string{
		baseID: digest.OfString(g.Nodes[baseID].Text).Hash,
		cpID:   g.Nodes[cpID].Metadata.SourceContentHash,
		runID:  digest.OfString(g.Nodes[runID].Text).Hash,
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "x"), []byte("v2"), 0o644))

	g2, _, cpID2, runID2 := buildScript(t, root, "v2")
	_, err = Detect(context.Background(), g2, Options{ProjectRoot: root, PriorHashes: priorKeys})
	require.NoError(t, err)

	assert.True(t, g2.Nodes[cpID2].Dirty, "the Copy node whose source changed must be dirty")
	assert.True(t, g2.Nodes[runID2].Dirty, "dirtiness must cascade to the dependent Run node")
}

func TestDetect_UnchangedInputsStaySettled(t *testing.T) {
	root := t.TempDir()
	g, baseID, cpID, runID := buildScript(t, root, "stable")

	_, err := Detect(context.Background(), g, Options{ProjectRoot: root, PriorHashes: map[int]string{}})
	require.NoError(t, err)

	priorKeys := map[int]string{
		baseID: digest.OfString(g.Nodes[baseID].Text).Hash,
		cpID:   g.Nodes[cpID].Metadata.SourceContentHash,
		runID:  digest.OfString(g.Nodes[runID].Text).Hash,
	}

	g2, _, cpID2, runID2 := buildScript(t, root, "stable")
	_, err = Detect(context.Background(), g2, Options{ProjectRoot: root, PriorHashes: priorKeys})
	require.NoError(t, err)

	assert.False(t, g2.Nodes[cpID2].Dirty)
	assert.False(t, g2.Nodes[runID2].Dirty)
}

func TestDetect_NonCopyNodesRecordSourceContentHashForPersistence(t *testing.T) {
	root := t.TempDir()
	g, baseID, _, runID := buildScript(t, root, "v1")

	_, err := Detect(context.Background(), g, Options{ProjectRoot: root})
	require.NoError(t, err)

	assert.Equal(t, digest.OfString(g.Nodes[baseID].Text).Hash, g.Nodes[baseID].Metadata.SourceContentHash,
		"a BaseImage node's rehash-input must be recorded so callers can persist it across builds")
	assert.Equal(t, digest.OfString(g.Nodes[runID].Text).Hash, g.Nodes[runID].Metadata.SourceContentHash,
		"a Run node's rehash-input must be recorded so callers can persist it across builds")
}

// recordingGitResolver is a change.GitResolver test double that records the
// (url, target) pair it was called with.
type recordingGitResolver struct {
	gotURL, gotTarget string
	head              string
}

func (r *recordingGitResolver) ResolveHead(_ context.Context, url, target string) (string, error) {
	r.gotURL, r.gotTarget = url, target
	return r.head, nil
}

func TestDetect_GitNodeResolvesPlainHeadNotCheckoutDir(t *testing.T) {
	root := t.TempDir()
	g := graph.New()
	gitNode, err := g.AddNode(graph.KindGit, "GIT https://example.com/repo.git", nil)
	require.NoError(t, err)
	gitNode.SourcePath = "https://example.com/repo.git"
	gitNode.DestPath = "." // GIT with no explicit target-dir= defaults here

	resolver := &recordingGitResolver{head: "deadbeef"}
	_, err = Detect(context.Background(), g, Options{ProjectRoot: root, Git: resolver})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/repo.git", resolver.gotURL)
	assert.Empty(t, resolver.gotTarget, "the checkout target dir must never be passed as the git ref to resolve")
	assert.Equal(t, "deadbeef", g.Nodes[gitNode.ID].Metadata.SourceContentHash,
		"a successful HEAD resolution must be recorded as the node's rehash-input")
}

func TestDetect_ComputeNodeKeyIsPure(t *testing.T) {
	root := t.TempDir()
	g1, _, _, _ := buildScript(t, root, "same")
	g2, _, _, _ := buildScript(t, root, "same")

	_, err := Detect(context.Background(), g1, Options{ProjectRoot: root})
	require.NoError(t, err)
	_, err = Detect(context.Background(), g2, Options{ProjectRoot: root})
	require.NoError(t, err)

	for i := range g1.Nodes {
		assert.Equal(t, g1.Nodes[i].Key, g2.Nodes[i].Key, "identical graphs must produce identical composite keys")
	}
}

func TestDetect_CopyOutputManifestIncludesOwnSourceTree(t *testing.T) {
	root := t.TempDir()
	g, _, cpID, runID := buildScript(t, root, "payload")

	manifests, err := Detect(context.Background(), g, Options{ProjectRoot: root})
	require.NoError(t, err)

	cpNode := g.Nodes[cpID]
	out, ok := manifests[cpNode.Metadata.OutputManifestHash]
	require.True(t, ok)
	require.NotEmpty(t, out.Files, "the Copy node's output manifest must include its own source subtree, not just its (empty) input")

	// The Run node's input manifest must, in turn, inherit the Copy's output.
	runNode := g.Nodes[runID]
	in, ok := manifests[runNode.Metadata.InputManifestHash]
	require.True(t, ok)
	assert.Equal(t, out.Files, in.Files)
}
