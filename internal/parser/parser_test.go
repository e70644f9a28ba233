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

package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memobuild/internal/graph"
)

func TestParse_SkipsBlankAndCommentLines(t *testing.T) {
	script := "# a comment\n\nFROM alpine\n  \nRUN echo hi\n"
	instrs, err := Parse(strings.NewReader(script))
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	assert.Equal(t, "FROM", instrs[0].Keyword)
	assert.Equal(t, "RUN", instrs[1].Keyword)
}

func TestParse_UnknownKeywordBecomesOther(t *testing.T) {
	instrs, err := Parse(strings.NewReader("EXPOSE 8080\n"))
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	assert.Equal(t, "OTHER", instrs[0].Keyword)
}

func TestParse_EnvAcceptsKeyEqualsValueAndKeySpaceValue(t *testing.T) {
	instrs, err := Parse(strings.NewReader("ENV KEY=VALUE\nENV OTHER value2\n"))
	require.NoError(t, err)
	require.Len(t, instrs, 2)

	g, err := BuildGraph(instrs)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"KEY": "VALUE"}, g.Nodes[0].Env)
	assert.Equal(t, map[string]string{"OTHER": "value2"}, g.Nodes[1].Env)
}

func TestBuildGraph_DefaultDependencyOnPrecedingNode(t *testing.T) {
	script := "FROM alpine\nWORKDIR /app\nCOPY . .\nRUN make\n"
	instrs, err := Parse(strings.NewReader(script))
	require.NoError(t, err)

	g, err := BuildGraph(instrs)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 4)
	assert.Empty(t, g.Nodes[0].Deps)
	assert.Equal(t, []int{0}, g.Nodes[1].Deps)
	assert.Equal(t, []int{1}, g.Nodes[2].Deps)
	assert.Equal(t, []int{2}, g.Nodes[3].Deps)
}

func TestBuildGraph_CopyRecordsSrcAndDst(t *testing.T) {
	instrs, err := Parse(strings.NewReader("FROM alpine\nCOPY app/ /srv/app\n"))
	require.NoError(t, err)
	g, err := BuildGraph(instrs)
	require.NoError(t, err)
	cp := g.Nodes[1]
	assert.Equal(t, graph.KindCopy, cp.Kind)
	assert.Equal(t, "app/", cp.SourcePath)
	assert.Equal(t, "/srv/app", cp.DestPath)
}

func TestBuildGraph_CopyRequiresDestination(t *testing.T) {
	instrs, err := Parse(strings.NewReader("COPY onlysrc\n"))
	require.NoError(t, err)
	_, err = BuildGraph(instrs)
	assert.Error(t, err)
}

func TestBuildGraph_GitDefaultsTargetToDot(t *testing.T) {
	instrs, err := Parse(strings.NewReader("GIT https://example.com/repo.git\n"))
	require.NoError(t, err)
	g, err := BuildGraph(instrs)
	require.NoError(t, err)
	assert.Equal(t, ".", g.Nodes[0].DestPath)
	assert.Equal(t, "https://example.com/repo.git", g.Nodes[0].SourcePath)
}

func TestBuildGraph_GitExplicitTargetDir(t *testing.T) {
	instrs, err := Parse(strings.NewReader("GIT https://example.com/repo.git target-dir=vendor/repo\n"))
	require.NoError(t, err)
	g, err := BuildGraph(instrs)
	require.NoError(t, err)
	assert.Equal(t, "vendor/repo", g.Nodes[0].DestPath)
}
