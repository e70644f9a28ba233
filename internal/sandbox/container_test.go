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

package sandbox

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memobuild/internal/graph"
)

func TestContainer_PrepareExecuteCleanup(t *testing.T) {
	c := NewContainer(LocalRuntime{})
	n := graph.Node{Kind: graph.KindRun, Text: "echo container-output"}

	ws, err := c.Prepare(context.Background(), n)
	require.NoError(t, err)
	_, statErr := os.Stat(ws.Dir)
	require.NoError(t, statErr, "Prepare must create the snapshot directory")

	res, err := c.Execute(context.Background(), ws, n)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Stdout), "container-output")

	require.NoError(t, c.Cleanup(context.Background(), ws))
	_, statErr = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(statErr), "Cleanup must remove the snapshot directory")
}

func TestBuildSpec_WrapsInstructionInShell(t *testing.T) {
	spec := buildSpec(graph.Node{Text: "make all"}, map[string]string{"FOO": "bar"})
	assert.Equal(t, []string{"/bin/sh", "-c", "make all"}, spec.Args)
	assert.Contains(t, spec.Env, "FOO=bar")
	assert.Equal(t, "/workspace", spec.Cwd)
}
