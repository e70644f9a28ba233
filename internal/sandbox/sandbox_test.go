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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memobuild/internal/graph"
)

func TestLocal_ExecuteCapturesStdoutAndExitCode(t *testing.T) {
	l := NewLocal(t.TempDir())
	n := graph.Node{Kind: graph.KindRun, Text: "echo captured-output"}

	ws, err := l.Prepare(context.Background(), n)
	require.NoError(t, err)
	defer l.Cleanup(context.Background(), ws)

	res, err := l.Execute(context.Background(), ws, n)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Stdout), "captured-output")
}

func TestLocal_ExecuteNonZeroExitIsNotAGoError(t *testing.T) {
	l := NewLocal(t.TempDir())
	n := graph.Node{Kind: graph.KindRun, Text: "exit 5"}
	ws, err := l.Prepare(context.Background(), n)
	require.NoError(t, err)

	res, err := l.Execute(context.Background(), ws, n)
	require.NoError(t, err, "a non-zero exit is reported via Result.ExitCode, not a Go error")
	assert.Equal(t, 5, res.ExitCode)
}

func TestLocal_EnvIsVisibleToCommand(t *testing.T) {
	l := NewLocal(t.TempDir())
	n := graph.Node{Kind: graph.KindRun, Text: "echo $MEMOBUILD_TEST_VAR", Env: map[string]string{"MEMOBUILD_TEST_VAR": "xyz123"}}
	ws, err := l.Prepare(context.Background(), n)
	require.NoError(t, err)

	res, err := l.Execute(context.Background(), ws, n)
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), "xyz123")
}

func TestLocal_CopyExtendWritesFile(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "source.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	l := NewLocal(t.TempDir())
	n := graph.Node{Kind: graph.KindCopyExtend, SourcePath: src, DestPath: "dest.txt"}
	ws, err := l.Prepare(context.Background(), n)
	require.NoError(t, err)

	res, err := l.Execute(context.Background(), ws, n)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	got, err := os.ReadFile(filepath.Join(ws.Dir, "dest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestLocal_CleanupIsNoopAndSafeOnEveryExitPath(t *testing.T) {
	l := NewLocal(t.TempDir())
	ws, err := l.Prepare(context.Background(), graph.Node{})
	require.NoError(t, err)
	assert.NoError(t, l.Cleanup(context.Background(), ws))
}
