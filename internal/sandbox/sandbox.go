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

// Package sandbox implements spec component H: prepare/execute/cleanup
// lifecycle for running a node's command. Grounded on
// original_source/src/sandbox/{mod,local,containerd}.rs.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/kraklabs/memobuild/internal/graph"
)

// Workspace is what Prepare hands back to Execute: a working directory and
// the environment the command should see.
type Workspace struct {
	Dir string
	Env map[string]string
}

// Result is what Execute captures.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Sandbox is the capability set {prepare, execute, cleanup} from spec §4.H.
// There is no inheritance here — just the capability-set interface, per
// spec §9's "Remote executor trait object" design note applied uniformly.
type Sandbox interface {
	Prepare(ctx context.Context, n graph.Node) (Workspace, error)
	Execute(ctx context.Context, ws Workspace, n graph.Node) (Result, error)
	Cleanup(ctx context.Context, ws Workspace) error
}

// Local runs commands via the host shell with cwd=workspace (spec §4.H).
// CopyExtend nodes are executed as direct filesystem copies.
type Local struct {
	WorkspaceRoot string
}

// NewLocal returns a Local sandbox rooted at workspaceRoot (created if
// missing).
func NewLocal(workspaceRoot string) *Local {
	return &Local{WorkspaceRoot: workspaceRoot}
}

func (l *Local) Prepare(ctx context.Context, n graph.Node) (Workspace, error) {
	dir := l.WorkspaceRoot
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("sandbox: prepare workspace: %w", err)
	}
	return Workspace{Dir: dir, Env: n.Env}, nil
}

func (l *Local) Execute(ctx context.Context, ws Workspace, n graph.Node) (Result, error) {
	if n.Kind == graph.KindCopyExtend {
		return l.copyExtend(ws, n)
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", n.Text)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", n.Text)
	}
	cmd.Dir = ws.Dir
	cmd.Env = mergeEnv(ws.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("sandbox: execute: %w", err)
}

func (l *Local) copyExtend(ws Workspace, n graph.Node) (Result, error) {
	src := n.SourcePath
	dst := filepath.Join(ws.Dir, n.DestPath)
	data, err := os.ReadFile(src)
	if err != nil {
		return Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	return Result{ExitCode: 0, Stdout: data}, nil
}

func (l *Local) Cleanup(ctx context.Context, ws Workspace) error {
	return nil
}

func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
