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
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/memobuild/internal/graph"
)

// RuntimeSpec is a minimal OCI runtime-spec-shaped struct, built by
// buildSpec, enough to describe the isolation Container prepares (spec
// §4.H): isolated pid/mount/ipc/uts namespaces, /proc + tmpfs /dev,
// argv=["/bin/sh","-c",cmd], cwd=/workspace.
type RuntimeSpec struct {
	Args       []string          `json:"args"`
	Cwd        string            `json:"cwd"`
	Env        []string          `json:"env"`
	Namespaces []string          `json:"namespaces"`
	Mounts     []RuntimeMount    `json:"mounts"`
}

type RuntimeMount struct {
	Destination string `json:"destination"`
	Type        string `json:"type"`
	Source      string `json:"source"`
}

func buildSpec(n graph.Node, env map[string]string) RuntimeSpec {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}
	return RuntimeSpec{
		Args:       []string{"/bin/sh", "-c", n.Text},
		Cwd:        "/workspace",
		Env:        envList,
		Namespaces: []string{"pid", "mount", "ipc", "uts"},
		Mounts: []RuntimeMount{
			{Destination: "/proc", Type: "proc", Source: "proc"},
			{Destination: "/dev", Type: "tmpfs", Source: "tmpfs"},
		},
	}
}

// Runtime abstracts the container engine so Container can be exercised in
// tests without a real OCI runtime available.
type Runtime interface {
	// RunSpec executes the given runtime spec with rootfs mounted at
	// workspaceDir, returning captured stdout/stderr/exit code.
	RunSpec(ctx context.Context, spec RuntimeSpec, workspaceDir string) (Result, error)
	// Snapshot prepares an isolated rootfs for the node, returning its path.
	Snapshot(ctx context.Context, n graph.Node) (string, error)
	// Teardown releases a snapshot created by Snapshot.
	Teardown(ctx context.Context, snapshotDir string) error
}

// Container is the OCI-runtime-backed Sandbox variant from spec §4.H.
type Container struct {
	Runtime Runtime
}

// NewContainer returns a Container sandbox driven by rt.
func NewContainer(rt Runtime) *Container {
	return &Container{Runtime: rt}
}

func (c *Container) Prepare(ctx context.Context, n graph.Node) (Workspace, error) {
	dir, err := c.Runtime.Snapshot(ctx, n)
	if err != nil {
		return Workspace{}, fmt.Errorf("sandbox: snapshot: %w", err)
	}
	return Workspace{Dir: dir, Env: n.Env}, nil
}

func (c *Container) Execute(ctx context.Context, ws Workspace, n graph.Node) (Result, error) {
	spec := buildSpec(n, ws.Env)
	return c.Runtime.RunSpec(ctx, spec, ws.Dir)
}

func (c *Container) Cleanup(ctx context.Context, ws Workspace) error {
	return c.Runtime.Teardown(ctx, ws.Dir)
}

// LocalRuntime is a minimal Runtime that shells out on the host, used where
// no real container engine is configured (e.g. tests, or the zero→aha path
// for a single-machine deployment). It does not actually namespace-isolate
// the process; production deployments should supply a containerd-backed
// Runtime instead.
type LocalRuntime struct{}

func (LocalRuntime) Snapshot(ctx context.Context, n graph.Node) (string, error) {
	dir, err := os.MkdirTemp("", "memobuild-sandbox-*")
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (LocalRuntime) Teardown(ctx context.Context, snapshotDir string) error {
	return os.RemoveAll(snapshotDir)
}

func (LocalRuntime) RunSpec(ctx context.Context, spec RuntimeSpec, workspaceDir string) (Result, error) {
	local := &Local{WorkspaceRoot: workspaceDir}
	n := graph.Node{Kind: graph.KindRun, Text: spec.Args[len(spec.Args)-1]}
	ws := Workspace{Dir: filepath.Join(workspaceDir), Env: map[string]string{}}
	return local.Execute(ctx, ws, n)
}
