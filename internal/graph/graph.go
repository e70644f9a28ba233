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

// Package graph implements spec component C: nodes, dependencies,
// topological order, parallel levels, and composite node keys. Grounded on
// original_source/src/graph.rs, hand-rolled with no external DAG library —
// the same choice this port makes (see DESIGN.md).
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/memobuild/internal/digest"
)

// Kind is a Node's variant tag.
type Kind string

const (
	KindBaseImage   Kind = "BaseImage"
	KindWorkdir     Kind = "Workdir"
	KindCopy        Kind = "Copy"
	KindRun         Kind = "Run"
	KindEnv         Kind = "Env"
	KindCmd         Kind = "Cmd"
	KindGit         Kind = "Git"
	KindRunExtend   Kind = "RunExtend"
	KindCopyExtend  Kind = "CopyExtend"
	KindCustomHook  Kind = "CustomHook"
	KindOther       Kind = "Other"
)

// Runnable reports whether nodes of this kind can be dispatched through a
// RemoteExecutor (spec §4.G step 4).
func (k Kind) Runnable() bool {
	switch k {
	case KindRun, KindRunExtend, KindCustomHook, KindGit:
		return true
	default:
		return false
	}
}

// Metadata is a Node's derived bookkeeping state.
type Metadata struct {
	Parallelizable    bool              `json:"parallelizable"`
	Priority          int               `json:"priority"`
	Tags              []string          `json:"tags,omitempty"`
	LastExecutedUnix  int64             `json:"last_executed_unix,omitempty"`
	LastDurationMs    int64             `json:"last_duration_ms,omitempty"`
	SourceContentHash string            `json:"source_content_hash,omitempty"`
	InputManifestHash string            `json:"input_manifest_hash,omitempty"`
	OutputManifestHash string           `json:"output_manifest_hash,omitempty"`
	ExtraSourcePaths  []string          `json:"extra_source_paths,omitempty"`
}

// Node is one build step.
type Node struct {
	ID        int      `json:"id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	SourcePath string   `json:"source_path,omitempty"`
	DestPath  string    `json:"dest_path,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Deps      []int     `json:"deps"`

	Key       string    `json:"key"`
	Dirty     bool      `json:"dirty"`
	CacheHit  bool      `json:"cache_hit"`
	Metadata  Metadata  `json:"metadata"`
}

// Name returns a short human label for progress output / observer events.
func (n Node) Name() string {
	if n.DestPath != "" {
		return fmt.Sprintf("%s %s", n.Kind, n.DestPath)
	}
	if len(n.Text) > 40 {
		return fmt.Sprintf("%s %s...", n.Kind, n.Text[:40])
	}
	return fmt.Sprintf("%s %s", n.Kind, n.Text)
}

// BuildGraph is an ordered sequence of Nodes. Insertion order is
// topological order (spec §3).
type BuildGraph struct {
	Nodes []Node `json:"nodes"`
}

// New constructs an empty graph.
func New() *BuildGraph {
	return &BuildGraph{}
}

// AddNode appends a node, assigning it the next dense ordinal. deps must
// all be strictly less than the new node's id, enforcing the DAG invariant
// at insertion time (spec §3).
func (g *BuildGraph) AddNode(kind Kind, text string, deps []int) (*Node, error) {
	id := len(g.Nodes)
	for _, d := range deps {
		if d >= id || d < 0 {
			return nil, fmt.Errorf("graph: dependency %d is not strictly less than new node id %d", d, id)
		}
	}
	n := Node{
		ID:   id,
		Kind: kind,
		Text: text,
		Deps: append([]int(nil), deps...),
		Metadata: Metadata{
			Parallelizable: defaultParallelizable(kind, text),
		},
	}
	g.Nodes = append(g.Nodes, n)
	return &g.Nodes[len(g.Nodes)-1], nil
}

// defaultParallelizable implements spec §4.C's defaults: true for
// BaseImage/Workdir/Copy/Env/Cmd; false for CustomHook/Other; true for Run
// unless the command contains a destructive verb.
func defaultParallelizable(kind Kind, text string) bool {
	switch kind {
	case KindCustomHook, KindOther:
		return false
	case KindRun, KindRunExtend:
		lower := strings.ToLower(text)
		for _, verb := range []string{"rm", "mv", "chmod"} {
			if containsWord(lower, verb) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func containsWord(text, word string) bool {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, "-;&|()")
		if tok == word {
			return true
		}
	}
	return false
}

// Get returns the node with the given id.
func (g *BuildGraph) Get(id int) *Node {
	if id < 0 || id >= len(g.Nodes) {
		return nil
	}
	return &g.Nodes[id]
}

// TopologicalOrder returns node ids via DFS post-order over each node's
// Deps, so every dependency precedes its dependents (the same order as a
// reversed post-order over dependent edges, spec §4.C). Insertion order already satisfies this for an append-only graph
// built via AddNode, but this is computed independently so it also
// validates cycle-freeness for graphs built by other means.
func (g *BuildGraph) TopologicalOrder() ([]int, error) {
	n := len(g.Nodes)
	visited := make([]int8, n) // 0=unvisited, 1=visiting, 2=done
	order := make([]int, 0, n)

	var visit func(id int) error
	visit = func(id int) error {
		switch visited[id] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("graph: cycle detected at node %d", id)
		}
		visited[id] = 1
		for _, dep := range g.Nodes[id].Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[id] = 2
		order = append(order, id)
		return nil
	}

	for id := 0; id < n; id++ {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Levels partitions nodes by level(n) = 0 if deps empty else
// 1+max(level(dep)) (spec §3/§4.C), via iterative relaxation over
// topological order.
func (g *BuildGraph) Levels() ([][]int, error) {
	if len(g.Nodes) == 0 {
		return nil, nil
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	level := make([]int, len(g.Nodes))
	maxLevel := 0
	for _, id := range order {
		node := g.Nodes[id]
		l := 0
		for _, dep := range node.Deps {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		if l > maxLevel {
			maxLevel = l
		}
	}
	levels := make([][]int, maxLevel+1)
	for id := 0; id < len(g.Nodes); id++ {
		levels[level[id]] = append(levels[level[id]], id)
	}
	return levels, nil
}

// ComputeNodeKey implements spec §4.C's compute_node_key: a pure,
// deterministic function of the node's variant tag, text, sorted env,
// context hash, source-content-hash, sorted dependency keys,
// parallelizable/priority flags, and env fingerprint.
func ComputeNodeKey(n Node, depKeys []string, contextHash string, envFP digest.Digest) string {
	h := digest.NewRolling()

	fmt.Fprintf(h, "kind=%s\n", n.Kind)
	fmt.Fprintf(h, "text=%s\n", n.Text)

	envKeys := make([]string, 0, len(n.Env))
	for k := range n.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fmt.Fprintf(h, "env:%s=%s\n", k, n.Env[k])
	}

	if contextHash != "" {
		fmt.Fprintf(h, "context=%s\n", contextHash)
	}
	if n.Metadata.SourceContentHash != "" {
		fmt.Fprintf(h, "source=%s\n", n.Metadata.SourceContentHash)
	}

	sortedDeps := append([]string(nil), depKeys...)
	sort.Strings(sortedDeps)
	for _, dk := range sortedDeps {
		fmt.Fprintf(h, "dep=%s\n", dk)
	}

	fmt.Fprintf(h, "parallelizable=%v\n", n.Metadata.Parallelizable)
	fmt.Fprintf(h, "priority=%d\n", n.Metadata.Priority)

	if !envFP.IsZero() {
		fmt.Fprintf(h, "envfp=%s\n", envFP.Hash)
	}

	d := digest.Finalize(h, 0)
	return d.Hash
}

// AddHeuristicDeps wires the Copy→Run dependency rule from spec §4.C: a Run
// whose command text mentions a path previously introduced by a Copy gets
// an extra dependency on that Copy. New edges always point to strictly
// earlier ordinals so the graph stays acyclic (spec §9).
func (g *BuildGraph) AddHeuristicDeps(containsPath func(text, path string) bool) {
	copies := make(map[string]int) // dest path -> node id
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == KindCopy && n.DestPath != "" {
			copies[n.DestPath] = n.ID
		}
		if n.Kind != KindRun {
			continue
		}
		for path, copyID := range copies {
			if copyID >= n.ID {
				continue
			}
			if containsPath(n.Text, path) && !hasDep(n.Deps, copyID) {
				n.Deps = append(n.Deps, copyID)
			}
		}
	}
}

func hasDep(deps []int, id int) bool {
	for _, d := range deps {
		if d == id {
			return true
		}
	}
	return false
}
