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

// Package change implements spec component D: rehashing node inputs,
// cascading dirtiness, recomputing composite keys, and propagating
// input/output artifact manifests. Runs once per build, in the four
// phases spec §4.D describes.
package change

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/hasher"
	"github.com/kraklabs/memobuild/internal/ignore"
	"github.com/kraklabs/memobuild/internal/manifest"
)

// GitResolver resolves a remote ref's HEAD commit for Git nodes. Grounded
// on pkg/tools/git.go's GitRunner/GitExecutor pattern in the teacher.
type GitResolver interface {
	ResolveHead(ctx context.Context, url, target string) (string, error)
}

// Options configures a Detect run.
type Options struct {
	// ProjectRoot resolves Copy/CopyExtend source paths.
	ProjectRoot string
	// PriorHashes is the rehash input (Metadata.SourceContentHash) each node
	// had in the previous build, keyed by node id, used to detect whether a
	// fresh rehash changed anything.
	PriorHashes map[int]string
	Git         GitResolver
	EnvFP       digest.Digest
	ContextHash string
}

// Detect runs the full four-phase change-detection pipeline against
// g in place, and returns the manifest map callers should upload to the
// cache (digest → manifest, spec §4.D step 4).
func Detect(ctx context.Context, g *graph.BuildGraph, opts Options) (map[string]manifest.ArtifactManifest, error) {
	sourceManifests, err := rehash(ctx, g, opts)
	if err != nil {
		return nil, fmt.Errorf("change: rehash: %w", err)
	}
	cascadeDirty(g)
	if err := rekey(g, opts); err != nil {
		return nil, fmt.Errorf("change: rekey: %w", err)
	}
	return propagateManifests(g, sourceManifests)
}

// rehash implements spec §4.D phase 1: produce a fresh input hash per node
// and mark it dirty if it differs from the hash it carried into this run.
// It returns each Copy/CopyExtend node's own source-subtree manifest, keyed
// by node id, for propagateManifests to fold into that node's output
// manifest (spec §4.D step 4).
func rehash(ctx context.Context, g *graph.BuildGraph, opts Options) (map[int]manifest.ArtifactManifest, error) {
	sourceManifests := make(map[int]manifest.ArtifactManifest)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		var fresh string
		var inputManifest manifest.ArtifactManifest

		switch n.Kind {
		case graph.KindCopy, graph.KindCopyExtend:
			root := n.SourcePath
			if opts.ProjectRoot != "" && !filepath.IsAbs(root) {
				root = filepath.Join(opts.ProjectRoot, root)
			}
			rules := ignore.Load(opts.ProjectRoot)
			res, fellBack, err := hasher.HashOrFallback(root, rules, n.Text)
			if fellBack {
				slog.Warn("copy source unreadable, falling back to instruction hash", "node", n.ID, "path", root, "err", err)
			}
			fresh = res.Digest.Hash
			inputManifest = res.Manifest
			sourceManifests[n.ID] = res.Manifest
			n.Metadata.SourceContentHash = fresh

		case graph.KindGit:
			if opts.Git == nil {
				fresh = digest.OfString(n.Text).Hash
				break
			}
			// n.DestPath is the local checkout directory (GIT's target-dir=),
			// not a ref: resolve plain HEAD of the remote.
			head, err := opts.Git.ResolveHead(ctx, n.SourcePath, "")
			if err != nil {
				slog.Warn("git remote HEAD resolution failed, falling back to instruction hash", "node", n.ID, "err", err)
				fresh = digest.OfString(n.Text).Hash
			} else {
				fresh = head
			}
			n.Metadata.SourceContentHash = fresh

		default:
			fresh = digest.OfString(n.Text).Hash
			n.Metadata.SourceContentHash = fresh
		}

		prior, had := opts.PriorHashes[n.ID]
		n.Dirty = !had || prior != fresh
		if n.Metadata.InputManifestHash == "" {
			n.Metadata.InputManifestHash = inputManifest.Hash().Hash
		}
	}
	return sourceManifests, nil
}

// cascadeDirty implements spec §4.D phase 2: iterate to a fixed point —
// any node with a dirty dependency is itself dirty. Finite and monotone, so
// it terminates in at most |nodes| passes.
func cascadeDirty(g *graph.BuildGraph) {
	for pass := 0; pass < len(g.Nodes); pass++ {
		changed := false
		for i := range g.Nodes {
			n := &g.Nodes[i]
			if n.Dirty {
				continue
			}
			for _, dep := range n.Deps {
				if g.Nodes[dep].Dirty {
					n.Dirty = true
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

// rekey implements spec §4.D phase 3: in topological order, replace each
// node's key with compute_node_key over its sorted dependency keys.
func rekey(g *graph.BuildGraph, opts Options) error {
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}
	for _, id := range order {
		n := &g.Nodes[id]
		depKeys := make([]string, 0, len(n.Deps))
		for _, dep := range n.Deps {
			depKeys = append(depKeys, g.Nodes[dep].Key)
		}
		n.Key = graph.ComputeNodeKey(*n, depKeys, opts.ContextHash, opts.EnvFP)
	}
	return nil
}

// propagateManifests implements spec §4.D phase 4: in topological order,
// input manifest = union of parents' output manifests; output manifest =
// input manifest plus (for Copy nodes) the node's own source-subtree
// manifest. Returns the digest→manifest map for cache upload.
func propagateManifests(g *graph.BuildGraph, sourceManifests map[int]manifest.ArtifactManifest) (map[string]manifest.ArtifactManifest, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	byID := make(map[int]manifest.ArtifactManifest, len(g.Nodes))
	out := make(map[string]manifest.ArtifactManifest)

	for _, id := range order {
		n := &g.Nodes[id]
		input := manifest.Empty()
		for _, dep := range n.Deps {
			input = input.Merge(byID[dep])
		}
		n.Metadata.InputManifestHash = input.Hash().Hash
		out[n.Metadata.InputManifestHash] = input

		output := input
		if n.Kind == graph.KindCopy || n.Kind == graph.KindCopyExtend {
			if own, ok := sourceManifests[id]; ok {
				output = output.Merge(own)
			}
		}
		byID[id] = output
		n.Metadata.OutputManifestHash = output.Hash().Hash
		out[n.Metadata.OutputManifestHash] = output
	}
	return out, nil
}
