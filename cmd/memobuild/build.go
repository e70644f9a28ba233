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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/change"
	"github.com/kraklabs/memobuild/internal/config"
	"github.com/kraklabs/memobuild/internal/envfp"
	"github.com/kraklabs/memobuild/internal/executor"
	"github.com/kraklabs/memobuild/internal/gitref"
	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/observer"
	"github.com/kraklabs/memobuild/internal/parser"
	"github.com/kraklabs/memobuild/internal/remoteexec"
	"github.com/kraklabs/memobuild/internal/sandbox"
	"github.com/kraklabs/memobuild/internal/uiout"
)

func runBuild(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	scriptPath := fs.StringP("file", "f", "Memobuild", "path to the instruction script")
	projectRoot := fs.StringP("root", "C", ".", "project root for resolving Copy sources")
	reproducible := fs.Bool("reproducible", false, "normalize archive metadata in captured output")
	dryRun := fs.Bool("dry-run", false, "skip execution, only report cache hits/misses")
	fs.Parse(args)

	fc, _ := config.LoadFile("memobuild.yaml")
	cfg := config.Resolve(fc)

	f, err := os.Open(*scriptPath)
	if err != nil {
		return fmt.Errorf("build: open script: %w", err)
	}
	defer f.Close()

	instructions, err := parser.Parse(f)
	if err != nil {
		return fmt.Errorf("build: parse script: %w", err)
	}
	g, err := parser.BuildGraph(instructions)
	if err != nil {
		return fmt.Errorf("build: construct graph: %w", err)
	}
	g.AddHeuristicDeps(func(text, path string) bool { return containsPath(text, path) })

	local, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("build: open local cache: %w", err)
	}
	var remote cache.RemoteCache
	if cfg.RemoteURL != "" {
		remote = cache.NewHTTPRemoteCache(cfg.RemoteURL)
	}
	twoTier := cache.New(local, remote)

	fp := envfp.Capture(os.LookupEnv)
	ctx := context.Background()

	if _, err := change.Detect(ctx, g, change.Options{
		ProjectRoot: *projectRoot,
		PriorHashes: loadPriorHashes(cfg.CacheDir),
		Git:         gitref.NewResolver(),
		EnvFP:       fp.Digest(),
	}); err != nil {
		return fmt.Errorf("build: change detection: %w", err)
	}
	if err := savePriorHashes(cfg.CacheDir, g); err != nil {
		slog.Warn("failed to persist node hashes for the next build", "err", err)
	}

	var remoteExecutor remoteexec.Executor
	if cfg.RemoteExecURL != "" {
		remoteExecutor = remoteexec.NewClient(cfg.RemoteExecURL)
	}

	bar := progressbar.Default(int64(len(g.Nodes)), "building")
	sink := &progressSink{bar: bar, globals: globals}

	stats, err := executor.Execute(ctx, g, executor.Options{
		Reproducible:   *reproducible,
		DryRun:         *dryRun,
		Sandbox:        sandbox.NewLocal(os.TempDir()),
		RemoteExecutor: remoteExecutor,
		Observer:       sink,
		Cache:          twoTier,
	})
	if err != nil {
		return err
	}

	uiout.Summary(os.Stdout, stats.Total, stats.Executed, stats.CacheHits, stats.TotalDurationMs)
	if remote != nil {
		_ = remote.ReportAnalytics(ctx, len(g.Nodes)-stats.CacheHits, stats.CacheHits, stats.TotalDurationMs)
	}
	return nil
}

// nodeHashesFile is the sidecar recording each node's rehash-input from the
// last build, so the next invocation can tell which nodes actually changed
// instead of marking the whole graph dirty (spec §4.D phase 1).
func nodeHashesFile(cacheDir string) string {
	return filepath.Join(cacheDir, "node-hashes.json")
}

// loadPriorHashes reads the previous build's per-node rehash-input hashes.
// A missing or unreadable sidecar is not an error: every node is simply
// marked dirty, same as a first build.
func loadPriorHashes(cacheDir string) map[int]string {
	data, err := os.ReadFile(nodeHashesFile(cacheDir))
	if err != nil {
		return map[int]string{}
	}
	var prior map[int]string
	if err := json.Unmarshal(data, &prior); err != nil {
		slog.Warn("discarding unreadable node hash sidecar", "err", err)
		return map[int]string{}
	}
	return prior
}

// savePriorHashes records each node's fresh rehash-input (set on
// Metadata.SourceContentHash by change.Detect) so the next build can tell
// which nodes are actually dirty.
func savePriorHashes(cacheDir string, g *graph.BuildGraph) error {
	fresh := make(map[int]string, len(g.Nodes))
	for _, n := range g.Nodes {
		fresh[n.ID] = n.Metadata.SourceContentHash
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(nodeHashesFile(cacheDir), data, 0o644)
}

func containsPath(text, path string) bool {
	if path == "" {
		return false
	}
	return len(text) > 0 && len(path) > 0 && indexOf(text, path) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// progressSink adapts the progress bar to the observer.Sink interface,
// printing colored HIT/BUILD/FAIL lines alongside bar advancement.
type progressSink struct {
	bar     *progressbar.ProgressBar
	globals GlobalFlags
}

func (s *progressSink) Emit(ev observer.Event) {
	switch ev.Type {
	case observer.NodeCompleted:
		s.bar.Add(1)
		if ev.CacheHit {
			uiout.Hit(os.Stdout, ev.Name)
		} else {
			uiout.Build(os.Stdout, ev.Name, ev.DurationMs)
		}
	case observer.NodeFailed:
		uiout.Fail(os.Stdout, ev.Name, fmt.Errorf("%s", ev.Error))
	}
}
