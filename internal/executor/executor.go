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

// Package executor implements spec component G: evaluating the DAG level
// by level with intra-level parallelism, cache-first semantics, and
// observer events. The parallel-evaluation pattern (buffered job channel +
// WaitGroup + atomic counters) is grounded on
// pkg/ingestion/local_pipeline.go's parseFilesParallel in the teacher.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/metrics"
	"github.com/kraklabs/memobuild/internal/observer"
	"github.com/kraklabs/memobuild/internal/remoteexec"
	"github.com/kraklabs/memobuild/internal/sandbox"
)

// Stats is spec §4.G's ExecutionStats.
type Stats struct {
	Total           int
	Executed        int
	CacheHits       int
	CacheMisses     int
	ParallelLevels  int
	TotalDurationMs int64
}

// Options configures a single Execute call.
type Options struct {
	Reproducible   bool
	DryRun         bool
	Sandbox        sandbox.Sandbox
	RemoteExecutor remoteexec.Executor // optional
	Observer       observer.Sink       // optional; defaults to observer.Discard
	Cache          *cache.Cache
	// MaxWorkers bounds intra-level goroutine fan-out; 0 selects a sane
	// default sized to the parallel node count, matching local_pipeline.go's
	// fallback-to-sequential-below-threshold behavior.
	MaxWorkers int
}

// Execute implements spec §4.G's algorithm: iterate levels, partition each
// into parallel/sequential nodes, evaluate parallel nodes concurrently and
// sequential nodes strictly in order, enforcing that every node in level k
// completes before level k+1 starts.
func Execute(ctx context.Context, g *graph.BuildGraph, opts Options) (Stats, error) {
	sink := opts.Observer
	if sink == nil {
		sink = observer.Discard
	}

	levels, err := g.Levels()
	if err != nil {
		return Stats{}, fmt.Errorf("executor: %w", err)
	}

	stats := Stats{Total: len(g.Nodes), ParallelLevels: len(levels)}
	start := time.Now()
	sink.Emit(observer.Event{Type: observer.BuildStarted, TotalNodes: stats.Total})

	var cacheHits, cacheMisses int64

	for _, level := range levels {
		var parallel, sequential []int
		for _, id := range level {
			if g.Nodes[id].Metadata.Parallelizable {
				parallel = append(parallel, id)
			} else {
				sequential = append(sequential, id)
			}
		}

		if err := evaluateParallel(ctx, g, parallel, opts, sink, &cacheHits, &cacheMisses); err != nil {
			return stats, err
		}
		for _, id := range sequential {
			if err := evaluate(ctx, g, id, opts, sink, &cacheHits, &cacheMisses); err != nil {
				return stats, err
			}
		}
	}

	stats.CacheHits = int(cacheHits)
	stats.CacheMisses = int(cacheMisses)
	stats.Executed = stats.CacheMisses
	stats.TotalDurationMs = time.Since(start).Milliseconds()

	sink.Emit(observer.Event{
		Type:            observer.BuildCompleted,
		TotalDurationMs: int(stats.TotalDurationMs),
		CacheHits:       stats.CacheHits,
		ExecutedNodes:   stats.Executed,
	})
	return stats, nil
}

// evaluateParallel runs ids concurrently, joining before returning —
// the worker-pool shape of pkg/ingestion/local_pipeline.go's
// parseFilesParallel: a buffered jobs channel, a fixed worker count, a
// WaitGroup, and a closer goroutine, falling back to sequential below a
// small threshold.
func evaluateParallel(ctx context.Context, g *graph.BuildGraph, ids []int, opts Options, sink observer.Sink, hits, misses *int64) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) < 2 {
		for _, id := range ids {
			if err := evaluate(ctx, g, id, opts, sink, hits, misses); err != nil {
				return err
			}
		}
		return nil
	}

	workers := opts.MaxWorkers
	if workers <= 0 || workers > len(ids) {
		workers = len(ids)
	}

	jobs := make(chan int, len(ids))
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)

	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := evaluate(ctx, g, id, opts, sink, hits, misses); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	<-done
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// evaluate implements spec §4.G's per-node algorithm.
func evaluate(ctx context.Context, g *graph.BuildGraph, id int, opts Options, sink observer.Sink, hits, misses *int64) error {
	n := g.Get(id)
	sink.Emit(observer.Event{Type: observer.NodeStarted, NodeID: n.ID, Name: n.Name()})
	started := time.Now()

	if opts.Cache != nil {
		if data, ok, err := opts.Cache.GetArtifact(ctx, n.Key); err == nil && ok {
			_ = data
			n.CacheHit = true
			atomic.AddInt64(hits, 1)
			metrics.CacheHits.Inc()
			sink.Emit(observer.Event{Type: observer.NodeCompleted, NodeID: n.ID, Name: n.Name(), CacheHit: true, DurationMs: time.Since(started).Milliseconds()})
			return nil
		}
	}

	atomic.AddInt64(misses, 1)
	metrics.CacheMisses.Inc()

	if opts.DryRun {
		sink.Emit(observer.Event{Type: observer.NodeCompleted, NodeID: n.ID, Name: n.Name(), CacheHit: false, DurationMs: time.Since(started).Milliseconds()})
		return nil
	}

	artifact, err := run(ctx, n, opts)
	if err != nil {
		sink.Emit(observer.Event{Type: observer.NodeFailed, NodeID: n.ID, Name: n.Name(), Error: err.Error()})
		return fmt.Errorf("executor: node %d (%s): %w", n.ID, n.Name(), err)
	}

	if opts.Reproducible {
		artifact = normalizeArtifact(artifact)
	}

	if opts.Cache != nil {
		if err := opts.Cache.PutArtifact(ctx, n.Key, artifact); err != nil {
			slog.Warn("cache put failed", "key", n.Key, "err", err)
		}
	}

	duration := time.Since(started)
	n.Metadata.LastDurationMs = duration.Milliseconds()
	n.Metadata.LastExecutedUnix = time.Now().Unix()
	metrics.NodeDuration.Observe(duration.Seconds())

	sink.Emit(observer.Event{Type: observer.NodeCompleted, NodeID: n.ID, Name: n.Name(), CacheHit: false, DurationMs: duration.Milliseconds()})
	return nil
}

// run chooses between the remote executor and the local sandbox, per spec
// §4.G step 4.
func run(ctx context.Context, n *graph.Node, opts Options) ([]byte, error) {
	if opts.RemoteExecutor != nil && n.Kind.Runnable() {
		inputDigest := digest.Digest{Hash: n.Metadata.InputManifestHash, Size: 0}
		if inputDigest.Hash == "" {
			inputDigest = digest.Digest{Hash: n.Key, Size: 0}
		}
		req := remoteexec.ActionRequest{
			ID:              n.Name(),
			Argv:            []string{"/bin/sh", "-c", n.Text},
			Env:             n.Env,
			InputRootDigest: inputDigest,
			TimeoutSeconds:  0,
		}
		res, err := opts.RemoteExecutor.Execute(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("remote dispatch: %w", err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("remote execution failed (exit %d): %s", res.ExitCode, string(res.Stderr))
		}
		return res.Stdout, nil
	}

	if opts.Sandbox == nil {
		return nil, fmt.Errorf("no sandbox configured")
	}
	ws, err := opts.Sandbox.Prepare(ctx, *n)
	if err != nil {
		return nil, fmt.Errorf("sandbox prepare: %w", err)
	}
	defer opts.Sandbox.Cleanup(ctx, ws)

	res, err := opts.Sandbox.Execute(ctx, ws, *n)
	if err != nil {
		return nil, fmt.Errorf("sandbox execute: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("sandbox execution failed (exit %d): %s", res.ExitCode, string(res.Stderr))
	}
	return res.Stdout, nil
}
