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

package remoteexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/sandbox"
)

// Worker executes ActionRequests via a local Sandbox, uploading declared
// outputs to its cache under their (re-hashed) digest. Workers never trust
// input digests — they re-hash any content they ingest (spec §4.I).
type Worker struct {
	ID      string
	Sandbox sandbox.Sandbox
	Cache   *cache.Cache
}

// NewWorker constructs a Worker with a generated id.
func NewWorker(sb sandbox.Sandbox, c *cache.Cache) *Worker {
	return &Worker{ID: uuid.NewString(), Sandbox: sb, Cache: c}
}

// Execute synthesizes a transient Node (kind=Run, content=argv with each
// argument single-quoted for the shell, joined by spaces) and delegates to
// the local sandbox, then collects and uploads declared outputs (spec §4.I).
func (w *Worker) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	queuedAt := time.Now()
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	quoted := make([]string, len(req.Argv))
	for i, arg := range req.Argv {
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	n := graph.Node{
		Kind: graph.KindRun,
		Text: strings.Join(quoted, " "),
		Env:  req.Env,
		Key:  req.InputRootDigest.Hash,
	}

	startedAt := time.Now()
	ws, err := w.Sandbox.Prepare(ctx, n)
	if err != nil {
		return ActionResult{}, fmt.Errorf("remoteexec: worker prepare: %w", err)
	}
	defer w.Sandbox.Cleanup(ctx, ws)

	execRes, err := w.Sandbox.Execute(ctx, ws, n)
	completedAt := time.Now()
	if err != nil {
		return ActionResult{}, fmt.Errorf("remoteexec: worker execute: %w", err)
	}

	outputs := make(map[string]digest.Digest)
	for _, rel := range req.OutputFiles {
		path := filepath.Join(ws.Dir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			// Outputs not produced are simply absent from the result map.
			continue
		}
		d := digest.Of(data)
		if w.Cache != nil {
			if err := w.Cache.PutArtifact(ctx, d.Hash, data); err != nil {
				return ActionResult{}, fmt.Errorf("remoteexec: worker upload output %s: %w", rel, err)
			}
		}
		outputs[rel] = d
	}

	return ActionResult{
		ExitCode: execRes.ExitCode,
		Stdout:   execRes.Stdout,
		Stderr:   execRes.Stderr,
		Outputs:  outputs,
		Metadata: ExecutionMetadata{
			WorkerID:    w.ID,
			QueuedAt:    queuedAt,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
		},
	}, nil
}
