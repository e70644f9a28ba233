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

// Package remoteexec implements spec component I: the remote executor
// contract, the scheduler's worker-selection strategies, and the worker
// that actually runs actions via a Sandbox. Grounded on
// original_source/src/remote_exec/{scheduler,worker,mod,server,worker_server,client}.rs.
package remoteexec

import (
	"context"
	"time"

	"github.com/kraklabs/memobuild/internal/digest"
)

// ActionRequest is spec §3's ActionRequest.
type ActionRequest struct {
	ID                string            `json:"id"`
	Argv              []string          `json:"argv"`
	Env               map[string]string `json:"env"`
	InputRootDigest   digest.Digest     `json:"input_root_digest"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	Platform          map[string]string `json:"platform,omitempty"`
	OutputFiles       []string          `json:"output_files,omitempty"`
	OutputDirectories []string          `json:"output_directories,omitempty"`
}

// ExecutionMetadata is spec §3's execution metadata on an ActionResult.
type ExecutionMetadata struct {
	WorkerID        string    `json:"worker_id"`
	QueuedAt        time.Time `json:"queued_at"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// ActionResult is spec §3's ActionResult.
type ActionResult struct {
	ExitCode int                      `json:"exit_code"`
	Stdout   []byte                   `json:"stdout"`
	Stderr   []byte                   `json:"stderr"`
	Outputs  map[string]digest.Digest `json:"outputs"`
	Metadata ExecutionMetadata        `json:"metadata"`
}

// Executor is the RemoteExecutor capability: execute(ActionRequest) →
// ActionResult (spec §4.I). Scheduler, Worker, and the HTTP Client are all
// interchangeable implementations — a capability-set abstraction with no
// inheritance, per spec §9's design note.
type Executor interface {
	Execute(ctx context.Context, req ActionRequest) (ActionResult, error)
}
