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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memobuild/internal/digest"
)

// recordingWorker is a fake Executor that records which requests it served.
type recordingWorker struct {
	id string

	mu   sync.Mutex
	seen []string
}

func (w *recordingWorker) Execute(_ context.Context, req ActionRequest) (ActionResult, error) {
	w.mu.Lock()
	w.seen = append(w.seen, req.ID)
	w.mu.Unlock()
	return ActionResult{ExitCode: 0}, nil
}

func newWorkers(n int) []Executor {
	workers := make([]Executor, n)
	for i := range workers {
		workers[i] = &recordingWorker{}
	}
	return workers
}

func TestScheduler_EmptyWorkerSet(t *testing.T) {
	s := NewScheduler(nil, RoundRobin)
	_, err := s.Execute(context.Background(), ActionRequest{})
	assert.ErrorIs(t, err, ErrNoAvailableWorkers)
}

func TestScheduler_RoundRobinCyclesWorkers(t *testing.T) {
	workers := newWorkers(3)
	s := NewScheduler(workers, RoundRobin)
	var got []int
	for i := 0; i < 6; i++ {
		idx, err := s.selectWorker(ActionRequest{})
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, got)
}

func TestScheduler_LeastLoadedDegradesToRoundRobin(t *testing.T) {
	workers := newWorkers(2)
	s := NewScheduler(workers, LeastLoaded)
	idx1, err := s.selectWorker(ActionRequest{})
	require.NoError(t, err)
	idx2, err := s.selectWorker(ActionRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, idx1, idx2, "LeastLoaded's documented fallback is RoundRobin, which must alternate")
}

func TestScheduler_DataLocalityRoutingIsStable(t *testing.T) {
	// Spec §8 S4: three workers; dispatch hashes [A,B,C,A,B]; 1&4 and 2&5
	// must land on the same worker.
	workers := newWorkers(3)
	s := NewScheduler(workers, DataLocality)

	hashes := []string{"A", "B", "C", "A", "B"}
	indices := make([]int, len(hashes))
	for i, h := range hashes {
		idx, err := s.selectWorker(ActionRequest{InputRootDigest: digest.Digest{Hash: h}})
		require.NoError(t, err)
		indices[i] = idx
	}
	assert.Equal(t, indices[0], indices[3], "requests sharing input digest A must land on the same worker")
	assert.Equal(t, indices[1], indices[4], "requests sharing input digest B must land on the same worker")
}

func TestScheduler_DataLocality_UniformAcrossHashes(t *testing.T) {
	workers := newWorkers(8)
	s := NewScheduler(workers, DataLocality)
	seen := make(map[int]bool)
	for _, h := range []string{"x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9", "x10"} {
		idx, err := s.selectWorker(ActionRequest{InputRootDigest: digest.Digest{Hash: h}})
		require.NoError(t, err)
		seen[idx] = true
	}
	assert.Greater(t, len(seen), 1, "consistent hashing across varied inputs should spread across more than one worker")
}

func TestScheduler_Execute_ForwardsToSelectedWorker(t *testing.T) {
	workers := newWorkers(2)
	s := NewScheduler(workers, RoundRobin)
	res, err := s.Execute(context.Background(), ActionRequest{ID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}
