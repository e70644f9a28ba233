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
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/kraklabs/memobuild/internal/metrics"
)

// Strategy is the Scheduler's worker-selection policy (spec §4.I).
type Strategy string

const (
	RoundRobin  Strategy = "RoundRobin"
	Random      Strategy = "Random"
	LeastLoaded Strategy = "LeastLoaded"
	DataLocality Strategy = "DataLocality"
)

// ErrNoAvailableWorkers is returned when the worker set is empty.
var ErrNoAvailableWorkers = errors.New("remoteexec: no available workers")

// Scheduler holds a fixed vector of worker endpoints and forwards
// ActionRequests to one of them per Strategy.
type Scheduler struct {
	workers  []Executor
	strategy Strategy
	counter  uint64 // RoundRobin: serialized via atomic
}

// NewScheduler builds a Scheduler over workers using strategy.
func NewScheduler(workers []Executor, strategy Strategy) *Scheduler {
	return &Scheduler{workers: workers, strategy: strategy}
}

// Execute selects a worker per s.strategy and forwards req to it.
func (s *Scheduler) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	idx, err := s.selectWorker(req)
	if err != nil {
		metrics.SchedulerDispatch.WithLabelValues(string(s.strategy), "no_workers").Inc()
		return ActionResult{}, err
	}
	res, err := s.workers[idx].Execute(ctx, req)
	if err != nil {
		metrics.SchedulerDispatch.WithLabelValues(string(s.strategy), "error").Inc()
		return ActionResult{}, err
	}
	metrics.SchedulerDispatch.WithLabelValues(string(s.strategy), "ok").Inc()
	return res, nil
}

func (s *Scheduler) selectWorker(req ActionRequest) (int, error) {
	if len(s.workers) == 0 {
		return 0, ErrNoAvailableWorkers
	}
	switch s.strategy {
	case Random:
		return rand.Intn(len(s.workers)), nil
	case DataLocality:
		return s.dataLocalityIndex(req.InputRootDigest.Hash), nil
	case LeastLoaded:
		// No load-tracking mechanism exists in the source this was ported
		// from (original_source/src/remote_exec/scheduler.rs); this
		// deliberately degrades to RoundRobin, per spec §9 open question 1.
		fallthrough
	case RoundRobin:
		fallthrough
	default:
		n := atomic.AddUint64(&s.counter, 1)
		return int((n - 1) % uint64(len(s.workers))), nil
	}
}

// dataLocalityIndex consistent-hashes hash onto a worker index. Two
// requests with the same input digest MUST select the same worker while
// the worker set is unchanged (spec §4.I, S4).
func (s *Scheduler) dataLocalityIndex(hash string) int {
	sum := sha256.Sum256([]byte(hash))
	v := binary.BigEndian.Uint64(sum[:8])
	return int(v % uint64(len(s.workers)))
}

// String renders the scheduler's configuration for logging.
func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler{strategy=%s, workers=%d}", s.strategy, len(s.workers))
}
