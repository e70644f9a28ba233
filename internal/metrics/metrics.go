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

// Package metrics implements spec component N: Prometheus instrumentation
// for cache hit-rate, node duration, and scheduler dispatch outcomes,
// exposed on /metrics by every long-running MemoBuild process. Grounded on
// cmd/cie/index.go's promhttp wiring in the teacher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memobuild_cache_hits_total",
		Help: "Number of nodes resolved from cache without execution.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memobuild_cache_misses_total",
		Help: "Number of nodes that required execution.",
	})
	NodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memobuild_node_duration_seconds",
		Help:    "Wall-clock duration of node execution.",
		Buckets: prometheus.DefBuckets,
	})
	SchedulerDispatch = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memobuild_scheduler_dispatch_total",
		Help: "Scheduler dispatch outcomes by strategy and result.",
	}, []string{"strategy", "outcome"})
	RemoteCacheRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memobuild_remote_cache_retries_total",
		Help: "Number of retried remote cache HTTP operations.",
	})
)

// Handler returns the promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
