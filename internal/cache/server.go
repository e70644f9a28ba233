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

package cache

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/metrics"
	"github.com/kraklabs/memobuild/internal/observer"
)

// Server is the HTTP implementation of spec §6's remote cache wire
// protocol, backed by a LocalCache as its blob store. Analytics/DAG/
// build-event reporting is kept in-memory (the spec names a server-side
// metadata.db as an external, out-of-scope collaborator — see DESIGN.md).
type Server struct {
	store *LocalCache

	mu         sync.Mutex
	analytics  []AnalyticsRecord
	lastDAG    *graph.BuildGraph
	buildEvents []observer.Event
}

// AnalyticsRecord is one POST /analytics payload.
type AnalyticsRecord struct {
	Dirty      int   `json:"dirty"`
	Cached     int   `json:"cached"`
	DurationMs int64 `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// NewServer builds a cache Server backed by store.
func NewServer(store *LocalCache) *Server {
	return &Server{store: store}
}

// Mux returns the server's http.ServeMux.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/cache/layer/", s.handleBlob)
	mux.HandleFunc("/cache/node/", s.handleNodeLayers)
	mux.HandleFunc("/cache/", s.handleBlob)
	mux.HandleFunc("/analytics", s.handleAnalytics)
	mux.HandleFunc("/build-event", s.handleBuildEvent)
	mux.HandleFunc("/dag", s.handleDAG)
	mux.HandleFunc("/gc", s.handleGC)
	return mux
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	isLayer := strings.HasPrefix(r.URL.Path, "/cache/layer/")
	var hash string
	if isLayer {
		hash = strings.TrimPrefix(r.URL.Path, "/cache/layer/")
	} else {
		hash = strings.TrimPrefix(r.URL.Path, "/cache/")
	}
	if hash == "" || strings.Contains(hash, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodHead:
		if s.store.Has(hash) {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodGet:
		data, ok, err := s.store.Get(hash)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		compressed, err := gzipBytes(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(compressed)
	case http.MethodPut:
		compressed, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := gunzipBytes(compressed)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.store.Put(hash, data); err != nil {
			// CAS integrity failure per spec §4.E/§6: 400, never retried.
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleNodeLayers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/cache/node/")
	key, ok := strings.CutSuffix(rest, "/layers")
	if !ok || key == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		layers, ok := s.store.NodeLayers(key)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(layers)
	case http.MethodPost:
		var payload struct {
			Layers    []string `json:"layers"`
			TotalSize int64    `json:"total_size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.store.RegisterNodeLayers(key, payload.Layers, payload.TotalSize); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rec AnalyticsRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.At = time.Now()
	s.mu.Lock()
	s.analytics = append(s.analytics, rec)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBuildEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev observer.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.buildEvents = append(s.buildEvents, ev)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDAG(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var g graph.BuildGraph
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.lastDAG = &g
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.mu.Lock()
		dag := s.lastDAG
		s.mu.Unlock()
		if dag == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dag)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			days = n
		}
	}
	removed, err := s.store.GC(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("gc complete", "removed", removed, "days", days)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}
