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
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/config"
	"github.com/kraklabs/memobuild/internal/metrics"
	"github.com/kraklabs/memobuild/internal/router"
)

// runRouter starts a multi-region cache router server (spec §4.J): it
// fronts N remote cache regions, routing reads per a Strategy and fanning
// writes out to every healthy region.
func runRouter(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("router", flag.ExitOnError)
	port := fs.StringP("port", "p", "8090", "port to listen on")
	regions := fs.String("regions", "", "comma-separated name=url region list")
	strategy := fs.String("strategy", "RoundRobin", "read strategy: LowestLatency, GeoHash, RoundRobin, Sticky")
	healthInterval := fs.Duration("health-interval", 0, "background health-probe interval (defaults to MEMOBUILD_HEALTH_INTERVAL)")
	fs.Parse(args)

	fc, _ := config.LoadFile("memobuild.yaml")
	cfg := config.Resolve(fc)

	pairs := splitNonEmpty(*regions)
	if len(pairs) == 0 {
		return fmt.Errorf("router: no regions given (--regions name=url,...)")
	}

	interval := *healthInterval
	if interval == 0 {
		interval, _ = time.ParseDuration(cfg.HealthInterval)
	}

	regionList := make([]*router.Region, 0, len(pairs))
	for i, pair := range pairs {
		name, url, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("router: invalid region %q, want name=url", pair)
		}
		regionList = append(regionList, &router.Region{
			Name:     name,
			Endpoint: url,
			Priority: len(pairs) - i,
			Weight:   1,
			Client:   cache.NewHTTPRemoteCache(url),
		})
	}

	r := router.NewCacheRouter(regionList, router.Strategy(*strategy), interval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartHealthService(ctx)
	defer r.StopHealthService()

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           routerMux(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runWithGracefulShutdown(srv, "router", *regions)
}

// routerMux exposes a CacheRouter over the gzip-compressed GET and PUT
// routes of cache.Server's wire protocol (/cache/{hash} and
// /cache/layer/{hash}), plus /health and /metrics, backed by the router's
// fanout instead of a single LocalCache. HEAD requests get 405, and the
// /cache/node/{key}/layers routes and cache.Server's other routes are not
// served.
func routerMux(r *router.CacheRouter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/cache/", func(w http.ResponseWriter, req *http.Request) {
		isLayer := strings.HasPrefix(req.URL.Path, "/cache/layer/")
		var hash string
		if isLayer {
			hash = strings.TrimPrefix(req.URL.Path, "/cache/layer/")
		} else {
			hash = strings.TrimPrefix(req.URL.Path, "/cache/")
		}
		if hash == "" || strings.Contains(hash, "/") {
			http.NotFound(w, req)
			return
		}

		switch req.Method {
		case http.MethodGet:
			var (
				data []byte
				ok   bool
				err  error
			)
			if isLayer {
				data, ok, err = r.GetLayer(req.Context(), hash)
			} else {
				data, ok, err = r.Get(req.Context(), hash)
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			if !ok {
				http.NotFound(w, req)
				return
			}
			compressed, err := routerGzip(data)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Write(compressed)
		case http.MethodPut:
			compressed, err := io.ReadAll(req.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, err := routerGunzip(compressed)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var putErr error
			if isLayer {
				putErr = r.PutLayer(req.Context(), hash, data)
			} else {
				putErr = r.Put(req.Context(), hash, data)
			}
			if putErr != nil {
				http.Error(w, putErr.Error(), http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusCreated)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func routerGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func routerGunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
