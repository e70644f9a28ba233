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
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/config"
)

// runCacheServe starts a standalone remote cache HTTP server (spec §6),
// grounded on cmd/cie/serve.go's flag/signal/http.Server wiring in the
// teacher.
func runCacheServe(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	port := fs.StringP("port", "p", "8080", "port to listen on")
	cacheDir := fs.String("cache-dir", "", "local cache directory (defaults to MEMOBUILD_CACHE_DIR)")
	fs.Parse(args)

	fc, _ := config.LoadFile("memobuild.yaml")
	cfg := config.Resolve(fc)
	dir := *cacheDir
	if dir == "" {
		dir = cfg.CacheDir
	}

	store, err := cache.Open(dir)
	if err != nil {
		return fmt.Errorf("cache serve: open store: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           cache.NewServer(store).Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runWithGracefulShutdown(srv, "cache", dir)
}

// runWithGracefulShutdown starts srv and blocks until SIGINT/SIGTERM,
// shutting it down within a bounded grace period.
func runWithGracefulShutdown(srv *http.Server, label, detail string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info(label+" server starting", "addr", srv.Addr, "detail", detail)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info(label + " server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
