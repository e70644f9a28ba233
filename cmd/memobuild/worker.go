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
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/config"
	"github.com/kraklabs/memobuild/internal/remoteexec"
	"github.com/kraklabs/memobuild/internal/sandbox"
)

// runWorker starts a remote-execution worker server (spec §4.I): it
// accepts ActionRequests, runs them in a Sandbox, rehashes outputs, and
// uploads them to its cache before replying.
func runWorker(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	port := fs.StringP("port", "p", "8081", "port to listen on")
	workDir := fs.String("workdir", "", "scratch directory for action workspaces (defaults to the OS temp dir)")
	fs.Parse(args)

	fc, _ := config.LoadFile("memobuild.yaml")
	cfg := config.Resolve(fc)

	local, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("worker: open local cache: %w", err)
	}
	var remote cache.RemoteCache
	if cfg.RemoteURL != "" {
		remote = cache.NewHTTPRemoteCache(cfg.RemoteURL)
	}

	dir := *workDir
	if dir == "" {
		dir = os.TempDir()
	}
	w := remoteexec.NewWorker(sandbox.NewLocal(dir), cache.New(local, remote))

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           remoteexec.NewServeMux(w),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runWithGracefulShutdown(srv, "worker", dir)
}

// runScheduler starts a remote-execution scheduler server (spec §4.I),
// fronting a fixed pool of worker addresses with a selectable dispatch
// Strategy.
func runScheduler(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("scheduler", flag.ExitOnError)
	port := fs.StringP("port", "p", "8082", "port to listen on")
	workers := fs.String("workers", "", "comma-separated worker base URLs")
	strategy := fs.String("strategy", "RoundRobin", "dispatch strategy: RoundRobin, Random, LeastLoaded, DataLocality")
	fs.Parse(args)

	fc, _ := config.LoadFile("memobuild.yaml")
	cfg := config.Resolve(fc)

	addrs := splitNonEmpty(*workers)
	if len(addrs) == 0 {
		addrs = cfg.Workers
	}
	if len(addrs) == 0 {
		return fmt.Errorf("scheduler: no worker addresses given (--workers or MEMOBUILD_WORKERS)")
	}

	executors := make([]remoteexec.Executor, len(addrs))
	for i, addr := range addrs {
		executors[i] = remoteexec.NewClient(addr)
	}

	strat := remoteexec.Strategy(*strategy)
	if *strategy == "" {
		strat = remoteexec.Strategy(cfg.Strategy)
	}
	sched := remoteexec.NewScheduler(executors, strat)

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           remoteexec.NewServeMux(sched),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runWithGracefulShutdown(srv, "scheduler", strings.Join(addrs, ","))
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
