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
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memobuild/internal/cache"
	"github.com/kraklabs/memobuild/internal/config"
)

// runGC triggers local cache garbage collection (spec §4.E: evict entries
// unused for longer than maxAge together with their blobs, then sweep blob
// files no surviving entry refers to).
func runGC(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	maxAge := fs.Duration("max-age", 30*24*time.Hour, "evict blobs not used within this duration")
	fs.Parse(args)

	fc, _ := config.LoadFile("memobuild.yaml")
	cfg := config.Resolve(fc)

	store, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("gc: open local cache: %w", err)
	}

	removed, err := store.GC(*maxAge)
	if err != nil {
		return fmt.Errorf("gc: %w", err)
	}
	fmt.Printf("removed %d stale entries from %s\n", removed, cfg.CacheDir)
	return nil
}
