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
	"context"
	"log/slog"
	"sync"

	"github.com/kraklabs/memobuild/internal/cas"
)

// Cache is the two-tier facade from spec §4.F: a local store backed by an
// optional remote store, exposing both whole-artifact and layered
// primitives.
type Cache struct {
	Local  *LocalCache
	Remote RemoteCache // nil when no remote is configured
}

// New builds a two-tier Cache. remote may be nil.
func New(local *LocalCache, remote RemoteCache) *Cache {
	return &Cache{Local: local, Remote: remote}
}

// Has reports presence in either tier.
func (c *Cache) Has(ctx context.Context, key string) bool {
	if c.Local.Has(key) {
		return true
	}
	if c.Remote == nil {
		return false
	}
	ok, err := c.Remote.Has(ctx, key)
	return err == nil && ok
}

// GetArtifact implements spec §4.F's Get algorithm: try local; on miss, if a
// remote is configured, ask for the node's layer list and reconstruct, or
// fall back to a single-blob remote get.
func (c *Cache) GetArtifact(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok, err := c.Local.Get(key); err != nil {
		return nil, false, err
	} else if ok {
		return data, true, nil
	}
	if c.Remote == nil {
		return nil, false, nil
	}

	if layers, ok, err := c.Remote.GetNodeLayers(ctx, key); err == nil && ok {
		chunks := make([][]byte, 0, len(layers))
		for _, hash := range layers {
			data, ok, err := c.GetLayer(ctx, hash)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				// Cache coherency error per spec §4.F/§7: falls back to a
				// miss so the caller re-executes the node.
				slog.Warn("layer missing mid-reconstruction, falling back to miss", "key", key, "layer", hash)
				return nil, false, nil
			}
			chunks = append(chunks, data)
		}
		merged := cas.Merge(chunks)
		if err := c.Local.Put(key, merged); err != nil {
			slog.Warn("failed to populate local cache after remote reconstruction", "key", key, "err", err)
		}
		return merged, true, nil
	}

	data, ok, err := c.Remote.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.Local.Put(key, data); err != nil {
		slog.Warn("failed to populate local cache after remote get", "key", key, "err", err)
	}
	return data, true, nil
}

// PutArtifact implements spec §4.F's Put algorithm: write locally; if a
// remote is configured, split into layers, upload only missing ones
// (dedup via has-layer probe), then register the ordered layer list.
func (c *Cache) PutArtifact(ctx context.Context, key string, data []byte) error {
	if err := c.Local.Put(key, data); err != nil {
		return err
	}
	if c.Remote == nil {
		return nil
	}

	layers := cas.Split(data)
	hashes := make([]string, 0, len(layers))
	for _, l := range layers {
		hashes = append(hashes, l.Hash)
		has, err := c.Remote.HasLayer(ctx, l.Hash)
		if err != nil {
			slog.Warn("cache put: remote has-layer probe failed", "layer", l.Hash, "err", err)
			continue
		}
		if has {
			continue
		}
		if err := c.Remote.PutLayer(ctx, l.Hash, l.Data); err != nil {
			// Cache put failures are swallowed with a logged warning
			// (spec §7): they degrade performance, never correctness.
			slog.Warn("cache put: remote layer upload failed", "layer", l.Hash, "err", err)
		}
	}
	if err := c.Remote.RegisterNodeLayers(ctx, key, hashes, int64(len(data))); err != nil {
		slog.Warn("cache put: register node layers failed", "key", key, "err", err)
	}
	return nil
}

// GetLayer fetches a single chunk, trying local first.
func (c *Cache) GetLayer(ctx context.Context, hash string) ([]byte, bool, error) {
	if data, ok, err := c.Local.Get(hash); err != nil {
		return nil, false, err
	} else if ok {
		return data, true, nil
	}
	if c.Remote == nil {
		return nil, false, nil
	}
	data, ok, err := c.Remote.GetLayer(ctx, hash)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.Local.Put(hash, data); err != nil {
		slog.Warn("failed to cache layer locally", "layer", hash, "err", err)
	}
	return data, true, nil
}

// Prefetch populates the local store from remote for each key not already
// held locally, one goroutine per key, and returns only once every fetch
// has finished; the fetches do not continue after Prefetch returns.
// Idempotent; failures are logged and never fatal (spec §4.F).
func (c *Cache) Prefetch(ctx context.Context, keys []string) {
	if c.Remote == nil {
		return
	}
	var wg sync.WaitGroup
	for _, key := range keys {
		key := key
		if c.Local.Has(key) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetArtifact(ctx, key); err != nil {
				slog.Warn("prefetch failed", "key", key, "err", err)
			}
		}()
	}
	wg.Wait()
}
