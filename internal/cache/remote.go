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
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/observer"
)

// RemoteCache is spec §4.F/§4.J's remote store contract. HTTPRemoteCache and
// the multi-region router (internal/router) both implement it.
type RemoteCache interface {
	Has(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, hash string) ([]byte, bool, error)
	Put(ctx context.Context, hash string, data []byte) error

	HasLayer(ctx context.Context, hash string) (bool, error)
	GetLayer(ctx context.Context, hash string) ([]byte, bool, error)
	PutLayer(ctx context.Context, hash string, data []byte) error

	GetNodeLayers(ctx context.Context, key string) ([]string, bool, error)
	RegisterNodeLayers(ctx context.Context, key string, layers []string, totalSize int64) error

	ReportBuildEvent(ctx context.Context, ev observer.Event) error
	ReportDAG(ctx context.Context, g *graph.BuildGraph) error
	ReportAnalytics(ctx context.Context, dirty, cached int, durationMs int64) error
}

// HTTPRemoteCache is the wire implementation of RemoteCache, grounded on
// original_source/src/remote_cache.rs's HttpRemoteCache: gzip-compressed
// bodies, retry with exponential backoff + jitter on transient failure.
// Retry tuning: up to 3 retries after the first attempt (retryablehttp's
// RetryMax counts retries), backoff starting at 100ms and doubling up to
// 5s, each wait scaled by a random factor in [0.8, 1.2) and capped at 5s.
type HTTPRemoteCache struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPRemoteCache constructs a client against baseURL.
func NewHTTPRemoteCache(baseURL string) *HTTPRemoteCache {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Backoff = func(lo, hi time.Duration, attempt int, resp *http.Response) time.Duration {
		wait := time.Duration(float64(retryablehttp.DefaultBackoff(lo, hi, attempt, resp)) * (0.8 + 0.4*rand.Float64()))
		if wait > hi {
			wait = hi
		}
		return wait
	}
	rc.Logger = nil
	rc.CheckRetry = retryOnTransient
	return &HTTPRemoteCache{baseURL: baseURL, client: rc}
}

// retryOnTransient never retries a 4xx (those indicate CAS integrity or
// client-request problems, not transient network failures — spec §7's "CAS
// integrity... never retried").
func retryOnTransient(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == 0 {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

func (h *HTTPRemoteCache) doJSON(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("cache: decode response: %w", err)
		}
	}
	return resp, nil
}

func gzipBytes(data []byte) ([]byte, error) {
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

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cache: gzip decode: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (h *HTTPRemoteCache) Has(ctx context.Context, hash string) (bool, error) {
	return h.headExists(ctx, "/cache/"+hash)
}

func (h *HTTPRemoteCache) headExists(ctx context.Context, path string) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, h.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode/100 == 2, nil
}

func (h *HTTPRemoteCache) Get(ctx context.Context, hash string) ([]byte, bool, error) {
	return h.getCompressed(ctx, "/cache/"+hash)
}

func (h *HTTPRemoteCache) getCompressed(ctx context.Context, path string) ([]byte, bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, false, fmt.Errorf("cache: remote error: %s", resp.Status)
	}
	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	data, err := gunzipBytes(compressed)
	if err != nil {
		// Decompression failure is a cache-coherency error (spec §4.F).
		return nil, false, fmt.Errorf("cache: coherency error decompressing %s: %w", path, err)
	}
	return data, true, nil
}

// Put uploads data, skipping the round-trip if the remote already has it
// (the "incremental layer update" optimization from
// original_source/src/remote_cache.rs's put()).
func (h *HTTPRemoteCache) Put(ctx context.Context, hash string, data []byte) error {
	has, err := h.Has(ctx, hash)
	if err == nil && has {
		slog.Debug("skip upload, remote already has artifact", "hash", hash)
		return nil
	}
	return h.putCompressed(ctx, "/cache/"+hash, data)
}

func (h *HTTPRemoteCache) putCompressed(ctx context.Context, path string, data []byte) error {
	compressed, err := gzipBytes(data)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, h.baseURL+path, bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cache: upload rejected (%s): %s", resp.Status, string(body))
	}
	return nil
}

func (h *HTTPRemoteCache) HasLayer(ctx context.Context, hash string) (bool, error) {
	return h.headExists(ctx, "/cache/layer/"+hash)
}

func (h *HTTPRemoteCache) GetLayer(ctx context.Context, hash string) ([]byte, bool, error) {
	return h.getCompressed(ctx, "/cache/layer/"+hash)
}

func (h *HTTPRemoteCache) PutLayer(ctx context.Context, hash string, data []byte) error {
	return h.putCompressed(ctx, "/cache/layer/"+hash, data)
}

func (h *HTTPRemoteCache) GetNodeLayers(ctx context.Context, key string) ([]string, bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/cache/node/"+key+"/layers", nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, false, fmt.Errorf("cache: get node layers failed: %s", resp.Status)
	}
	var layers []string
	if err := json.NewDecoder(resp.Body).Decode(&layers); err != nil {
		return nil, false, err
	}
	return layers, true, nil
}

func (h *HTTPRemoteCache) RegisterNodeLayers(ctx context.Context, key string, layers []string, totalSize int64) error {
	payload := map[string]any{"layers": layers, "total_size": totalSize}
	resp, err := h.doJSON(ctx, http.MethodPost, "/cache/node/"+key+"/layers", payload, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("cache: register node layers failed: %s", resp.Status)
	}
	return nil
}

func (h *HTTPRemoteCache) ReportBuildEvent(ctx context.Context, ev observer.Event) error {
	resp, err := h.doJSON(ctx, http.MethodPost, "/build-event", ev, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		slog.Warn("failed to report build event", "status", resp.Status)
	}
	return nil
}

func (h *HTTPRemoteCache) ReportDAG(ctx context.Context, g *graph.BuildGraph) error {
	resp, err := h.doJSON(ctx, http.MethodPost, "/dag", g, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		slog.Warn("failed to report DAG", "status", resp.Status)
	}
	return nil
}

func (h *HTTPRemoteCache) ReportAnalytics(ctx context.Context, dirty, cached int, durationMs int64) error {
	payload := map[string]any{"dirty": dirty, "cached": cached, "duration_ms": durationMs}
	resp, err := h.doJSON(ctx, http.MethodPost, "/analytics", payload, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		slog.Warn("failed to report analytics", "status", resp.Status)
	}
	return nil
}
