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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/graph"
	"github.com/kraklabs/memobuild/internal/observer"
)

func newTestServer(t *testing.T) (*httptest.Server, *HTTPRemoteCache) {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(store).Mux())
	t.Cleanup(srv.Close)
	return srv, NewHTTPRemoteCache(srv.URL)
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestServer_PutThenGetRoundTrips(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	data := []byte("round trip payload")
	hash := digest.Of(data).Hash

	require.NoError(t, client.Put(ctx, hash, data))

	got, ok, err := client.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestServer_HasReflectsPresence(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	data := []byte("present")
	hash := digest.Of(data).Hash

	has, err := client.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, client.Put(ctx, hash, data))
	has, err = client.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestServer_PutRejectsDigestMismatch(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	err := client.Put(ctx, "0000000000000000000000000000000000000000000000000000000000000", []byte("data"))
	assert.Error(t, err)
}

func TestServer_GetMissingReturnsNotFound(t *testing.T) {
	_, client := newTestServer(t)
	_, ok, err := client.Get(context.Background(), digest.Of([]byte("never written")).Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServer_LayerRoundTrip(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	data := []byte("layer bytes")
	hash := digest.Of(data).Hash

	require.NoError(t, client.PutLayer(ctx, hash, data))
	has, err := client.HasLayer(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)

	got, ok, err := client.GetLayer(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestServer_NodeLayersRoundTrip(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, client.RegisterNodeLayers(ctx, "node-key-1", []string{"layer-a", "layer-b"}, 2048))

	layers, ok, err := client.GetNodeLayers(ctx, "node-key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"layer-a", "layer-b"}, layers)
}

func TestServer_NodeLayersMissingReturnsNotFound(t *testing.T) {
	_, client := newTestServer(t)
	_, ok, err := client.GetNodeLayers(context.Background(), "no-such-node")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServer_ReportAnalyticsAccepted(t *testing.T) {
	_, client := newTestServer(t)
	assert.NoError(t, client.ReportAnalytics(context.Background(), 3, 7, 1500))
}

func TestServer_ReportBuildEventAccepted(t *testing.T) {
	_, client := newTestServer(t)
	assert.NoError(t, client.ReportBuildEvent(context.Background(), observer.Event{Type: observer.NodeCompleted, NodeID: 1}))
}

func TestServer_ReportAndFetchDAG(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	g := &graph.BuildGraph{Nodes: []graph.Node{{ID: 0, Kind: graph.KindBaseImage, Text: "alpine"}}}

	require.NoError(t, client.ReportDAG(ctx, g))

	resp, err := srv.Client().Get(srv.URL + "/dag")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestServer_GCRemovesNothingWhenEverythingFresh(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()
	data := []byte("fresh")
	require.NoError(t, client.Put(ctx, digest.Of(data).Hash, data))

	resp, err := srv.Client().Post(srv.URL+"/gc?days=30", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	has, err := client.Has(ctx, digest.Of(data).Hash)
	require.NoError(t, err)
	assert.True(t, has, "GC must not remove a just-written artifact")
}
