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

// Package cas implements spec component E: splitting/merging artifacts into
// 1 MiB content-addressed chunks and verifying digests on write. Grounded
// on original_source/src/cache_utils.rs's split_artifact/merge_artifact.
package cas

import (
	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/errkind"
)

// ChunkSize is the fixed chunking window (spec §4.E).
const ChunkSize = 1024 * 1024

// Layer is a single content-addressed chunk.
type Layer struct {
	Hash string
	Data []byte
}

// Split partitions data into ChunkSize windows, each becoming a Layer whose
// Hash is the digest of that window. An empty artifact yields an empty
// layer list (spec §8 boundary behavior).
func Split(data []byte) []Layer {
	if len(data) == 0 {
		return nil
	}
	layers := make([]Layer, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(data); start += ChunkSize {
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		layers = append(layers, Layer{Hash: digest.Of(chunk).Hash, Data: chunk})
	}
	return layers
}

// Merge concatenates layer bytes in order. Merging an empty list yields
// empty bytes (spec §8 boundary behavior).
func Merge(layers [][]byte) []byte {
	total := 0
	for _, l := range layers {
		total += len(l)
	}
	out := make([]byte, 0, total)
	for _, l := range layers {
		out = append(out, l...)
	}
	return out
}

// Verify recomputes the digest of data and rejects it if it doesn't match
// wantHash, per spec §4.E's CAS write-time verification MUST.
func Verify(wantHash string, data []byte) error {
	got := digest.Of(data)
	if got.Hash != wantHash {
		return errkind.CASFailure(wantHash, got.Hash, len(data))
	}
	return nil
}
