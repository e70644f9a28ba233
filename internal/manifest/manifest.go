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

// Package manifest implements spec §3's ArtifactManifest: an ordered,
// canonicalized set of (path, content-hash, size) entries describing a
// filesystem subtree, grounded on original_source/src/cache_utils.rs's
// ArtifactManifest and its merge/hash/from_dir operations.
package manifest

import (
	"encoding/json"
	"sort"

	"github.com/kraklabs/memobuild/internal/digest"
)

// FileEntry is one manifest entry.
type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// ArtifactManifest is an ordered set of FileEntry, always stored sorted by
// path (spec §3: "Canonicalized by sorting entries by path").
type ArtifactManifest struct {
	Files []FileEntry `json:"files"`
}

// New builds a canonicalized manifest from entries, sorting by path.
func New(entries []FileEntry) ArtifactManifest {
	files := append([]FileEntry(nil), entries...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return ArtifactManifest{Files: files}
}

// Hash returns the manifest's own digest: the hash of its canonical
// serialized form (spec §3).
func (m ArtifactManifest) Hash() digest.Digest {
	b, _ := json.Marshal(m)
	return digest.Of(b)
}

// Merge unions entries by path, with other's entries winning on conflict
// (spec §3: "right-wins on conflict"), following the map-based strategy
// from original_source/src/cache_utils.rs's ArtifactManifest::merge.
func (m ArtifactManifest) Merge(other ArtifactManifest) ArtifactManifest {
	byPath := make(map[string]FileEntry, len(m.Files)+len(other.Files))
	for _, f := range m.Files {
		byPath[f.Path] = f
	}
	for _, f := range other.Files {
		byPath[f.Path] = f
	}
	entries := make([]FileEntry, 0, len(byPath))
	for _, f := range byPath {
		entries = append(entries, f)
	}
	return New(entries)
}

// Empty returns the canonical empty manifest.
func Empty() ArtifactManifest {
	return ArtifactManifest{}
}
