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

// Package hasher implements spec component A: a deterministic content digest
// over a filesystem subtree, honoring ignore rules and never following
// symlinks.
package hasher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/kraklabs/memobuild/internal/digest"
	"github.com/kraklabs/memobuild/internal/ignore"
	"github.com/kraklabs/memobuild/internal/manifest"
)

// Result is the outcome of hashing a subtree: its digest plus the manifest
// of files that contributed to it (spec §4.D's input_manifest_hash source).
type Result struct {
	Digest   digest.Digest
	Manifest manifest.ArtifactManifest
}

// Hash walks root (a file or a directory) honoring rules, and returns a
// stable digest over the sorted set of non-ignored regular files and their
// contents. Hashing a single file is identical to hashing a root containing
// only that file under its basename (spec §4.A).
func Hash(root string, rules *ignore.Rules) (Result, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return Result{}, fmt.Errorf("hasher: stat %s: %w", root, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(root)
		if err != nil {
			return Result{}, fmt.Errorf("hasher: read %s: %w", root, err)
		}
		name := filepath.Base(root)
		return hashFiles(root, []relFile{{rel: name, abs: root, size: int64(len(data))}})
	}

	paths, err := listFiles(root, rules)
	if err != nil {
		return Result{}, err
	}
	return hashFiles(root, paths)
}

type relFile struct {
	rel  string
	abs  string
	size int64
}

// listFiles returns the sorted, non-ignored regular files under root.
// godirwalk's Unsorted walk is fast but offers no ordering guarantee; the
// explicit sort below is what satisfies the spec's byte-lexicographic MUST.
func listFiles(root string, rules *ignore.Rules) ([]relFile, error) {
	var files []relFile
	err := godirwalk.Walk(root, &godirwalk.Options{
		FollowSymbolicLinks: false,
		Unsorted:            true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == root {
				return nil
			}
			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				// Broken symlink or unreadable entry: skip rather than fail
				// the whole walk.
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if isDir {
				if rules.IsIgnored(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if de.IsSymlink() {
				return nil
			}
			if !de.IsRegular() {
				return nil
			}
			if rules.IsIgnored(rel) {
				return nil
			}
			info, err := os.Lstat(path)
			if err != nil {
				return fmt.Errorf("hasher: stat %s: %w", path, err)
			}
			files = append(files, relFile{rel: rel, abs: path, size: info.Size()})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hasher: walk %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func hashFiles(root string, files []relFile) (Result, error) {
	h := digest.NewRolling()
	var size int64
	entries := make([]manifest.FileEntry, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.abs)
		if err != nil {
			return Result{}, fmt.Errorf("hasher: read %s: %w", f.abs, err)
		}
		// <relative-path-bytes>\0<file-bytes>\0 per spec §4.A.
		h.Write([]byte(f.rel))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
		size += int64(len(data))
		entries = append(entries, manifest.FileEntry{
			Path: f.rel,
			Hash: digest.Of(data).Hash,
			Size: int64(len(data)),
		})
	}
	d := digest.Finalize(h, size)
	return Result{Digest: d, Manifest: manifest.New(entries)}, nil
}

// HashOrFallback hashes root and falls back to hashing instructionText on
// any error, per spec §7 ("Missing file for Copy... Fall back to hashing
// the instruction text; log a warning").
func HashOrFallback(root string, rules *ignore.Rules, instructionText string) (Result, bool, error) {
	res, err := Hash(root, rules)
	if err != nil {
		fallback := digest.OfString(instructionText)
		return Result{Digest: fallback}, true, err
	}
	return res, false, nil
}

// IsPathLike reports whether text plausibly references path as a shell
// argument: whether path occurs in text as a substring. An empty path never
// matches.
func IsPathLike(text, path string) bool {
	if path == "" {
		return false
	}
	return strings.Contains(text, path)
}
