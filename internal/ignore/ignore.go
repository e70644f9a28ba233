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

// Package ignore loads and evaluates ignore rules for the Hasher (spec
// §4.A). Precedence at load time is .dockerignore > .gitignore > empty.
package ignore

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Rules matches a relative path (or any of its ancestor segments) against a
// set of glob patterns loaded from a single ignore file.
type Rules struct {
	matcher *gitignore.GitIgnore
	source  string
}

// Empty returns a Rules that never ignores anything.
func Empty() *Rules {
	return &Rules{}
}

// Load resolves ignore rules for dir following .dockerignore > .gitignore >
// empty precedence, as required by spec §4.A.
func Load(dir string) *Rules {
	if r, ok := fromFile(filepath.Join(dir, ".dockerignore")); ok {
		return r
	}
	if r, ok := fromFile(filepath.Join(dir, ".gitignore")); ok {
		return r
	}
	return Empty()
}

func fromFile(path string) (*Rules, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	lines := parseLines(string(data))
	m := gitignore.CompileIgnoreLines(lines...)
	return &Rules{matcher: m, source: path}, true
}

// parseLines keeps one glob per non-blank, non-# line, per spec §4.A.
func parseLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// IsIgnored reports whether relPath (or any ancestor segment of it) matches
// a loaded pattern. relPath must use forward slashes and be relative to the
// root the rules were loaded for.
func (r *Rules) IsIgnored(relPath string) bool {
	if r == nil || r.matcher == nil {
		return false
	}
	if r.matcher.MatchesPath(relPath) {
		return true
	}
	// Ancestor-segment precedence: a pattern matching any parent directory
	// also ignores everything beneath it.
	dir := filepath.ToSlash(filepath.Dir(relPath))
	for dir != "." && dir != "/" && dir != "" {
		if r.matcher.MatchesPath(dir) {
			return true
		}
		dir = filepath.ToSlash(filepath.Dir(dir))
	}
	return false
}

// Source returns the path of the ignore file this Rules was loaded from, or
// "" for Empty.
func (r *Rules) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}
