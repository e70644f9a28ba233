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

package gitref

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalRepo creates a throwaway git repository with one commit and
// returns its filesystem path, usable as a `git ls-remote` target without
// any network access.
func newLocalRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	run("init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0o644))
	run("add", "f.txt")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestResolveHead_DefaultsToHEAD(t *testing.T) {
	repo := newLocalRepo(t)
	r := NewResolver()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hash, err := r.ResolveHead(ctx, repo, "")
	require.NoError(t, err)
	assert.Len(t, hash, 40, "git commit hashes are 40 hex characters")
}

func TestResolveHead_RejectsEmptyURL(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveHead(context.Background(), "", "")
	assert.Error(t, err)
}

func TestResolveHead_UnknownRefErrors(t *testing.T) {
	repo := newLocalRepo(t)
	r := NewResolver()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := r.ResolveHead(ctx, repo, "refs/heads/does-not-exist")
	assert.Error(t, err)
}
