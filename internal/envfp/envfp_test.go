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

package envfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lookupFrom(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestCapture_OnlyRelevantVarsIncluded(t *testing.T) {
	fp := Capture(lookupFrom(map[string]string{
		"PATH":          "/usr/bin",
		"GOOS":          "linux",
		"SECRET_TOKEN":  "should-not-appear",
		"RANDOM_NOISE":  "also-excluded",
	}))
	assert.Equal(t, "/usr/bin", fp.Env["PATH"])
	assert.Equal(t, "linux", fp.Env["GOOS"])
	_, present := fp.Env["SECRET_TOKEN"]
	assert.False(t, present, "variables outside the curated set must be excluded to avoid over-invalidation")
}

func TestDigest_Deterministic(t *testing.T) {
	lookup := lookupFrom(map[string]string{"GOOS": "linux", "GOARCH": "amd64"})
	fp := Capture(lookup)
	d1 := fp.Digest()
	d2 := fp.Digest()
	assert.Equal(t, d1, d2)
}

func TestDigest_DiffersWhenRelevantVarChanges(t *testing.T) {
	fp1 := Capture(lookupFrom(map[string]string{"LANG": "en_US.UTF-8"}))
	fp2 := Capture(lookupFrom(map[string]string{"LANG": "fr_FR.UTF-8"}))
	assert.NotEqual(t, fp1.Digest(), fp2.Digest())
}

func TestDigest_InsensitiveToMapIterationOrder(t *testing.T) {
	fp := Fingerprint{
		OS:   "linux",
		Arch: "amd64",
		Env:  map[string]string{"A": "1", "B": "2", "C": "3"},
	}
	// Recomputing from the same logical content must yield the same digest
	// regardless of Go's randomized map iteration order.
	for i := 0; i < 5; i++ {
		assert.Equal(t, fp.Digest(), fp.Digest())
	}
}
