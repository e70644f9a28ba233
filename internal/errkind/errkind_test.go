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

package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NetworkDefaultsRetryable(t *testing.T) {
	e := New(Network, errors.New("connection reset"))
	assert.True(t, e.Retryable)
}

func TestNew_OtherKindsDefaultNotRetryable(t *testing.T) {
	for _, k := range []Kind{CASIntegrity, Storage, CacheCoherency, Sandbox, Cycle, Unknown} {
		e := New(k, errors.New("x"))
		assert.False(t, e.Retryable, "%s should default to non-retryable", k)
	}
}

func TestSetRetryable_OverridesDefault(t *testing.T) {
	e := New(CASIntegrity, errors.New("x")).SetRetryable(true)
	assert.True(t, e.Retryable)
}

func TestError_UnwrapsToUnderlyingError(t *testing.T) {
	underlying := errors.New("boom")
	e := New(Storage, underlying)
	assert.ErrorIs(t, e, underlying)
}

func TestError_MessageIncludesKind(t *testing.T) {
	e := New(Sandbox, errors.New("exit 137"))
	assert.Contains(t, e.Error(), "sandbox")
	assert.Contains(t, e.Error(), "exit 137")
}

func TestIsRetryable_TrueForWrappedNetworkError(t *testing.T) {
	wrapped := fmt.Errorf("dial: %w", New(Network, errors.New("timeout")))
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryable_FalseForPlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCASFailure_MessageIncludesExpectedActualAndSize(t *testing.T) {
	err := CASFailure("aaaa", "bbbb", 42)
	msg := err.Error()
	assert.Contains(t, msg, "aaaa")
	assert.Contains(t, msg, "bbbb")
	assert.Contains(t, msg, "42")
	assert.False(t, IsRetryable(err), "CAS integrity failures must not be retried blindly")
}

func TestKind_StringNames(t *testing.T) {
	cases := map[Kind]string{
		CASIntegrity:   "cas_integrity",
		Network:        "network",
		Storage:        "storage",
		CacheCoherency: "cache_coherency",
		Sandbox:        "sandbox",
		Cycle:          "cycle",
		Unknown:        "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
