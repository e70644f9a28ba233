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

// Package errkind classifies MemoBuild errors into the recovery taxonomy used
// throughout the engine: CAS integrity, network/transient, storage, cache
// coherency, sandbox execution, and graph-construction cycles. The kind and
// retryability travel on the error for callers to inspect via IsRetryable;
// within this module, internal/cas uses it to report CAS integrity failures.
package errkind

import "fmt"

// Kind identifies which row of the error-handling table an error belongs to.
type Kind int

const (
	Unknown Kind = iota
	CASIntegrity
	Network
	Storage
	CacheCoherency
	Sandbox
	Cycle
)

func (k Kind) String() string {
	switch k {
	case CASIntegrity:
		return "cas_integrity"
	case Network:
		return "network"
	case Storage:
		return "storage"
	case CacheCoherency:
		return "cache_coherency"
	case Sandbox:
		return "sandbox"
	case Cycle:
		return "cycle"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its recovery kind and retryability.
type Error struct {
	Kind      Kind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind k. retryable follows the spec §7 table by default
// for each kind and can be overridden by the caller via SetRetryable.
func New(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err, Retryable: defaultRetryable(k)}
}

// SetRetryable marks e as retryable or not, returning e for chaining.
func (e *Error) SetRetryable(r bool) *Error {
	e.Retryable = r
	return e
}

func defaultRetryable(k Kind) bool {
	switch k {
	case Network:
		return true
	default:
		return false
	}
}

// CASFailure constructs the CASIntegrityFailure error described in spec §3/§7.
func CASFailure(expected, actual string, size int) error {
	return New(CASIntegrity, fmt.Errorf("CAS integrity failure: expected %s, got %s (size: %d bytes)", expected, actual, size))
}

// IsRetryable reports whether err (if classified) is safe to retry.
func IsRetryable(err error) bool {
	var e *Error
	if as(err, &e) {
		return e.Retryable
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
