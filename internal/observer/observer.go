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

// Package observer implements spec component M: the BuildEvent sink the
// executor streams node/build lifecycle events through. A bounded
// multi-producer channel with drop-on-overflow semantics, per spec §9, so a
// slow or disconnected dashboard can never stall a build.
package observer

import "log/slog"

// EventType discriminates the BuildEvent variants from spec §6.
type EventType string

const (
	BuildStarted   EventType = "BuildStarted"
	NodeStarted    EventType = "NodeStarted"
	NodeCompleted  EventType = "NodeCompleted"
	NodeFailed     EventType = "NodeFailed"
	BuildCompleted EventType = "BuildCompleted"
)

// Event is the JSON-serializable BuildEvent union from spec §6.
type Event struct {
	Type EventType `json:"type"`

	TotalNodes int `json:"total_nodes,omitempty"`

	NodeID int    `json:"node_id,omitempty"`
	Name   string `json:"name,omitempty"`

	DurationMs int64  `json:"duration_ms,omitempty"`
	CacheHit   bool   `json:"cache_hit,omitempty"`
	Error      string `json:"error,omitempty"`

	TotalDurationMs int `json:"total_duration_ms,omitempty"`
	CacheHits       int `json:"cache_hits,omitempty"`
	ExecutedNodes   int `json:"executed_nodes,omitempty"`
}

// Sink receives build events. Implementations MUST NOT block the caller
// for long; Channel below drops events on overflow rather than blocking.
type Sink interface {
	Emit(Event)
}

// Channel is a bounded multi-producer Sink. Observers outlive a single
// build (spec §9: "the executor MUST NOT own or drop them") — callers keep
// a reference and read Events independently.
type Channel struct {
	Events chan Event
}

// NewChannel creates a Channel with the given buffer capacity.
func NewChannel(capacity int) *Channel {
	return &Channel{Events: make(chan Event, capacity)}
}

// Emit sends ev, dropping it (and logging) if the channel is full rather
// than blocking the build (spec §5: "Observer channel: ... overflow drops
// events").
func (c *Channel) Emit(ev Event) {
	select {
	case c.Events <- ev:
	default:
		slog.Warn("observer channel full, dropping event", "type", ev.Type, "node_id", ev.NodeID)
	}
}

// discard is a Sink that drops every event; used when no observer is
// configured.
type discard struct{}

func (discard) Emit(Event) {}

// Discard is the shared no-op Sink.
var Discard Sink = discard{}
