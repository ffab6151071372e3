// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package models defines the data types shared across the sync engine:
// cached interaction records, server-authoritative snapshots, the REST
// envelope, and realtime push payloads.
package models

import "time"

// InteractionSchemaVersion is stamped into every persisted InteractionRecord.
// Records read back with a different version are discarded rather than
// migrated; the server remains the source of truth so a discarded record
// costs one extra fetch, never data.
const InteractionSchemaVersion = 1

// InteractionRecord is a cached, possibly-stale view of one user's
// interaction state with one resource. Nil pointer fields mean "unknown",
// which is distinct from false/zero: a record seeded only from a like
// mutation knows nothing about bookmark state.
type InteractionRecord struct {
	Schema     int       `json:"schema"`
	Liked      *bool     `json:"liked,omitempty"`
	Bookmarked *bool     `json:"bookmarked,omitempty"`
	LikeCount  *int      `json:"likeCount,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// IsZero reports whether the record carries no known fields.
func (r InteractionRecord) IsZero() bool {
	return r.Liked == nil && r.Bookmarked == nil && r.LikeCount == nil
}

// Merge overlays the known fields of partial onto r and returns the result.
// Unknown (nil) fields in partial leave the existing value untouched.
func (r InteractionRecord) Merge(partial InteractionRecord) InteractionRecord {
	out := r
	if partial.Liked != nil {
		out.Liked = partial.Liked
	}
	if partial.Bookmarked != nil {
		out.Bookmarked = partial.Bookmarked
	}
	if partial.LikeCount != nil {
		v := *partial.LikeCount
		if v < 0 {
			v = 0
		}
		out.LikeCount = &v
	}
	return out
}

// Bool returns a pointer to b. Convenience for building partial records.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n. Convenience for building partial records.
func Int(n int) *int { return &n }
