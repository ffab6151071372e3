// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package models

import "time"

// Comment is one entry in a resource's server-ordered comment sequence.
type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResourceSnapshot is the server's current truth for a resource's
// interaction-relevant fields. The client holds a read-only, possibly-stale
// copy; it is merged into view state, never mutated in place.
//
// Bookmark state is deliberately absent: the backend derives it from the
// authenticated user's favorites listing, fetched separately.
type ResourceSnapshot struct {
	ID            string    `json:"id"`
	Likes         []string  `json:"likes"`
	LikesCount    int       `json:"likesCount"`
	Comments      []Comment `json:"comments"`
	AverageRating float64   `json:"averageRating"`
	TotalRatings  int       `json:"totalRatings"`
}

// LikedBy reports whether userID appears in the snapshot's likes set.
func (s *ResourceSnapshot) LikedBy(userID string) bool {
	for _, id := range s.Likes {
		if id == userID {
			return true
		}
	}
	return false
}
