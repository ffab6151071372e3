// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package models

// Realtime event names pushed by the backend per post room. Delivery is
// at-most-once in order per room in practice but not guaranteed by the
// transport; handlers must be idempotent against replays.
const (
	EventPostUpdated    = "post-updated"
	EventPostLiked      = "post-liked"
	EventPostBookmarked = "post-bookmarked"
	EventNewComment     = "new-comment"
	EventPostDeleted    = "post-deleted"
)

// Room control frames emitted by the client.
const (
	EventJoinPostRoom  = "join-post-room"
	EventLeavePostRoom = "leave-post-room"
)

// RoomRequest is the payload of join-post-room / leave-post-room frames.
type RoomRequest struct {
	PostID string `json:"postId"`
}

// PostUpdatedPayload carries a partial refresh of a post's interaction
// fields. Nil fields were not part of the update and must not be merged.
type PostUpdatedPayload struct {
	PostID        string    `json:"postId"`
	LikesCount    *int      `json:"likesCount,omitempty"`
	AverageRating *float64  `json:"averageRating,omitempty"`
	TotalRatings  *int      `json:"totalRatings,omitempty"`
	Comments      []Comment `json:"comments,omitempty"`
}

// PostLikedPayload announces a like/unlike by some user. LikesCount is the
// authoritative total after the change.
type PostLikedPayload struct {
	PostID     string `json:"postId"`
	UserID     string `json:"userId"`
	Liked      bool   `json:"liked"`
	LikesCount int    `json:"likesCount"`
}

// PostBookmarkedPayload announces a bookmark change. Bookmark state is
// per-user; receivers apply it only when UserID matches the bound user.
type PostBookmarkedPayload struct {
	PostID     string `json:"postId"`
	UserID     string `json:"userId"`
	Bookmarked bool   `json:"bookmarked"`
}

// NewCommentPayload carries one freshly created comment.
type NewCommentPayload struct {
	PostID  string  `json:"postId"`
	Comment Comment `json:"comment"`
}

// PostDeletedPayload announces that a post no longer exists. Any view bound
// to it must close; pending mutations are abandoned.
type PostDeletedPayload struct {
	PostID string `json:"postId"`
}
