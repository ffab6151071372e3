// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package models

import "github.com/goccy/go-json"

// Envelope is the backend's uniform REST response shape.
// Data is decoded lazily by the caller once Success has been checked.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// LikeResult is the payload of a successful like/unlike call. The returned
// count is authoritative; callers must adopt it over any local guess.
type LikeResult struct {
	LikesCount int `json:"likesCount"`
}

// RatingResult is the payload of a successful rating submission.
type RatingResult struct {
	AverageRating float64 `json:"averageRating"`
	TotalRatings  int     `json:"totalRatings"`
}

// CommentResult is the payload of a successful comment submission.
type CommentResult struct {
	CommentID string `json:"commentId"`
}

// FavoritesList is the payload of the favorites listing endpoint.
type FavoritesList struct {
	PostIDs []string `json:"postIds"`
}
