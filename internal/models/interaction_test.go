// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package models

import "testing"

func TestInteractionRecordMerge(t *testing.T) {
	base := InteractionRecord{
		Schema:    InteractionSchemaVersion,
		Liked:     Bool(true),
		LikeCount: Int(3),
	}

	merged := base.Merge(InteractionRecord{Bookmarked: Bool(true)})

	if merged.Liked == nil || !*merged.Liked {
		t.Error("merge clobbered liked")
	}
	if merged.LikeCount == nil || *merged.LikeCount != 3 {
		t.Error("merge clobbered likeCount")
	}
	if merged.Bookmarked == nil || !*merged.Bookmarked {
		t.Error("merge did not apply bookmarked")
	}
}

func TestInteractionRecordMergeOverwrites(t *testing.T) {
	base := InteractionRecord{Liked: Bool(true), LikeCount: Int(3)}

	merged := base.Merge(InteractionRecord{Liked: Bool(false), LikeCount: Int(5)})

	if *merged.Liked {
		t.Error("expected liked=false after merge")
	}
	if *merged.LikeCount != 5 {
		t.Errorf("expected likeCount=5, got %d", *merged.LikeCount)
	}
}

func TestInteractionRecordMergeClampsNegativeCount(t *testing.T) {
	merged := InteractionRecord{}.Merge(InteractionRecord{LikeCount: Int(-2)})

	if merged.LikeCount == nil || *merged.LikeCount != 0 {
		t.Errorf("expected negative count clamped to 0, got %v", merged.LikeCount)
	}
}

func TestInteractionRecordIsZero(t *testing.T) {
	if !(InteractionRecord{Schema: InteractionSchemaVersion}).IsZero() {
		t.Error("record without known fields should be zero")
	}
	if (InteractionRecord{Liked: Bool(false)}).IsZero() {
		t.Error("record with known liked=false is not zero")
	}
}

func TestSnapshotLikedBy(t *testing.T) {
	snap := &ResourceSnapshot{Likes: []string{"u1", "u2"}}

	if !snap.LikedBy("u2") {
		t.Error("expected u2 in likes set")
	}
	if snap.LikedBy("u3") {
		t.Error("did not expect u3 in likes set")
	}
}
