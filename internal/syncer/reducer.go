// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package syncer reconciles a viewed resource's interaction state across
// four sources: the persistent cache, optimistic local mutations,
// authoritative server responses, and realtime push events.
//
// All state transitions go through a reducer over tagged actions, so every
// transition is total and testable without any transport attached. The
// reducer is only ever invoked from a view's event loop goroutine; it holds
// no locks.
package syncer

import (
	"github.com/pinmapapp/pinsync/internal/models"
)

// Mutable interaction fields. At most one mutation per field is in flight
// at any time; a second request on the same field queues behind the first.
const (
	FieldLiked      = "liked"
	FieldBookmarked = "bookmarked"
	FieldRating     = "rating"
	FieldComment    = "comment"
)

// ViewState is the read-only projection a bound view exposes. Slices are
// shared with internal state and must not be mutated by observers.
type ViewState struct {
	ResourceID    string           `json:"resourceId"`
	Liked         bool             `json:"liked"`
	LikeCount     int              `json:"likeCount"`
	Bookmarked    bool             `json:"bookmarked"`
	AverageRating float64          `json:"averageRating"`
	TotalRatings  int              `json:"totalRatings"`
	Comments      []models.Comment `json:"comments"`
	Loading       bool             `json:"loading"`
	ReadOnly      bool             `json:"readOnly"`
	Deleted       bool             `json:"deleted"`
	LastError     string           `json:"lastError,omitempty"`
}

// pendingMutation captures the pre-mutation values needed for rollback.
type pendingMutation struct {
	field          string
	origLiked      bool
	origLikeCount  int
	origBookmarked bool
}

// reducerState is the full state owned by one view's event loop: the
// observable projection plus the in-flight mutation bookkeeping.
type reducerState struct {
	view    ViewState
	pending map[string]pendingMutation
}

func newReducerState(resourceID string, authenticated bool) reducerState {
	return reducerState{
		view: ViewState{
			ResourceID: resourceID,
			Loading:    authenticated,
			ReadOnly:   !authenticated,
		},
		pending: make(map[string]pendingMutation),
	}
}

// action is a tagged state transition input.
type action interface {
	actionTag() string
}

// actionSeedFromCache paints the last-known cached values before any
// network response arrives, so a re-opened view does not flash "unliked".
type actionSeedFromCache struct {
	record models.InteractionRecord
}

// actionSnapshotResolved carries the settled results of the concurrent
// snapshot and favorites fetches. A nil Snapshot or Favorites means that
// fetch failed and the cached value for its fields stands (per-field
// degradation, not all-or-nothing).
type actionSnapshotResolved struct {
	snapshot  *models.ResourceSnapshot
	favorites *bool
	userID    string
}

// actionMutationStarted applies an optimistic value and records the
// original for rollback.
type actionMutationStarted struct {
	field      string
	liked      *bool
	likeCount  *int
	bookmarked *bool
}

// actionMutationConfirmed overwrites fields with server-confirmed values.
// Counts always come from the server, never from the local guess, because
// concurrent interactions from other users may have changed them.
type actionMutationConfirmed struct {
	field         string
	liked         *bool
	likeCount     *int
	bookmarked    *bool
	averageRating *float64
	totalRatings  *int
	comment       *models.Comment
}

// actionMutationFailed rolls the field back to its pre-mutation value and
// surfaces a transient error.
type actionMutationFailed struct {
	field  string
	reason string
}

// actionPushReceived merges the fields a realtime event carries. Numeric
// fields are overwritten, never added; comment lists are replaced
// wholesale because the server owns their order.
type actionPushReceived struct {
	event         string
	liked         *bool
	likeCount     *int
	bookmarked    *bool
	averageRating *float64
	totalRatings  *int
	comments      []models.Comment
	comment       *models.Comment
}

// actionResourceDeleted terminates the view; pending mutations are
// abandoned silently because the resource no longer exists.
type actionResourceDeleted struct{}

func (actionSeedFromCache) actionTag() string     { return "seed-from-cache" }
func (actionSnapshotResolved) actionTag() string  { return "snapshot-resolved" }
func (actionMutationStarted) actionTag() string   { return "mutation-started" }
func (actionMutationConfirmed) actionTag() string { return "mutation-confirmed" }
func (actionMutationFailed) actionTag() string    { return "mutation-failed" }
func (actionPushReceived) actionTag() string      { return "push-received" }
func (actionResourceDeleted) actionTag() string   { return "resource-deleted" }

// fields reports which mutable fields a push touches, for deferral against
// in-flight mutations on the same fields.
func (a actionPushReceived) fields() []string {
	var out []string
	if a.liked != nil || a.likeCount != nil {
		out = append(out, FieldLiked)
	}
	if a.bookmarked != nil {
		out = append(out, FieldBookmarked)
	}
	if a.averageRating != nil || a.totalRatings != nil {
		out = append(out, FieldRating)
	}
	if a.comments != nil || a.comment != nil {
		out = append(out, FieldComment)
	}
	return out
}

// reduce applies one action and returns the next state. It is total: every
// action yields a defined next state, including no-ops.
func reduce(s reducerState, a action) reducerState {
	switch act := a.(type) {

	case actionSeedFromCache:
		if act.record.Liked != nil {
			s.view.Liked = *act.record.Liked
		}
		if act.record.LikeCount != nil {
			s.view.LikeCount = *act.record.LikeCount
		}
		if act.record.Bookmarked != nil {
			s.view.Bookmarked = *act.record.Bookmarked
		}

	case actionSnapshotResolved:
		if act.snapshot != nil {
			s.view.Liked = act.snapshot.LikedBy(act.userID)
			s.view.LikeCount = act.snapshot.LikesCount
			s.view.AverageRating = act.snapshot.AverageRating
			s.view.TotalRatings = act.snapshot.TotalRatings
			s.view.Comments = act.snapshot.Comments
		}
		if act.favorites != nil {
			s.view.Bookmarked = *act.favorites
		}
		s.view.Loading = false

	case actionMutationStarted:
		s.pending = clonePending(s.pending)
		s.pending[act.field] = pendingMutation{
			field:          act.field,
			origLiked:      s.view.Liked,
			origLikeCount:  s.view.LikeCount,
			origBookmarked: s.view.Bookmarked,
		}
		if act.liked != nil {
			s.view.Liked = *act.liked
		}
		if act.likeCount != nil {
			s.view.LikeCount = max(0, *act.likeCount)
		}
		if act.bookmarked != nil {
			s.view.Bookmarked = *act.bookmarked
		}
		s.view.LastError = ""

	case actionMutationConfirmed:
		s.pending = clonePending(s.pending)
		delete(s.pending, act.field)
		if act.liked != nil {
			s.view.Liked = *act.liked
		}
		if act.likeCount != nil {
			s.view.LikeCount = max(0, *act.likeCount)
		}
		if act.bookmarked != nil {
			s.view.Bookmarked = *act.bookmarked
		}
		if act.averageRating != nil {
			s.view.AverageRating = *act.averageRating
		}
		if act.totalRatings != nil {
			s.view.TotalRatings = *act.totalRatings
		}
		if act.comment != nil {
			s.view.Comments = appendComment(s.view.Comments, *act.comment)
		}
		s.view.LastError = ""

	case actionMutationFailed:
		pend, ok := s.pending[act.field]
		s.pending = clonePending(s.pending)
		delete(s.pending, act.field)
		if ok {
			switch act.field {
			case FieldLiked:
				s.view.Liked = pend.origLiked
				s.view.LikeCount = pend.origLikeCount
			case FieldBookmarked:
				s.view.Bookmarked = pend.origBookmarked
			}
		}
		s.view.LastError = act.reason

	case actionPushReceived:
		if act.liked != nil {
			s.view.Liked = *act.liked
		}
		if act.likeCount != nil {
			s.view.LikeCount = max(0, *act.likeCount)
		}
		if act.bookmarked != nil {
			s.view.Bookmarked = *act.bookmarked
		}
		if act.averageRating != nil {
			s.view.AverageRating = *act.averageRating
		}
		if act.totalRatings != nil {
			s.view.TotalRatings = *act.totalRatings
		}
		if act.comments != nil {
			s.view.Comments = act.comments
		}
		if act.comment != nil {
			s.view.Comments = appendComment(s.view.Comments, *act.comment)
		}

	case actionResourceDeleted:
		s.view.Deleted = true
		s.pending = make(map[string]pendingMutation)
	}

	return s
}

func clonePending(in map[string]pendingMutation) map[string]pendingMutation {
	out := make(map[string]pendingMutation, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// appendComment appends c unless a comment with the same ID is already
// present. Pushes may replay; comment IDs are server-assigned and unique.
func appendComment(comments []models.Comment, c models.Comment) []models.Comment {
	for _, existing := range comments {
		if existing.ID == c.ID {
			return comments
		}
	}
	out := make([]models.Comment, 0, len(comments)+1)
	out = append(out, comments...)
	return append(out, c)
}
