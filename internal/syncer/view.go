// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/metrics"
	"github.com/pinmapapp/pinsync/internal/models"
	"github.com/pinmapapp/pinsync/internal/realtime"
	"github.com/pinmapapp/pinsync/internal/store"
)

// mutationTimeout bounds a single backend mutation call issued on behalf of
// a view. Seeding fetches get the same bound.
const mutationTimeout = 15 * time.Second

// mutationOp enumerates the user-initiated mutations.
type mutationOp int

const (
	opToggleLike mutationOp = iota
	opToggleBookmark
	opRate
	opComment
)

// mutationRequest asks the event loop to start (or queue) a mutation.
type mutationRequest struct {
	op     mutationOp
	rating int
	text   string
}

func (m mutationRequest) field() string {
	switch m.op {
	case opToggleLike:
		return FieldLiked
	case opToggleBookmark:
		return FieldBookmarked
	case opRate:
		return FieldRating
	default:
		return FieldComment
	}
}

// View is one bound resource view. All of its state is owned by a single
// event loop goroutine fed through a mailbox channel; exported methods only
// post messages or read the last published projection.
type View struct {
	resourceID string
	userID     string
	cred       api.Credential

	store  *store.InteractionStore
	client api.Interactions
	scope  *realtime.Scope // nil when the channel is unavailable

	mailbox chan interface{}
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
	deleted atomic.Bool

	// onTerminate is invoked (outside the loop) when the view tears itself
	// down on a post-deleted push, so the owning registry can drop it.
	onTerminate func(resourceID string)

	stateMu   sync.RWMutex
	published ViewState

	// Loop-owned, never touched outside run().
	state    reducerState
	queued   map[string][]mutationRequest
	deferred []actionPushReceived
}

// newView seeds from cache, starts the event loop, and kicks off the
// concurrent snapshot and favorites fetches plus the room join. A zero
// credential yields a read-only view with no network activity at all.
func newView(st *store.InteractionStore, client api.Interactions, channel *realtime.Channel,
	resourceID string, cred api.Credential, onTerminate func(string)) *View {

	userID, err := cred.UserID()
	if err != nil && !cred.IsZero() {
		// An unparseable token cannot be matched against a snapshot's likes
		// set, so the view degrades to unauthenticated.
		logging.Warn().Err(err).Str("resource", resourceID).
			Msg("unusable credential, view degrades to read-only")
	}
	authenticated := err == nil && userID != ""

	v := &View{
		resourceID:  resourceID,
		userID:      userID,
		cred:        cred,
		store:       st,
		client:      client,
		mailbox:     make(chan interface{}, 64),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		onTerminate: onTerminate,
		state:       newReducerState(resourceID, authenticated),
		queued:      make(map[string][]mutationRequest),
	}

	// Immediate paint from cache: possibly stale, never a blank flash.
	if authenticated {
		cached := st.Get(userID, resourceID)
		v.state = reduce(v.state, actionSeedFromCache{record: cached})
	}
	v.publish()

	go v.run()

	if authenticated {
		go v.seed()
		if channel != nil {
			v.scope = channel.NewScope()
			v.subscribe()
			if err := v.scope.JoinRoom(resourceID); err != nil {
				logging.Warn().Err(err).Str("resource", resourceID).
					Msg("room join frame failed, reconnect will re-join")
			}
		}
	}
	return v
}

// State returns the last published projection.
func (v *View) State() ViewState {
	v.stateMu.RLock()
	defer v.stateMu.RUnlock()
	return v.published
}

// Credential returns the credential the view was bound with. Immutable for
// the view's lifetime; callers rebind to switch identity.
func (v *View) Credential() api.Credential {
	return v.cred
}

// Done is closed once the view has fully torn down, whether by Close or by
// a post-deleted push.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// ToggleLike flips the like state optimistically and confirms against the
// server. Network failures roll back and surface through State().LastError;
// only caller errors are returned here.
func (v *View) ToggleLike() error {
	return v.requestMutation(mutationRequest{op: opToggleLike})
}

// ToggleBookmark flips the bookmark state, symmetric to ToggleLike.
func (v *View) ToggleBookmark() error {
	return v.requestMutation(mutationRequest{op: opToggleBookmark})
}

// Rate submits a 1..5 rating. The aggregate only changes once the server
// confirms, since the client cannot recompute an average locally.
func (v *View) Rate(rating int) error {
	if rating < 1 || rating > 5 {
		return api.ErrInvalidRating
	}
	return v.requestMutation(mutationRequest{op: opRate, rating: rating})
}

// AddComment appends a comment once the server assigns it an identity.
func (v *View) AddComment(text string) error {
	return v.requestMutation(mutationRequest{op: opComment, text: text})
}

func (v *View) requestMutation(req mutationRequest) error {
	if v.cred.IsZero() || v.userID == "" {
		return api.ErrNoCredential
	}
	select {
	case v.mailbox <- req:
		return nil
	case <-v.closing:
		return ErrViewClosed
	}
}

// Close unbinds the view: the realtime room is left, no handler runs again,
// and responses still in flight are discarded without state writes. Cache
// entries persist for the next view of the same resource.
func (v *View) Close() {
	v.once.Do(func() {
		close(v.closing)
		if v.scope != nil {
			v.scope.Close()
		}
	})
	<-v.done
}

// post delivers a message to the loop unless the view is closing.
func (v *View) post(m interface{}) bool {
	select {
	case v.mailbox <- m:
		return true
	case <-v.closing:
		return false
	}
}

// publish copies the loop's current projection for readers.
func (v *View) publish() {
	v.stateMu.Lock()
	v.published = v.state.view
	v.stateMu.Unlock()
}

// run is the event loop. It is the only goroutine that reads or writes
// v.state, v.queued, and v.deferred.
func (v *View) run() {
	defer close(v.done)

	for {
		select {
		case <-v.closing:
			return
		case m := <-v.mailbox:
			switch msg := m.(type) {
			case mutationRequest:
				v.handleRequest(msg)
			case actionSnapshotResolved:
				v.state = reduce(v.state, msg)
				v.writeBack()
			case actionMutationConfirmed:
				v.state = reduce(v.state, msg)
				metrics.MutationsConfirmed.WithLabelValues(msg.field).Inc()
				v.resolveField(msg.field)
			case actionMutationFailed:
				v.state = reduce(v.state, msg)
				metrics.MutationsRolledBack.WithLabelValues(msg.field).Inc()
				v.resolveField(msg.field)
			case actionPushReceived:
				v.handlePush(msg)
			case actionResourceDeleted:
				v.state = reduce(v.state, msg)
				v.publish()
				v.terminateDeleted()
				return
			}
			v.publish()
		}
	}
}

// handleRequest starts a mutation, or queues it FIFO behind an in-flight
// mutation on the same field so two optimistic writes never interleave.
func (v *View) handleRequest(req mutationRequest) {
	field := req.field()
	if _, busy := v.state.pending[field]; busy {
		v.queued[field] = append(v.queued[field], req)
		return
	}
	v.startMutation(req)
}

// startMutation computes the optimistic transition from the current state,
// applies it, persists it to the cache, and issues the server call in a
// spawned goroutine that posts the outcome back as an action.
func (v *View) startMutation(req mutationRequest) {
	field := req.field()
	metrics.MutationsStarted.WithLabelValues(field).Inc()

	var started actionMutationStarted
	var invoke func(ctx context.Context) (actionMutationConfirmed, error)

	switch req.op {
	case opToggleLike:
		target := !v.state.view.Liked
		count := v.state.view.LikeCount
		if target {
			count++
		} else {
			count--
		}
		started = actionMutationStarted{field: field, liked: models.Bool(target), likeCount: models.Int(count)}
		invoke = func(ctx context.Context) (actionMutationConfirmed, error) {
			var (
				n   int
				err error
			)
			if target {
				n, err = v.client.Like(ctx, v.resourceID, v.cred)
			} else {
				n, err = v.client.Unlike(ctx, v.resourceID, v.cred)
			}
			if err != nil {
				return actionMutationConfirmed{}, err
			}
			return actionMutationConfirmed{field: field, liked: models.Bool(target), likeCount: models.Int(n)}, nil
		}

	case opToggleBookmark:
		target := !v.state.view.Bookmarked
		started = actionMutationStarted{field: field, bookmarked: models.Bool(target)}
		invoke = func(ctx context.Context) (actionMutationConfirmed, error) {
			var err error
			if target {
				err = v.client.AddFavorite(ctx, v.resourceID, v.cred)
			} else {
				err = v.client.RemoveFavorite(ctx, v.resourceID, v.cred)
			}
			if err != nil {
				return actionMutationConfirmed{}, err
			}
			return actionMutationConfirmed{field: field, bookmarked: models.Bool(target)}, nil
		}

	case opRate:
		rating := req.rating
		started = actionMutationStarted{field: field}
		invoke = func(ctx context.Context) (actionMutationConfirmed, error) {
			result, err := v.client.Rate(ctx, v.resourceID, rating, v.cred)
			if err != nil {
				return actionMutationConfirmed{}, err
			}
			return actionMutationConfirmed{
				field:         field,
				averageRating: &result.AverageRating,
				totalRatings:  &result.TotalRatings,
			}, nil
		}

	case opComment:
		text := req.text
		started = actionMutationStarted{field: field}
		invoke = func(ctx context.Context) (actionMutationConfirmed, error) {
			id, err := v.client.AddComment(ctx, v.resourceID, text, v.cred)
			if err != nil {
				return actionMutationConfirmed{}, err
			}
			return actionMutationConfirmed{field: field, comment: &models.Comment{
				ID:        id,
				UserID:    v.userID,
				Text:      text,
				CreatedAt: time.Now().UTC(),
			}}, nil
		}
	}

	pend := pendingMutation{
		field:          field,
		origLiked:      v.state.view.Liked,
		origLikeCount:  v.state.view.LikeCount,
		origBookmarked: v.state.view.Bookmarked,
	}

	v.state = reduce(v.state, started)
	v.writeOptimistic(started)

	go v.confirm(field, pend, invoke)
}

// confirm runs the server call off the loop and posts the outcome back. It
// reconciles the cache itself: the cache is process-wide, so a response
// that resolves after unmount still lands there, while a deleted resource
// gets no further cache writes.
func (v *View) confirm(field string, pend pendingMutation,
	invoke func(ctx context.Context) (actionMutationConfirmed, error)) {

	ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
	defer cancel()
	ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())

	confirmed, err := invoke(ctx)
	if err != nil {
		logging.Warn().Err(err).
			Str("resource", v.resourceID).
			Str("field", field).
			Msg("mutation rejected, rolling back")
		if !v.deleted.Load() {
			v.writeRollback(field, pend)
		}
		v.post(actionMutationFailed{field: field, reason: err.Error()})
		return
	}

	if !v.deleted.Load() {
		v.writeConfirmed(confirmed)
	}
	v.post(confirmed)
}

// resolveField runs after a mutation on field settles: first the next
// queued request for the field starts, then any pushes deferred behind the
// mutation replay once their fields are all idle.
func (v *View) resolveField(field string) {
	if next := v.queued[field]; len(next) > 0 {
		req := next[0]
		v.queued[field] = next[1:]
		if len(v.queued[field]) == 0 {
			delete(v.queued, field)
		}
		v.startMutation(req)
	}
	v.replayDeferred()
}

// handlePush merges a push immediately, or buffers it while any field it
// touches has a mutation in flight. Replaying after resolution keeps the
// server authoritative without clobbering a just-submitted action.
func (v *View) handlePush(push actionPushReceived) {
	for _, field := range push.fields() {
		if _, busy := v.state.pending[field]; busy {
			v.deferred = append(v.deferred, push)
			metrics.PushesDeferred.Inc()
			logging.Debug().
				Str("event", push.event).
				Str("resource", v.resourceID).
				Msg("push deferred behind pending mutation")
			return
		}
	}
	v.state = reduce(v.state, push)
	v.writeOptimistic(actionMutationStarted{
		liked:      push.liked,
		likeCount:  push.likeCount,
		bookmarked: push.bookmarked,
	})
}

// replayDeferred re-applies buffered pushes whose fields are now all idle,
// preserving arrival order among those that remain blocked.
func (v *View) replayDeferred() {
	if len(v.deferred) == 0 {
		return
	}
	pending := v.deferred
	v.deferred = nil
	for _, push := range pending {
		v.handlePush(push)
	}
}

// terminateDeleted tears the view down after a post-deleted push: the room
// is left, the cache entry for the dead resource is cleared, and pending
// mutations are abandoned without rollback or error.
func (v *View) terminateDeleted() {
	v.deleted.Store(true)
	v.once.Do(func() {
		close(v.closing)
		if v.scope != nil {
			v.scope.Close()
		}
	})
	if v.userID != "" {
		v.store.Clear(v.userID, v.resourceID)
	}
	logging.Info().Str("resource", v.resourceID).Msg("resource deleted, view closed")
	if v.onTerminate != nil {
		go v.onTerminate(v.resourceID)
	}
}

// seed issues the snapshot and favorites fetches concurrently and posts
// their settled results as one action. Either fetch may fail on its own;
// the reducer then keeps the cached values for just that fetch's fields.
func (v *View) seed() {
	ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
	defer cancel()
	ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())

	var (
		wg        sync.WaitGroup
		snapshot  *models.ResourceSnapshot
		favorites *bool
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		snap, err := v.client.FetchSnapshot(ctx, v.resourceID, v.cred)
		if err != nil {
			logging.Warn().Err(err).Str("resource", v.resourceID).
				Msg("snapshot fetch failed, keeping cached interaction state")
			return
		}
		snapshot = snap
	}()
	go func() {
		defer wg.Done()
		favs, err := v.client.FetchFavorites(ctx, v.cred)
		if err != nil {
			logging.Warn().Err(err).Str("resource", v.resourceID).
				Msg("favorites fetch failed, keeping cached bookmark state")
			return
		}
		_, ok := favs[v.resourceID]
		favorites = models.Bool(ok)
	}()
	wg.Wait()

	v.post(actionSnapshotResolved{snapshot: snapshot, favorites: favorites, userID: v.userID})
}

// subscribe wires the room's push events into the mailbox. Handlers run on
// the channel's dispatch goroutine and only parse, filter by resource
// identity, and post; payloads for other resources are dropped silently.
func (v *View) subscribe() {
	v.scope.On(models.EventPostUpdated, func(data json.RawMessage) {
		var p models.PostUpdatedPayload
		if err := json.Unmarshal(data, &p); err != nil || p.PostID != v.resourceID {
			v.ignorePush(models.EventPostUpdated, err)
			return
		}
		v.post(actionPushReceived{
			event:         models.EventPostUpdated,
			likeCount:     p.LikesCount,
			averageRating: p.AverageRating,
			totalRatings:  p.TotalRatings,
			comments:      p.Comments,
		})
	})

	v.scope.On(models.EventPostLiked, func(data json.RawMessage) {
		var p models.PostLikedPayload
		if err := json.Unmarshal(data, &p); err != nil || p.PostID != v.resourceID {
			v.ignorePush(models.EventPostLiked, err)
			return
		}
		push := actionPushReceived{
			event:     models.EventPostLiked,
			likeCount: models.Int(p.LikesCount),
		}
		// The flag itself is per-user; another user's like only moves the
		// count.
		if p.UserID == v.userID {
			push.liked = models.Bool(p.Liked)
		}
		v.post(push)
	})

	v.scope.On(models.EventPostBookmarked, func(data json.RawMessage) {
		var p models.PostBookmarkedPayload
		if err := json.Unmarshal(data, &p); err != nil || p.PostID != v.resourceID || p.UserID != v.userID {
			v.ignorePush(models.EventPostBookmarked, err)
			return
		}
		v.post(actionPushReceived{
			event:      models.EventPostBookmarked,
			bookmarked: models.Bool(p.Bookmarked),
		})
	})

	v.scope.On(models.EventNewComment, func(data json.RawMessage) {
		var p models.NewCommentPayload
		if err := json.Unmarshal(data, &p); err != nil || p.PostID != v.resourceID {
			v.ignorePush(models.EventNewComment, err)
			return
		}
		v.post(actionPushReceived{
			event:   models.EventNewComment,
			comment: &p.Comment,
		})
	})

	v.scope.On(models.EventPostDeleted, func(data json.RawMessage) {
		var p models.PostDeletedPayload
		if err := json.Unmarshal(data, &p); err != nil || p.PostID != v.resourceID {
			v.ignorePush(models.EventPostDeleted, err)
			return
		}
		v.post(actionResourceDeleted{})
	})
}

func (v *View) ignorePush(event string, err error) {
	metrics.PushesIgnored.Inc()
	if err != nil {
		logging.Debug().Err(err).Str("event", event).Msg("unparseable push payload dropped")
	}
}

// writeBack persists the fully resolved interaction state after seeding.
func (v *View) writeBack() {
	if v.userID == "" {
		return
	}
	v.store.Set(v.userID, v.resourceID, models.InteractionRecord{
		Liked:      models.Bool(v.state.view.Liked),
		Bookmarked: models.Bool(v.state.view.Bookmarked),
		LikeCount:  models.Int(v.state.view.LikeCount),
	})
}

// writeOptimistic persists just the fields an optimistic change or an
// applied push touched.
func (v *View) writeOptimistic(a actionMutationStarted) {
	if v.userID == "" {
		return
	}
	partial := models.InteractionRecord{
		Liked:      a.liked,
		Bookmarked: a.bookmarked,
		LikeCount:  a.likeCount,
	}
	if partial.IsZero() {
		return
	}
	v.store.Set(v.userID, v.resourceID, partial)
}

// writeConfirmed persists server-confirmed values.
func (v *View) writeConfirmed(a actionMutationConfirmed) {
	if v.userID == "" {
		return
	}
	partial := models.InteractionRecord{
		Liked:      a.liked,
		Bookmarked: a.bookmarked,
		LikeCount:  a.likeCount,
	}
	if partial.IsZero() {
		return
	}
	v.store.Set(v.userID, v.resourceID, partial)
}

// writeRollback restores the cache to the pre-mutation values after a
// rejected write, so cache and view agree on the rolled-back state.
func (v *View) writeRollback(field string, pend pendingMutation) {
	if v.userID == "" {
		return
	}
	switch field {
	case FieldLiked:
		v.store.Set(v.userID, v.resourceID, models.InteractionRecord{
			Liked:     models.Bool(pend.origLiked),
			LikeCount: models.Int(pend.origLikeCount),
		})
	case FieldBookmarked:
		v.store.Set(v.userID, v.resourceID, models.InteractionRecord{
			Bookmarked: models.Bool(pend.origBookmarked),
		})
	}
}
