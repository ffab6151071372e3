// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package syncer

import (
	"context"
	"errors"
	"sync"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/realtime"
	"github.com/pinmapapp/pinsync/internal/store"
)

// ErrViewClosed is returned for operations on a view that has already been
// unbound or torn down by a post-deleted push.
var ErrViewClosed = errors.New("view is closed")

// Synchronizer owns the bound views of the current session. One view exists
// per resource at a time; binding an already-bound resource returns the
// live view rather than racing a second event loop against it.
type Synchronizer struct {
	store   *store.InteractionStore
	client  api.Interactions
	manager *realtime.Manager

	mu    sync.Mutex
	views map[string]*View
	cred  api.Credential
}

// New assembles a synchronizer over the given cache, backend client, and
// realtime manager. A nil manager disables live updates entirely.
func New(st *store.InteractionStore, client api.Interactions, manager *realtime.Manager) *Synchronizer {
	return &Synchronizer{
		store:   st,
		client:  client,
		manager: manager,
		views:   make(map[string]*View),
	}
}

// Bind mounts a view of resourceID for the given credential and returns it.
// The view paints from cache immediately; authoritative state follows
// asynchronously. An unreachable realtime channel degrades the view to
// snapshot-only instead of failing the bind.
func (s *Synchronizer) Bind(ctx context.Context, resourceID string, cred api.Credential) *View {
	s.mu.Lock()
	if existing, ok := s.views[resourceID]; ok {
		s.mu.Unlock()
		return existing
	}
	s.cred = cred
	s.mu.Unlock()

	var channel *realtime.Channel
	if s.manager != nil && !cred.IsZero() {
		ch, err := s.manager.Connect(ctx, cred)
		if err != nil {
			logging.Warn().Err(err).Str("resource", resourceID).
				Msg("realtime unavailable, binding without live updates")
		} else {
			channel = ch
		}
	}

	view := newView(s.store, s.client, channel, resourceID, cred, s.dropView)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.views[resourceID]; ok {
		// Lost a bind race; keep the first view.
		go view.Close()
		return existing
	}
	s.views[resourceID] = view
	return view
}

// View returns the bound view for resourceID, if any.
func (s *Synchronizer) View(resourceID string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[resourceID]
	return v, ok
}

// Unbind closes the view for resourceID. Unbinding an unbound resource is
// a no-op.
func (s *Synchronizer) Unbind(resourceID string) {
	s.mu.Lock()
	view, ok := s.views[resourceID]
	delete(s.views, resourceID)
	s.mu.Unlock()
	if ok {
		view.Close()
	}
}

// dropView removes a view that tore itself down (post-deleted push).
func (s *Synchronizer) dropView(resourceID string) {
	s.mu.Lock()
	delete(s.views, resourceID)
	s.mu.Unlock()
}

// SignOut closes every bound view, clears the user's cached interaction
// records, and drops the realtime channel. Used at session end.
func (s *Synchronizer) SignOut() {
	s.mu.Lock()
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[string]*View)
	userID, err := s.cred.UserID()
	if err != nil {
		// No usable identity means no namespaced records to clear.
		userID = ""
	}
	s.cred = api.Credential("")
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	if userID != "" {
		s.store.ClearAll(userID)
	}
	if s.manager != nil {
		s.manager.Disconnect()
	}
	logging.Info().Str("user", userID).Msg("session closed, interaction cache cleared")
}

// Shutdown closes every bound view without touching cached records, so the
// next session still paints instantly.
func (s *Synchronizer) Shutdown() {
	s.mu.Lock()
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[string]*View)
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}
