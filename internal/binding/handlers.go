// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package binding

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/syncer"
)

// envelope mirrors the backend's response shape so consumers deal with one
// convention on both sides.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are gone; nothing left to do but note it.
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// credential extracts the bearer credential, which may be empty for
// read-only access.
func credential(r *http.Request) api.Credential {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return api.Credential(token)
	}
	return api.Credential("")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"status": "ok"}})
}

// handleGetView binds the resource if needed and returns the current
// projection. Binding is idempotent: a second GET sees the live view.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	view := s.boundView(r)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: view.State()})
}

func (s *Server) handleUnbind(w http.ResponseWriter, r *http.Request) {
	s.sync.Unbind(chi.URLParam(r, "resourceID"))
	w.WriteHeader(http.StatusNoContent)
}

// boundView resolves the view for a request, binding on demand so any
// request can be the first touch of a resource. A presented token that
// differs from the one the view was bound with supersedes the binding
// (sign-in after an anonymous read, or a rotated session token); requests
// without a token keep whatever binding exists.
func (s *Server) boundView(r *http.Request) *syncer.View {
	resourceID := chi.URLParam(r, "resourceID")
	cred := credential(r)
	if view, ok := s.sync.View(resourceID); ok {
		if cred.IsZero() || view.Credential() == cred {
			return view
		}
		s.sync.Unbind(resourceID)
	}
	return s.sync.Bind(r.Context(), resourceID, cred)
}

// respondAction maps an action error to a response. Mutation outcomes are
// asynchronous; accepted actions answer 202 with the optimistic state.
func (s *Server) respondAction(w http.ResponseWriter, view *syncer.View, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: view.State()})
	case errors.Is(err, api.ErrNoCredential):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, api.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
	case errors.Is(err, syncer.ErrViewClosed):
		writeError(w, http.StatusGone, "view is closed")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	view := s.boundView(r)
	s.respondAction(w, view, view.ToggleLike())
}

func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request) {
	view := s.boundView(r)
	s.respondAction(w, view, view.ToggleBookmark())
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rating body")
		return
	}
	view := s.boundView(r)
	s.respondAction(w, view, view.Rate(body.Rating))
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed comment body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "comment text is required")
		return
	}
	view := s.boundView(r)
	s.respondAction(w, view, view.AddComment(body.Text))
}
