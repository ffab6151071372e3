// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// testCredential builds a signed token with the given subject. The client
// never verifies signatures, so the key is arbitrary.
func testCredential(t *testing.T, sub string) Credential {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return Credential(signed)
}

func envelopeResponse(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal test data: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"success":true,"data":` + string(raw) + `}`)); err != nil {
		t.Fatalf("write response: %v", err)
	}
}

func TestCredentialUserID(t *testing.T) {
	cred := testCredential(t, "user-42")

	sub, err := cred.UserID()
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if sub != "user-42" {
		t.Errorf("expected user-42, got %q", sub)
	}
}

func TestCredentialUserIDMissing(t *testing.T) {
	if _, err := Credential("").UserID(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if _, err := Credential("not-a-jwt").UserID(); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestCallWithoutCredentialShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchSnapshot(context.Background(), "r1", "")
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if called {
		t.Error("no request may be issued without a credential")
	}
}

func TestFetchSnapshot(t *testing.T) {
	cred := testCredential(t, "u1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posts/r1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+string(cred) {
			t.Errorf("missing bearer header, got %q", got)
		}
		envelopeResponse(t, w, map[string]interface{}{
			"id":         "r1",
			"likes":      []string{"u1", "u2"},
			"likesCount": 2,
		})
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).FetchSnapshot(context.Background(), "r1", cred)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if snap.LikesCount != 2 {
		t.Errorf("expected likesCount 2, got %d", snap.LikesCount)
	}
	if !snap.LikedBy("u1") {
		t.Error("expected u1 in likes")
	}
}

func TestFetchFavoritesBuildsSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, map[string][]string{"postIds": {"a", "b"}})
	}))
	defer srv.Close()

	favs, err := NewClient(srv.URL).FetchFavorites(context.Background(), testCredential(t, "u1"))
	if err != nil {
		t.Fatalf("FetchFavorites: %v", err)
	}
	if _, ok := favs["a"]; !ok {
		t.Error("expected a in favorites set")
	}
	if _, ok := favs["c"]; ok {
		t.Error("did not expect c in favorites set")
	}
}

func TestLikeReturnsAuthoritativeCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		envelopeResponse(t, w, map[string]int{"likesCount": 7})
	}))
	defer srv.Close()

	count, err := NewClient(srv.URL).Like(context.Background(), "r1", testCredential(t, "u1"))
	if err != nil {
		t.Fatalf("Like: %v", err)
	}
	if count != 7 {
		t.Errorf("expected count 7, got %d", count)
	}
}

func TestServerErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		if _, err := w.Write([]byte(`{"success":false,"error":"already liked"}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Like(context.Background(), "r1", testCredential(t, "u1"))

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *ServerError, got %v", err)
	}
	if serr.Message != "already liked" || serr.Status != http.StatusConflict {
		t.Errorf("unexpected server error: %+v", serr)
	}
}

func TestUnauthorizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchSnapshot(context.Background(), "r1", testCredential(t, "u1"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRateValidatesRange(t *testing.T) {
	c := NewClient("http://unreachable.invalid")

	for _, rating := range []int{0, -1, 6} {
		if _, err := c.Rate(context.Background(), "r1", rating, testCredential(t, "u1")); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("rating %d: expected ErrInvalidRating, got %v", rating, err)
		}
	}
}

func TestRateSubmitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["rating"] != 4 {
			t.Errorf("expected rating 4, got %d", body["rating"])
		}
		envelopeResponse(t, w, map[string]interface{}{"averageRating": 4.2, "totalRatings": 11})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).Rate(context.Background(), "r1", 4, testCredential(t, "u1"))
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if result.TotalRatings != 11 {
		t.Errorf("expected totalRatings 11, got %d", result.TotalRatings)
	}
}

func TestAddComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, map[string]string{"commentId": "c9"})
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL).AddComment(context.Background(), "r1", "nice spot", testCredential(t, "u1"))
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if id != "c9" {
		t.Errorf("expected comment id c9, got %q", id)
	}
}

func TestBreakerPassesThroughCallerErrors(t *testing.T) {
	b := NewBreakerClient(NewClient("http://unreachable.invalid"))

	if _, err := b.Like(context.Background(), "r1", ""); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if _, err := b.Rate(context.Background(), "r1", 9, testCredential(t, "u1")); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("expected ErrInvalidRating, got %v", err)
	}
}

func TestBreakerDelegates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, map[string]int{"likesCount": 3})
	}))
	defer srv.Close()

	b := NewBreakerClient(NewClient(srv.URL))
	count, err := b.Like(context.Background(), "r1", testCredential(t, "u1"))
	if err != nil {
		t.Fatalf("Like through breaker: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}
