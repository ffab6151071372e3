// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/models"
)

// fakeBackend is a minimal websocket endpoint that records inbound frames
// and lets tests push frames to the client.
type fakeBackend struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn

	received chan frame
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		received: make(chan frame, 16),
	}
}

func (b *fakeBackend) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		b.received <- f
	}
}

func (b *fakeBackend) push(t *testing.T, event string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal push payload: %v", err)
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	if err := conn.WriteJSON(frame{Event: event, Data: payload}); err != nil {
		t.Fatalf("write push frame: %v", err)
	}
}

// drop closes the current server-side connection, forcing the client to
// reconnect.
func (b *fakeBackend) drop(t *testing.T) {
	t.Helper()
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	conn.Close()
}

func (b *fakeBackend) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-b.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return frame{}
	}
}

func (b *fakeBackend) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case f := <-b.received:
		t.Fatalf("unexpected client frame %q", f.Event)
	case <-time.After(200 * time.Millisecond):
	}
}

func startBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	backend := newFakeBackend()
	server := httptest.NewServer(http.HandlerFunc(backend.handler))
	t.Cleanup(server.Close)
	return backend, server
}

func connect(t *testing.T, server *httptest.Server) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := newChannel(ctx, server.URL, api.Credential("test-token"))
	if err != nil {
		t.Fatalf("newChannel: %v", err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func TestJoinRoomReferenceCounted(t *testing.T) {
	backend, server := startBackend(t)
	ch := connect(t, server)

	if err := ch.JoinRoom("post-1"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	f := backend.nextFrame(t)
	if f.Event != models.EventJoinPostRoom {
		t.Errorf("event = %q, want %q", f.Event, models.EventJoinPostRoom)
	}
	var req models.RoomRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		t.Fatalf("unmarshal join payload: %v", err)
	}
	if req.PostID != "post-1" {
		t.Errorf("post id = %q, want post-1", req.PostID)
	}

	// Second viewer of the same resource shares the membership.
	if err := ch.JoinRoom("post-1"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	backend.expectNoFrame(t)

	// First leave only drops a reference.
	ch.LeaveRoom("post-1")
	backend.expectNoFrame(t)

	// Last leave emits the frame.
	ch.LeaveRoom("post-1")
	f = backend.nextFrame(t)
	if f.Event != models.EventLeavePostRoom {
		t.Errorf("event = %q, want %q", f.Event, models.EventLeavePostRoom)
	}
}

func TestLeaveRoomWithoutJoinIsNoop(t *testing.T) {
	backend, server := startBackend(t)
	ch := connect(t, server)

	ch.LeaveRoom("never-joined")
	backend.expectNoFrame(t)
}

func TestDispatchDeliversToSubscribers(t *testing.T) {
	backend, server := startBackend(t)
	ch := connect(t, server)

	if err := ch.JoinRoom("post-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	backend.nextFrame(t)

	got := make(chan models.PostLikedPayload, 1)
	ch.On(models.EventPostLiked, func(data json.RawMessage) {
		var p models.PostLikedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Errorf("unmarshal payload: %v", err)
			return
		}
		got <- p
	})

	backend.push(t, models.EventPostLiked, models.PostLikedPayload{
		PostID:     "post-1",
		UserID:     "user-2",
		Liked:      true,
		LikesCount: 5,
	})

	select {
	case p := <-got:
		if p.PostID != "post-1" || p.LikesCount != 5 || !p.Liked {
			t.Errorf("unexpected payload %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	backend, server := startBackend(t)
	ch := connect(t, server)

	seen := make(chan struct{}, 4)
	sub := ch.On(models.EventPostDeleted, func(json.RawMessage) {
		seen <- struct{}{}
	})

	backend.push(t, models.EventPostDeleted, models.PostDeletedPayload{PostID: "post-1"})
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	sub.Close()
	sub.Close() // must be safe to repeat

	backend.push(t, models.EventPostDeleted, models.PostDeletedPayload{PostID: "post-2"})
	select {
	case <-seen:
		t.Fatal("handler invoked after Close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestScopeCloseTearsDownEverything(t *testing.T) {
	backend, server := startBackend(t)
	ch := connect(t, server)

	scope := ch.NewScope()
	if err := scope.JoinRoom("post-1"); err != nil {
		t.Fatalf("scope join: %v", err)
	}
	backend.nextFrame(t)

	seen := make(chan struct{}, 4)
	scope.On(models.EventNewComment, func(json.RawMessage) {
		seen <- struct{}{}
	})

	scope.Close()

	// Room membership released.
	f := backend.nextFrame(t)
	if f.Event != models.EventLeavePostRoom {
		t.Errorf("event = %q, want %q", f.Event, models.EventLeavePostRoom)
	}

	// Handlers unregistered.
	backend.push(t, models.EventNewComment, models.NewCommentPayload{PostID: "post-1"})
	select {
	case <-seen:
		t.Fatal("scoped handler invoked after Close")
	case <-time.After(200 * time.Millisecond):
	}

	// Registration after Close is rejected immediately.
	scope.On(models.EventNewComment, func(json.RawMessage) {
		seen <- struct{}{}
	})
	backend.push(t, models.EventNewComment, models.NewCommentPayload{PostID: "post-1"})
	select {
	case <-seen:
		t.Fatal("post-Close registration still delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestScopeReleasesRoomAfterFailedJoin(t *testing.T) {
	_, server := startBackend(t)
	ch := connect(t, server)

	scope := ch.NewScope()
	ch.closeConnection()

	if err := scope.JoinRoom("post-1"); err == nil {
		t.Fatal("join must fail without a connection")
	}

	// The reference stays for the reconnect loop to act on.
	ch.roomMu.Lock()
	refs := ch.rooms["post-1"]
	ch.roomMu.Unlock()
	if refs != 1 {
		t.Fatalf("room refs = %d, want 1", refs)
	}

	// Scope teardown must release it even though the join frame never went
	// out, so no rejoin outlives the view that wanted the room.
	scope.Close()
	ch.roomMu.Lock()
	_, held := ch.rooms["post-1"]
	ch.roomMu.Unlock()
	if held {
		t.Error("room reference leaked after scope close")
	}
}

func TestReconnectRejoinsRooms(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the reconnect backoff")
	}

	backend, server := startBackend(t)
	ch := connect(t, server)

	if err := ch.JoinRoom("post-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	backend.nextFrame(t)

	backend.drop(t)

	// The client backs off, re-dials, and re-emits the join for every room
	// that still has live references.
	select {
	case f := <-backend.received:
		if f.Event != models.EventJoinPostRoom {
			t.Fatalf("event = %q, want %q", f.Event, models.EventJoinPostRoom)
		}
		var req models.RoomRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			t.Fatalf("unmarshal re-join payload: %v", err)
		}
		if req.PostID != "post-1" {
			t.Errorf("post id = %q, want post-1", req.PostID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for room re-join")
	}

	if !ch.IsConnected() {
		t.Error("channel reported disconnected after reconnect")
	}
}

func TestManagerRequiresCredential(t *testing.T) {
	m := NewManager("http://127.0.0.1:0")
	_, err := m.Connect(context.Background(), api.Credential(""))
	if !errors.Is(err, api.ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
}

func TestManagerReusesLiveChannel(t *testing.T) {
	_, server := startBackend(t)
	m := NewManager(server.URL)
	t.Cleanup(m.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := m.Connect(ctx, api.Credential("test-token"))
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	second, err := m.Connect(ctx, api.Credential("test-token"))
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if first != second {
		t.Error("expected one shared channel per session")
	}
	if !first.IsConnected() {
		t.Error("channel reported disconnected")
	}
}
