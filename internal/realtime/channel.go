// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package realtime maintains the shared websocket channel to the PinMap
// backend: one connection per session, per-resource room membership, and
// named push event delivery.
//
// Key behaviors:
//   - Single shared connection per credential, never one per viewed resource
//   - Reference-counted room membership (multiple viewers of one resource
//     share one join)
//   - Automatic reconnection with exponential backoff and room re-join
//   - Subscription objects with guaranteed unsubscribe via Scope
//
// Delivery is at-most-once in order per room in practice but not guaranteed
// by the transport; handlers must be idempotent against replays and must
// ignore payloads for resources they are not bound to.
package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/metrics"
	"github.com/pinmapapp/pinsync/internal/models"
)

const (
	handshakeTimeout  = 10 * time.Second
	readDeadline      = 60 * time.Second
	pingInterval      = 30 * time.Second
	writeTimeout      = 10 * time.Second
	initialReconnect  = time.Second
	maxReconnectDelay = 32 * time.Second
)

// frame is the wire shape of every message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives the raw payload of a named push event.
type Handler func(data json.RawMessage)

// Subscription is one registered handler. Closing it unregisters the
// handler; further events are not delivered to it.
type Subscription struct {
	channel *Channel
	event   string
	handler Handler
	once    sync.Once
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.channel.off(s)
	})
}

// Scope owns a set of subscriptions and room joins created through it, so a
// view can tear everything down with one call regardless of how the handler
// wiring grew.
type Scope struct {
	channel *Channel

	mu     sync.Mutex
	subs   []*Subscription
	rooms  []string
	closed bool
}

// On subscribes within the scope.
func (sc *Scope) On(event string, handler Handler) *Subscription {
	sub := sc.channel.On(event, handler)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		sub.Close()
		return sub
	}
	sc.subs = append(sc.subs, sub)
	return sub
}

// JoinRoom joins a room within the scope. The membership reference is
// recorded even when the join frame fails to send: the reconnect loop
// re-emits joins for referenced rooms, and Close must release the reference
// either way.
func (sc *Scope) JoinRoom(resourceID string) error {
	err := sc.channel.JoinRoom(resourceID)
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		sc.channel.LeaveRoom(resourceID)
		return err
	}
	sc.rooms = append(sc.rooms, resourceID)
	sc.mu.Unlock()
	return err
}

// Close unsubscribes every handler and leaves every room the scope joined.
// After Close no handler registered through the scope is invoked again.
func (sc *Scope) Close() {
	sc.mu.Lock()
	subs := sc.subs
	rooms := sc.rooms
	sc.subs = nil
	sc.rooms = nil
	sc.closed = true
	sc.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	for _, room := range rooms {
		sc.channel.LeaveRoom(room)
	}
}

// Channel is the shared websocket connection for one session.
type Channel struct {
	wsURL string
	cred  api.Credential

	conn     *websocket.Conn
	connMu   sync.RWMutex
	writeMu  sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	subMu sync.RWMutex
	subs  map[string][]*Subscription

	roomMu sync.Mutex
	rooms  map[string]int
}

// newChannel dials the backend and starts the listener and keepalive
// goroutines. Callers go through Manager.Connect.
func newChannel(ctx context.Context, wsURL string, cred api.Credential) (*Channel, error) {
	c := &Channel{
		wsURL:    wsURL,
		cred:     cred,
		stopChan: make(chan struct{}),
		subs:     make(map[string][]*Subscription),
		rooms:    make(map[string]int),
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.listen()
	go c.pingLoop()
	return c, nil
}

// dial establishes the websocket connection.
func (c *Channel) dial(ctx context.Context) error {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("parse channel url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}
	header := map[string][]string{
		"Authorization": {"Bearer " + string(c.cred)},
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("channel dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("channel dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	logging.Info().Msg("realtime channel connected")
	return nil
}

// JoinRoom scopes push delivery to a resource. Joining is idempotent:
// membership is reference-counted and the join frame is only emitted on the
// first reference. A send failure keeps the reference; the reconnect loop
// re-emits joins for every referenced room, so callers balance a JoinRoom
// with a LeaveRoom regardless of the returned error.
func (c *Channel) JoinRoom(resourceID string) error {
	c.roomMu.Lock()
	c.rooms[resourceID]++
	first := c.rooms[resourceID] == 1
	c.roomMu.Unlock()

	if !first {
		return nil
	}

	metrics.RealtimeRoomsJoined.Inc()
	if err := c.send(models.EventJoinPostRoom, models.RoomRequest{PostID: resourceID}); err != nil {
		return fmt.Errorf("join room %s: %w", resourceID, err)
	}
	logging.Debug().Str("resource", resourceID).Msg("joined post room")
	return nil
}

// LeaveRoom drops one reference to the room, emitting the leave frame when
// the last reference goes away.
func (c *Channel) LeaveRoom(resourceID string) {
	c.roomMu.Lock()
	if c.rooms[resourceID] == 0 {
		c.roomMu.Unlock()
		return
	}
	c.rooms[resourceID]--
	last := c.rooms[resourceID] == 0
	if last {
		delete(c.rooms, resourceID)
	}
	c.roomMu.Unlock()

	if !last {
		return
	}

	metrics.RealtimeRoomsJoined.Dec()
	if err := c.send(models.EventLeavePostRoom, models.RoomRequest{PostID: resourceID}); err != nil {
		logging.Warn().Err(err).Str("resource", resourceID).Msg("leave room failed")
	}
}

// On registers a handler for a named event and returns its subscription.
func (c *Channel) On(event string, handler Handler) *Subscription {
	sub := &Subscription{channel: c, event: event, handler: handler}
	c.subMu.Lock()
	c.subs[event] = append(c.subs[event], sub)
	c.subMu.Unlock()
	return sub
}

// NewScope creates a teardown scope over this channel.
func (c *Channel) NewScope() *Scope {
	return &Scope{channel: c}
}

// off removes a subscription.
func (c *Channel) off(sub *Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	list := c.subs[sub.event]
	for i, s := range list {
		if s == sub {
			c.subs[sub.event] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// send writes a frame, serializing writers.
func (c *Channel) send(event string, data interface{}) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("channel not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteJSON(frame{Event: event, Data: payload})
}

// listen reads frames and dispatches them, reconnecting with exponential
// backoff when the connection drops. Rooms with live references are
// re-joined after every reconnect.
func (c *Channel) listen() {
	defer c.wg.Done()

	delay := initialReconnect
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			select {
			case <-time.After(delay):
			case <-c.stopChan:
				return
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}

			metrics.RealtimeReconnects.Inc()
			ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
			err := c.dial(ctx)
			cancel()
			if err != nil {
				logging.Warn().Err(err).Msg("realtime reconnect failed")
				continue
			}
			delay = initialReconnect
			c.rejoinRooms()
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			logging.Debug().Err(err).Msg("set read deadline failed")
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("realtime channel closed by server")
			} else {
				logging.Warn().Err(err).Msg("realtime read error")
			}
			c.closeConnection()
			continue
		}

		delay = initialReconnect
		c.dispatch(message)
	}
}

// rejoinRooms re-emits join frames for every room with live references.
func (c *Channel) rejoinRooms() {
	c.roomMu.Lock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.roomMu.Unlock()

	for _, id := range ids {
		if err := c.send(models.EventJoinPostRoom, models.RoomRequest{PostID: id}); err != nil {
			logging.Warn().Err(err).Str("resource", id).Msg("room re-join failed")
		}
	}
}

// dispatch parses a frame and fans it out to the event's subscribers.
func (c *Channel) dispatch(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		logging.Warn().Err(err).Msg("unparseable realtime frame")
		return
	}

	c.subMu.RLock()
	subs := make([]*Subscription, len(c.subs[f.Event]))
	copy(subs, c.subs[f.Event])
	c.subMu.RUnlock()

	if len(subs) == 0 {
		logging.Trace().Str("event", f.Event).Msg("realtime event without subscribers")
		return
	}

	metrics.PushesReceived.WithLabelValues(f.Event).Add(float64(len(subs)))
	for _, sub := range subs {
		sub.handler(f.Data)
	}
}

// pingLoop keeps the connection alive and detects dead peers.
func (c *Channel) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logging.Warn().Err(err).Msg("realtime ping failed")
				c.closeConnection()
			}
		}
	}
}

// closeConnection tears down the socket; listen() will reconnect unless the
// channel is stopping.
func (c *Channel) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	if err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
		logging.Debug().Err(err).Msg("close message send failed")
	}
	if err := c.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("connection close failed")
	}
	c.conn = nil
}

// Close shuts the channel down for good. Used by Manager.Disconnect at
// session end, never per-view.
func (c *Channel) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.closeConnection()
	c.wg.Wait()
	logging.Info().Msg("realtime channel shut down")
}

// IsConnected reports whether the socket is currently established.
func (c *Channel) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// closed reports whether Close has been called.
func (c *Channel) isClosed() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}
