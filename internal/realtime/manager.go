// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package realtime

import (
	"context"
	"sync"

	"github.com/pinmapapp/pinsync/internal/api"
)

// Manager hands out the session's shared channel. At most one live
// connection exists per manager regardless of how many resource views are
// open; views scope their interest with rooms, not connections.
type Manager struct {
	wsURL string

	mu      sync.Mutex
	channel *Channel
}

// NewManager creates a manager dialing the given backend URL
// (http/https or ws/wss; http schemes are converted).
func NewManager(wsURL string) *Manager {
	return &Manager{wsURL: wsURL}
}

// Connect returns the existing live channel for the session, or establishes
// one. Concurrent callers share a single dial.
func (m *Manager) Connect(ctx context.Context, cred api.Credential) (*Channel, error) {
	if cred.IsZero() {
		return nil, api.ErrNoCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil && !m.channel.isClosed() {
		return m.channel, nil
	}

	ch, err := newChannel(ctx, m.wsURL, cred)
	if err != nil {
		return nil, err
	}
	m.channel = ch
	return ch, nil
}

// Channel returns the current channel, or nil if none is connected.
func (m *Manager) Channel() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel == nil || m.channel.isClosed() {
		return nil
	}
	return m.channel
}

// Disconnect tears down the shared connection. Only called at session end
// (sign-out or shutdown), never on view unmount.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}
