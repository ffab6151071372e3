// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package store

import (
	"context"
	"time"
)

// Sweeper periodically expires old interaction records. It implements
// suture.Service so it is restarted by the supervisor if it ever fails.
type Sweeper struct {
	store    *InteractionStore
	interval time.Duration
}

// NewSweeper creates a sweeper over store. A non-positive interval falls
// back to hourly.
func NewSweeper(store *InteractionStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval}
}

// Serve runs an immediate sweep, then sweeps on every tick until the context
// is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	s.store.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.store.Sweep()
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string {
	return "interaction-cache-sweeper"
}
