// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package realtime

import (
	"context"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/logging"
)

// Service keeps the session channel established under a supervisor. The
// channel reconnects on its own once up; the service only has to win the
// initial dial, so a backend that is down at boot surfaces as supervised
// restarts instead of a dead engine.
type Service struct {
	manager *Manager
	cred    api.Credential
}

// NewService creates the supervised connector for a session credential.
func NewService(manager *Manager, cred api.Credential) *Service {
	return &Service{manager: manager, cred: cred}
}

// Serve dials the channel and then blocks until the context is canceled.
// Returning a dial error lets the supervisor apply its backoff.
func (s *Service) Serve(ctx context.Context) error {
	if _, err := s.manager.Connect(ctx, s.cred); err != nil {
		logging.Warn().Err(err).Msg("realtime connect failed, supervisor will retry")
		return err
	}

	<-ctx.Done()
	s.manager.Disconnect()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Service) String() string {
	return "realtime-channel"
}
