// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential signals that an operation was attempted without a
	// bearer credential. This is a caller error, distinct from any network
	// failure: no request is issued and no state may change.
	ErrNoCredential = errors.New("missing bearer credential")

	// ErrUnauthorized signals that the server rejected the credential.
	ErrUnauthorized = errors.New("credential rejected by server")

	// ErrInvalidRating signals a rating outside the 1..5 range.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// ServerError is a failure reported inside a well-formed response envelope
// (success=false). It is distinguishable from transport failures, which come
// back as wrapped net/http errors.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server error (HTTP %d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: server error (HTTP %d)", e.Op, e.Status)
}
