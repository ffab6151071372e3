// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the bearer token presented on every backend call and at
// websocket connect time. The zero value means "unauthenticated".
type Credential string

// IsZero reports whether no credential is present.
func (c Credential) IsZero() bool {
	return c == ""
}

// UserID extracts the subject claim from the token without verifying the
// signature. Verification is the server's job; the client only needs its own
// identity to compute "liked by me" from a snapshot's likes set.
func (c Credential) UserID() (string, error) {
	if c.IsZero() {
		return "", ErrNoCredential
	}

	token, _, err := jwt.NewParser().ParseUnverified(string(c), jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse credential: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("credential has no subject claim")
	}
	return sub, nil
}

// ExpiresAt returns the token's expiry, or the zero time if the token
// carries none.
func (c Credential) ExpiresAt() time.Time {
	if c.IsZero() {
		return time.Time{}
	}
	token, _, err := jwt.NewParser().ParseUnverified(string(c), jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
