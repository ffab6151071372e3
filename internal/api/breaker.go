// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

package api

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/metrics"
	"github.com/pinmapapp/pinsync/internal/models"
)

// BreakerClient wraps an Interactions implementation with a circuit breaker
// so a dead or degraded backend fails fast instead of stacking up timeouts.
//
// Caller errors (missing credential, invalid rating) bypass the breaker
// entirely: they say nothing about backend health and must not trip it.
type BreakerClient struct {
	inner Interactions
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps inner with the standard breaker settings:
// opens at a 60% failure rate over a one-minute window with at least 10
// requests, recovers through half-open after 30 seconds.
func NewBreakerClient(inner Interactions) *BreakerClient {
	const name = "pinmap-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Caller errors say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoCredential) || errors.Is(err, ErrInvalidRating)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{inner: inner, cb: cb}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// execute runs fn through the breaker.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// FetchSnapshot delegates through the breaker.
func (b *BreakerClient) FetchSnapshot(ctx context.Context, resourceID string, cred Credential) (*models.ResourceSnapshot, error) {
	if cred.IsZero() {
		return nil, ErrNoCredential
	}
	out, err := b.execute(func() (any, error) {
		return b.inner.FetchSnapshot(ctx, resourceID, cred)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.ResourceSnapshot), nil
}

// FetchFavorites delegates through the breaker.
func (b *BreakerClient) FetchFavorites(ctx context.Context, cred Credential) (map[string]struct{}, error) {
	if cred.IsZero() {
		return nil, ErrNoCredential
	}
	out, err := b.execute(func() (any, error) {
		return b.inner.FetchFavorites(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]struct{}), nil
}

// Like delegates through the breaker.
func (b *BreakerClient) Like(ctx context.Context, resourceID string, cred Credential) (int, error) {
	return b.countCall(func() (any, error) {
		return b.inner.Like(ctx, resourceID, cred)
	}, cred)
}

// Unlike delegates through the breaker.
func (b *BreakerClient) Unlike(ctx context.Context, resourceID string, cred Credential) (int, error) {
	return b.countCall(func() (any, error) {
		return b.inner.Unlike(ctx, resourceID, cred)
	}, cred)
}

func (b *BreakerClient) countCall(fn func() (any, error), cred Credential) (int, error) {
	if cred.IsZero() {
		return 0, ErrNoCredential
	}
	out, err := b.execute(fn)
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

// AddFavorite delegates through the breaker.
func (b *BreakerClient) AddFavorite(ctx context.Context, resourceID string, cred Credential) error {
	return b.voidCall(func() (any, error) {
		return nil, b.inner.AddFavorite(ctx, resourceID, cred)
	}, cred)
}

// RemoveFavorite delegates through the breaker.
func (b *BreakerClient) RemoveFavorite(ctx context.Context, resourceID string, cred Credential) error {
	return b.voidCall(func() (any, error) {
		return nil, b.inner.RemoveFavorite(ctx, resourceID, cred)
	}, cred)
}

func (b *BreakerClient) voidCall(fn func() (any, error), cred Credential) error {
	if cred.IsZero() {
		return ErrNoCredential
	}
	_, err := b.execute(fn)
	return err
}

// Rate delegates through the breaker.
func (b *BreakerClient) Rate(ctx context.Context, resourceID string, rating int, cred Credential) (*models.RatingResult, error) {
	if cred.IsZero() {
		return nil, ErrNoCredential
	}
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	out, err := b.execute(func() (any, error) {
		return b.inner.Rate(ctx, resourceID, rating, cred)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.RatingResult), nil
}

// AddComment delegates through the breaker.
func (b *BreakerClient) AddComment(ctx context.Context, resourceID, text string, cred Credential) (string, error) {
	if cred.IsZero() {
		return "", ErrNoCredential
	}
	out, err := b.execute(func() (any, error) {
		return b.inner.AddComment(ctx, resourceID, text, cred)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

var _ Interactions = (*BreakerClient)(nil)
var _ Interactions = (*Client)(nil)
