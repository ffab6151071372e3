// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package api implements the resource interaction client: stateless calls
// against the PinMap backend to fetch a resource's authoritative snapshot,
// list the authenticated user's favorites, and mutate like/bookmark/rating/
// comment state.
//
// Every operation requires a bearer credential; its absence is a caller
// error (ErrNoCredential) signaled before any request is issued. Returned
// counts are authoritative: the caller must adopt them over local guesses,
// because concurrent interactions from other users may have changed them.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/metrics"
	"github.com/pinmapapp/pinsync/internal/models"
)

// maxErrorBodySize caps how much of a response body is read for error
// reporting, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// Interactions is the operation set of the interaction client. It is
// implemented by Client for production use, by BreakerClient to add circuit
// breaking, and by fakes in synchronizer tests.
//
// All methods are safe for concurrent use and honor context cancellation.
type Interactions interface {
	FetchSnapshot(ctx context.Context, resourceID string, cred Credential) (*models.ResourceSnapshot, error)
	FetchFavorites(ctx context.Context, cred Credential) (map[string]struct{}, error)
	Like(ctx context.Context, resourceID string, cred Credential) (int, error)
	Unlike(ctx context.Context, resourceID string, cred Credential) (int, error)
	AddFavorite(ctx context.Context, resourceID string, cred Credential) error
	RemoveFavorite(ctx context.Context, resourceID string, cred Credential) error
	Rate(ctx context.Context, resourceID string, rating int, cred Credential) (*models.RatingResult, error)
	AddComment(ctx context.Context, resourceID, text string, cred Credential) (string, error)
}

// Client talks to the PinMap REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying *http.Client (tests, custom
// transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates an interaction client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		// Generous default: interaction traffic is user-paced.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSnapshot returns the server's authoritative snapshot for a resource.
func (c *Client) FetchSnapshot(ctx context.Context, resourceID string, cred Credential) (*models.ResourceSnapshot, error) {
	var snap models.ResourceSnapshot
	err := c.call(ctx, callSpec{
		op:     "fetch_snapshot",
		method: http.MethodGet,
		path:   "/api/posts/" + url.PathEscape(resourceID),
		cred:   cred,
	}, &snap)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchFavorites returns the set of resource IDs the user has bookmarked.
func (c *Client) FetchFavorites(ctx context.Context, cred Credential) (map[string]struct{}, error) {
	var list models.FavoritesList
	err := c.call(ctx, callSpec{
		op:     "fetch_favorites",
		method: http.MethodGet,
		path:   "/api/favorites",
		cred:   cred,
	}, &list)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(list.PostIDs))
	for _, id := range list.PostIDs {
		set[id] = struct{}{}
	}
	return set, nil
}

// Like records a like and returns the authoritative likes count.
// Duplicate likes are deduplicated server-side; the returned count is the
// only value the caller may trust.
func (c *Client) Like(ctx context.Context, resourceID string, cred Credential) (int, error) {
	return c.likeCall(ctx, "like", http.MethodPost, resourceID, cred)
}

// Unlike removes a like and returns the authoritative likes count.
func (c *Client) Unlike(ctx context.Context, resourceID string, cred Credential) (int, error) {
	return c.likeCall(ctx, "unlike", http.MethodDelete, resourceID, cred)
}

func (c *Client) likeCall(ctx context.Context, op, method, resourceID string, cred Credential) (int, error) {
	var result models.LikeResult
	err := c.call(ctx, callSpec{
		op:     op,
		method: method,
		path:   "/api/posts/" + url.PathEscape(resourceID) + "/like",
		cred:   cred,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.LikesCount, nil
}

// AddFavorite bookmarks a resource for the authenticated user.
func (c *Client) AddFavorite(ctx context.Context, resourceID string, cred Credential) error {
	return c.call(ctx, callSpec{
		op:     "add_favorite",
		method: http.MethodPost,
		path:   "/api/favorites/" + url.PathEscape(resourceID),
		cred:   cred,
	}, nil)
}

// RemoveFavorite removes a bookmark.
func (c *Client) RemoveFavorite(ctx context.Context, resourceID string, cred Credential) error {
	return c.call(ctx, callSpec{
		op:     "remove_favorite",
		method: http.MethodDelete,
		path:   "/api/favorites/" + url.PathEscape(resourceID),
		cred:   cred,
	}, nil)
}

// Rate submits a 1..5 rating and returns the recomputed aggregate.
func (c *Client) Rate(ctx context.Context, resourceID string, rating int, cred Credential) (*models.RatingResult, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	var result models.RatingResult
	err := c.call(ctx, callSpec{
		op:     "rate",
		method: http.MethodPost,
		path:   "/api/posts/" + url.PathEscape(resourceID) + "/rating",
		body:   map[string]int{"rating": rating},
		cred:   cred,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AddComment appends a comment and returns its server-assigned ID.
func (c *Client) AddComment(ctx context.Context, resourceID, text string, cred Credential) (string, error) {
	var result models.CommentResult
	err := c.call(ctx, callSpec{
		op:     "add_comment",
		method: http.MethodPost,
		path:   "/api/posts/" + url.PathEscape(resourceID) + "/comments",
		body:   map[string]string{"text": text},
		cred:   cred,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.CommentID, nil
}

// callSpec describes one backend request.
type callSpec struct {
	op     string
	method string
	path   string
	body   interface{}
	cred   Credential
}

// call executes a request against the backend, unwraps the response
// envelope, and decodes data into result (which may be nil for void calls).
func (c *Client) call(ctx context.Context, spec callSpec, result interface{}) error {
	if spec.cred.IsZero() {
		return ErrNoCredential
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", spec.op, err)
	}

	var bodyReader io.Reader = http.NoBody
	if spec.body != nil {
		data, err := json.Marshal(spec.body)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", spec.op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, c.baseURL+spec.path, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", spec.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+string(spec.cred))
	req.Header.Set("Accept", "application/json")
	if spec.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(spec.op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestErrors.WithLabelValues(spec.op).Inc()
		return fmt.Errorf("%s: %w", spec.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		metrics.APIRequestErrors.WithLabelValues(spec.op).Inc()
		return fmt.Errorf("%s: %w", spec.op, ErrUnauthorized)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		metrics.APIRequestErrors.WithLabelValues(spec.op).Inc()
		return fmt.Errorf("%s: read response: %w", spec.op, err)
	}

	var envelope models.Envelope
	if jerr := json.Unmarshal(raw, &envelope); jerr != nil {
		metrics.APIRequestErrors.WithLabelValues(spec.op).Inc()
		return fmt.Errorf("%s: decode envelope (HTTP %d): %w", spec.op, resp.StatusCode, jerr)
	}

	if !envelope.Success || resp.StatusCode >= 400 {
		metrics.APIRequestErrors.WithLabelValues(spec.op).Inc()
		return &ServerError{Op: spec.op, Status: resp.StatusCode, Message: envelope.Error}
	}

	if result != nil {
		if jerr := json.Unmarshal(envelope.Data, result); jerr != nil {
			metrics.APIRequestErrors.WithLabelValues(spec.op).Inc()
			return fmt.Errorf("%s: decode data: %w", spec.op, jerr)
		}
	}
	return nil
}
