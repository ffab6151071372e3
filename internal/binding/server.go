// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package binding exposes the synchronizer's state and actions over a local
// HTTP surface: a read-only projection per bound view plus action triggers
// that delegate to the view. It holds no state of its own.
package binding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pinmapapp/pinsync/internal/config"
	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/syncer"
)

// Server is the local binding API over a synchronizer.
type Server struct {
	cfg  config.ServerConfig
	sync *syncer.Synchronizer
	http *http.Server
}

// NewServer assembles the binding server. Serve starts it.
func NewServer(cfg config.ServerConfig, sync *syncer.Synchronizer) *Server {
	s := &Server{
		cfg:  cfg,
		sync: sync,
	}
	s.http = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// router builds the route tree. CORS runs globally so OPTIONS preflight is
// handled before anything else; rate limiting applies to the view routes
// only, never to health or metrics.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/views", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.RateLimitRequests,
			s.cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))

		r.Route("/{resourceID}", func(r chi.Router) {
			r.Get("/", s.handleGetView)
			r.Delete("/", s.handleUnbind)
			r.Post("/like", s.handleLike)
			r.Post("/bookmark", s.handleBookmark)
			r.Post("/rating", s.handleRate)
			r.Post("/comments", s.handleComment)
		})
	})

	return r
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve runs the HTTP server under a supervisor until ctx is canceled, then
// shuts down gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("binding listen on %s: %w", s.http.Addr, err)
	}
	logging.Info().Str("addr", s.http.Addr).Msg("binding API listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("binding serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("binding shutdown incomplete")
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "binding-api"
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
