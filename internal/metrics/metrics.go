// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package metrics exposes Prometheus instrumentation for the sync engine:
// cache efficiency, optimistic mutation outcomes, realtime push handling,
// and backend API health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Interaction cache metrics.

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_cache_hits_total",
		Help: "Interaction cache reads that returned a usable record",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_cache_misses_total",
		Help: "Interaction cache reads that returned nothing (absent, corrupt, or foreign schema)",
	})

	CacheWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_cache_write_errors_total",
		Help: "Interaction cache writes that failed and were swallowed",
	})

	CacheSweptRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_cache_swept_records_total",
		Help: "Interaction records removed by the expiry sweep",
	})

	// Synchronizer metrics.

	MutationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinsync_mutations_started_total",
		Help: "Optimistic mutations applied locally, by field",
	}, []string{"field"})

	MutationsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinsync_mutations_confirmed_total",
		Help: "Mutations confirmed by the server, by field",
	}, []string{"field"})

	MutationsRolledBack = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinsync_mutations_rolled_back_total",
		Help: "Mutations rolled back after a server failure, by field",
	}, []string{"field"})

	PushesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinsync_pushes_received_total",
		Help: "Realtime push events delivered to a bound view, by event",
	}, []string{"event"})

	PushesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_pushes_deferred_total",
		Help: "Pushes buffered behind an in-flight mutation on the same field",
	})

	PushesIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_pushes_ignored_total",
		Help: "Pushes dropped because the resource ID did not match the bound view",
	})

	// Realtime channel metrics.

	RealtimeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinsync_realtime_reconnects_total",
		Help: "Websocket reconnection attempts",
	})

	RealtimeRoomsJoined = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pinsync_realtime_rooms_joined",
		Help: "Post rooms currently joined on the shared channel",
	})

	// Backend API metrics.

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pinsync_api_request_duration_seconds",
		Help:    "Duration of backend interaction API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	APIRequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinsync_api_request_errors_total",
		Help: "Backend interaction API calls that failed",
	}, []string{"operation"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pinsync_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)
