// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline, the geo lookup path, persistence and the fan-out layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics.
	IngestedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connlens_ingested_records_total",
			Help: "Total connection records accepted at the ingestion boundary",
		},
		[]string{"source"}, // "http", "nats"
	)

	PipelineFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connlens_pipeline_fallbacks_total",
			Help: "Batches that took the raw (unenriched) persistence fallback",
		},
	)

	PipelineFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connlens_pipeline_terminal_failures_total",
			Help: "Batches lost after the fallback path also failed",
		},
	)

	// Enrichment metrics.
	LookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "connlens_geoip_lookup_duration_seconds",
			Help:    "Duration of geo table lookups",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnrichedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connlens_enriched_records_total",
			Help: "Records by enrichment outcome",
		},
		[]string{"outcome"}, // "enriched", "miss"
	)

	// Persistence metrics.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connlens_persist_failures_total",
			Help: "Durable-store bulk upserts that failed",
		},
	)

	PersistedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connlens_persisted_records_total",
			Help: "Records written to durable storage",
		},
	)

	// Fan-out metrics.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connlens_broadcasts_total",
			Help: "Events published to subscriber rooms",
		},
		[]string{"event"},
	)

	SkippedDerivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connlens_skipped_derivations_total",
			Help: "Derived-view computations skipped because no one was subscribed",
		},
		[]string{"view"}, // "statistics", "flows"
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connlens_websocket_clients",
			Help: "Currently connected websocket clients",
		},
	)

	// API metrics.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connlens_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connlens_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "path", "status"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connlens_api_active_requests",
			Help: "Currently in-flight API requests",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		ActiveRequests.Inc()
	} else {
		ActiveRequests.Dec()
	}
}

// TrackWSClient adjusts the connected-client gauge.
func TrackWSClient(connected bool) {
	if connected {
		WSClients.Inc()
	} else {
		WSClients.Dec()
	}
}
