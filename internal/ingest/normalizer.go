// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package ingest turns arbitrary producer-submitted partial records into
// complete, schema-valid connection records. The boundary is deliberately
// permissive: a malformed payload is coerced into something storable,
// never rejected.
package ingest

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/connlens/connlens/internal/models"
)

// Normalizer fills every required connection field with a defensible
// default when absent. Safe for concurrent use.
type Normalizer struct {
	// counter guarantees per-process uniqueness of generated ids even
	// when two records arrive in the same nanosecond.
	counter atomic.Uint64

	now func() time.Time
}

// NewNormalizer creates a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerWithClock creates a Normalizer with an injected clock for
// tests.
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize completes a partial record for the given tenant. The tenant id
// resolves to the default tenant when both the record's and the caller's
// are empty.
func (n *Normalizer) Normalize(partial models.Connection, tenantID string) models.Connection {
	now := n.now()
	out := partial

	if out.TenantID == "" {
		out.TenantID = tenantID
	}
	if out.TenantID == "" {
		out.TenantID = models.DefaultTenant
	}

	if out.ID == "" {
		out.ID = n.generateID(now)
	}

	out.Protocol = models.ParseProtocol(string(out.Protocol))
	out.Status = models.ParseStatus(string(out.Status))

	if out.SourceIP == "" {
		out.SourceIP = "0.0.0.0"
	}
	if out.DestinationIP == "" {
		out.DestinationIP = "0.0.0.0"
	}

	if out.StartedAt.IsZero() {
		out.StartedAt = now
	}
	if out.LastActivity.IsZero() {
		out.LastActivity = now
	}
	if out.Duration == 0 && out.LastActivity.After(out.StartedAt) {
		out.Duration = out.LastActivity.Sub(out.StartedAt).Seconds()
	}

	return out
}

// NormalizeBatch completes a batch, preserving input order 1:1.
func (n *Normalizer) NormalizeBatch(partials []models.Connection, tenantID string) []models.Connection {
	out := make([]models.Connection, len(partials))
	for i, p := range partials {
		out[i] = n.Normalize(p, tenantID)
	}
	return out
}

// generateID builds a per-process unique id from a monotonic counter and a
// timestamp suffix.
func (n *Normalizer) generateID(now time.Time) string {
	return fmt.Sprintf("conn-%d-%d", n.counter.Add(1), now.UnixNano())
}
