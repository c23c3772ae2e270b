// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package metricstore retains a bounded, time-ordered history of periodic
// client-submitted metric snapshots per tenant. It feeds the statistics
// view's time-series panel.
package metricstore

import (
	"sort"
	"sync"

	"github.com/connlens/connlens/internal/models"
)

// DefaultRetention is the per-tenant snapshot cap: 7 days of hourly data.
const DefaultRetention = 168

// Store holds per-tenant snapshot sequences. Sequences are kept sorted
// ascending by timestamp; producers may submit out of order, so every
// insertion re-sorts rather than appending. Duplicate timestamps are
// stored, not merged.
type Store struct {
	mu        sync.Mutex
	retention int
	byTenant  map[string][]models.Snapshot
}

// New creates a store capped at retention snapshots per tenant. A
// non-positive retention falls back to DefaultRetention.
func New(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		retention: retention,
		byTenant:  make(map[string][]models.Snapshot),
	}
}

// Add appends snapshots for a tenant, re-sorts the whole sequence by
// timestamp and truncates to the newest retention entries.
func (s *Store) Add(tenantID string, snapshots []models.Snapshot) {
	if len(snapshots) == 0 {
		return
	}
	if tenantID == "" {
		tenantID = models.DefaultTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := append(s.byTenant[tenantID], snapshots...)
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].Timestamp.Before(seq[j].Timestamp)
	})
	if len(seq) > s.retention {
		seq = seq[len(seq)-s.retention:]
	}
	s.byTenant[tenantID] = seq
}

// GetRecent returns the last min(n, length) snapshots ascending by
// timestamp. Never errors, never pads: an unknown tenant or n <= 0 yields
// an empty slice.
func (s *Store) GetRecent(tenantID string, n int) []models.Snapshot {
	if tenantID == "" {
		tenantID = models.DefaultTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.byTenant[tenantID]
	if n <= 0 || len(seq) == 0 {
		return []models.Snapshot{}
	}
	if n > len(seq) {
		n = len(seq)
	}
	out := make([]models.Snapshot, n)
	copy(out, seq[len(seq)-n:])
	return out
}

// GetAll returns the tenant's full retained sequence, ascending.
func (s *Store) GetAll(tenantID string) []models.Snapshot {
	if tenantID == "" {
		tenantID = models.DefaultTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.byTenant[tenantID]
	out := make([]models.Snapshot, len(seq))
	copy(out, seq)
	return out
}

// Clear discards all tenants' snapshots.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTenant = make(map[string][]models.Snapshot)
}
