// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package store holds the in-memory, per-tenant live view of every known
// connection. It is the source of truth for real-time reads and for
// deriving statistics and flows; durable storage catches up independently.
package store

import (
	"sort"
	"sync"

	"github.com/connlens/connlens/internal/models"
)

// tenantConns is one tenant's keyed view. order tracks insertion order,
// which is the recency order used for "most recent" reads.
type tenantConns struct {
	byID  map[string]*models.Connection
	order []string
}

// Store is the process-wide tenant connection store. All operations are
// synchronous and O(1) amortized for point operations. The single mutex
// makes the presence check and the write of Upsert atomic with respect to
// concurrent callers.
type Store struct {
	mu      sync.Mutex
	tenants map[string]*tenantConns
}

// New creates an empty store.
func New() *Store {
	return &Store{tenants: make(map[string]*tenantConns)}
}

// resolveTenant picks the record's own tenant, then the fallback, then the
// default. Records are never stored under an empty tenant id.
func resolveTenant(recordTenant, fallback string) string {
	if recordTenant != "" {
		return recordTenant
	}
	if fallback != "" {
		return fallback
	}
	return models.DefaultTenant
}

// Upsert inserts or replaces a record and returns the stored record, the
// record it replaced (zero when existed is false) and whether the
// (tenant, id) key existed before this write. The existence test, the
// read of the previous record and the write happen under one lock, so
// two concurrent upserts of a fresh id yield exactly one existed=false
// and every caller sees the previous record its write actually replaced.
func (s *Store) Upsert(conn models.Connection, fallbackTenant string) (stored, prev models.Connection, existed bool) {
	conn.TenantID = resolveTenant(conn.TenantID, fallbackTenant)

	s.mu.Lock()
	defer s.mu.Unlock()

	tc := s.tenants[conn.TenantID]
	if tc == nil {
		tc = &tenantConns{byID: make(map[string]*models.Connection)}
		s.tenants[conn.TenantID] = tc
	}

	if p, ok := tc.byID[conn.ID]; ok {
		prev = *p
		existed = true
	} else {
		tc.order = append(tc.order, conn.ID)
	}
	stored = conn
	tc.byID[conn.ID] = &stored

	return stored, prev, existed
}

// Get returns the record for (tenant, id).
func (s *Store) Get(tenantID, id string) (models.Connection, bool) {
	tenantID = resolveTenant(tenantID, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	tc := s.tenants[tenantID]
	if tc == nil {
		return models.Connection{}, false
	}
	c, ok := tc.byID[id]
	if !ok {
		return models.Connection{}, false
	}
	return *c, true
}

// Remove deletes (tenant, id) and reports whether it was present.
func (s *Store) Remove(tenantID, id string) bool {
	tenantID = resolveTenant(tenantID, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	tc := s.tenants[tenantID]
	if tc == nil {
		return false
	}
	if _, ok := tc.byID[id]; !ok {
		return false
	}
	delete(tc.byID, id)
	for i, oid := range tc.order {
		if oid == id {
			tc.order = append(tc.order[:i], tc.order[i+1:]...)
			break
		}
	}
	return true
}

// ListForTenant returns the tenant's records, most recent first.
func (s *Store) ListForTenant(tenantID string) []models.Connection {
	tenantID = resolveTenant(tenantID, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	tc := s.tenants[tenantID]
	if tc == nil {
		return []models.Connection{}
	}
	out := make([]models.Connection, 0, len(tc.order))
	for i := len(tc.order) - 1; i >= 0; i-- {
		if c, ok := tc.byID[tc.order[i]]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// Tenants returns all known tenant ids, sorted.
func (s *Store) Tenants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of records held for a tenant.
func (s *Store) Len(tenantID string) int {
	tenantID = resolveTenant(tenantID, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	tc := s.tenants[tenantID]
	if tc == nil {
		return 0
	}
	return len(tc.byID)
}

// ResetFromRecords discards all state and bulk-loads the given records,
// used to rehydrate from durable storage on cold start. Records arrive
// oldest first so that insertion order matches recency.
func (s *Store) ResetFromRecords(records []models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenants = make(map[string]*tenantConns)
	for _, rec := range records {
		rec.TenantID = resolveTenant(rec.TenantID, "")
		tc := s.tenants[rec.TenantID]
		if tc == nil {
			tc = &tenantConns{byID: make(map[string]*models.Connection)}
			s.tenants[rec.TenantID] = tc
		}
		if _, existed := tc.byID[rec.ID]; !existed {
			tc.order = append(tc.order, rec.ID)
		}
		stored := rec
		tc.byID[rec.ID] = &stored
	}
}
