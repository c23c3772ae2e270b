// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package fanout publishes connection events and derived views to
// tenant-scoped subscriber rooms. Derived views (statistics, flows) are
// O(n) over a tenant's connection set, so they are computed only when the
// target room has at least one subscriber: idle tenants cost nothing
// beyond the initial upsert event.
package fanout

import (
	"github.com/connlens/connlens/internal/metrics"
	"github.com/connlens/connlens/internal/metricstore"
	"github.com/connlens/connlens/internal/models"
	"github.com/connlens/connlens/internal/store"
	"github.com/connlens/connlens/internal/websocket"
)

// FlowCap bounds the number of flows in one flows-updated event.
const FlowCap = 20

// StatsTimeSeriesLen is how many recent snapshots ride along in the
// statistics view.
const StatsTimeSeriesLen = 24

// Broadcaster is the transport capability the manager requires: room
// publishing plus the subscriber-count query used for gating.
type Broadcaster interface {
	Publish(room string, msg websocket.Message)
	Count(room string) int
}

// Manager owns the store writes for the fan-out path, so the
// created/updated decision and the broadcast stay consistent.
type Manager struct {
	hub       Broadcaster
	store     *store.Store
	snapshots *metricstore.Store
}

// NewManager creates a Manager.
func NewManager(hub Broadcaster, st *store.Store, snapshots *metricstore.Store) *Manager {
	return &Manager{hub: hub, store: st, snapshots: snapshots}
}

// removedData is the payload of a removed event.
type removedData struct {
	TenantID string `json:"tenant_id"`
	ID       string `json:"id"`
}

// PublishUpsert upserts records into the live store and emits a created
// or updated event for each. A record's own tenant picks its room, not
// the caller's apparent tenant, which defends against mis-tagged records.
// A status-value change on an existing record additionally triggers a
// statistics update for that tenant.
func (m *Manager) PublishUpsert(tenantID string, records []models.Connection) {
	touched := make(map[string]bool)
	statusChanged := make(map[string]bool)

	for _, rec := range records {
		// Upsert hands back the record it replaced under its own lock, so
		// the status-change detection cannot race a concurrent batch.
		stored, prev, existed := m.store.Upsert(rec, tenantID)
		tenant := stored.TenantID
		touched[tenant] = true

		event := websocket.MessageTypeCreated
		if existed {
			event = websocket.MessageTypeUpdated
			if prev.Status != stored.Status {
				statusChanged[tenant] = true
			}
		}

		m.hub.Publish(websocket.Room(tenant, websocket.FeatureConnections), websocket.Message{
			Type: event,
			Data: stored,
		})
		metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	}

	for tenant := range statusChanged {
		m.PublishStatistics(tenant)
	}
	for tenant := range touched {
		m.PublishFlows(tenant)
	}
}

// PublishRemoval removes (tenant, id) from the live store and emits a
// removed event. Returns whether the record existed.
func (m *Manager) PublishRemoval(tenantID, id string) bool {
	tenant := resolveTenant(tenantID, "")
	if !m.store.Remove(tenant, id) {
		return false
	}

	m.hub.Publish(websocket.Room(tenant, websocket.FeatureConnections), websocket.Message{
		Type: websocket.MessageTypeRemoved,
		Data: removedData{TenantID: tenant, ID: id},
	})
	metrics.BroadcastsTotal.WithLabelValues(websocket.MessageTypeRemoved).Inc()

	m.PublishStatistics(tenant)
	return true
}

// PublishStatistics derives and publishes the statistics view, unless the
// tenant's statistics room has no subscribers.
func (m *Manager) PublishStatistics(tenantID string) {
	tenant := resolveTenant(tenantID, "")
	room := websocket.Room(tenant, websocket.FeatureStatistics)
	if m.hub.Count(room) == 0 {
		metrics.SkippedDerivations.WithLabelValues("statistics").Inc()
		return
	}

	m.hub.Publish(room, websocket.Message{
		Type: websocket.MessageTypeStatistics,
		Data: m.Statistics(tenant),
	})
	metrics.BroadcastsTotal.WithLabelValues(websocket.MessageTypeStatistics).Inc()
}

// PublishFlows derives and publishes the traffic-flow view, unless the
// tenant's flows room has no subscribers.
func (m *Manager) PublishFlows(tenantID string) {
	tenant := resolveTenant(tenantID, "")
	room := websocket.Room(tenant, websocket.FeatureFlows)
	if m.hub.Count(room) == 0 {
		metrics.SkippedDerivations.WithLabelValues("flows").Inc()
		return
	}

	m.hub.Publish(room, websocket.Message{
		Type: websocket.MessageTypeFlows,
		Data: m.Flows(tenant),
	})
	metrics.BroadcastsTotal.WithLabelValues(websocket.MessageTypeFlows).Inc()
}

// Snapshot returns the tenant's live records for the batch snapshot sent
// to a subscriber on join.
func (m *Manager) Snapshot(tenantID string) []models.Connection {
	return m.store.ListForTenant(resolveTenant(tenantID, ""))
}

func resolveTenant(recordTenant, fallback string) string {
	if recordTenant != "" {
		return recordTenant
	}
	if fallback != "" {
		return fallback
	}
	return models.DefaultTenant
}
