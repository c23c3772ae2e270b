// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package fanout

import "github.com/connlens/connlens/internal/models"

// Statistics derives the aggregate view over the tenant's live connection
// set, including the recent metric snapshots as the time-series panel.
func (m *Manager) Statistics(tenantID string) models.Statistics {
	tenant := resolveTenant(tenantID, "")
	records := m.store.ListForTenant(tenant)

	stats := models.Statistics{
		TenantID:  tenant,
		Total:     len(records),
		Protocols: make(map[models.Protocol]int),
	}
	for i := range records {
		rec := &records[i]
		if rec.Status == models.StatusActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		stats.BandwidthIn += float64(rec.BytesIn)
		stats.BandwidthOut += float64(rec.BytesOut)
		stats.Protocols[rec.Protocol]++
	}
	stats.TimeSeries = m.snapshots.GetRecent(tenant, StatsTimeSeriesLen)
	return stats
}

// Flows derives the traffic-flow view: one flow per active connection
// whose source and destination both carry coordinates, most recent first,
// capped at FlowCap. Flows are never persisted.
func (m *Manager) Flows(tenantID string) []models.Flow {
	tenant := resolveTenant(tenantID, "")
	records := m.store.ListForTenant(tenant)

	flows := make([]models.Flow, 0, FlowCap)
	for i := range records {
		rec := &records[i]
		if rec.Status != models.StatusActive {
			continue
		}
		if !rec.HasSourceCoordinates() || !rec.HasDestinationCoordinates() {
			continue
		}
		flows = append(flows, models.Flow{
			ConnectionID: rec.ID,
			SrcLatitude:  rec.Latitude,
			SrcLongitude: rec.Longitude,
			DstLatitude:  rec.DstLatitude,
			DstLongitude: rec.DstLongitude,
			Protocol:     rec.Protocol,
			Bandwidth:    rec.Bandwidth,
		})
		if len(flows) == FlowCap {
			break
		}
	}
	return flows
}
