// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package models

import "time"

// Snapshot is one periodic, client-submitted metrics sample for a tenant.
// Snapshots feed the statistics view's time-series panel. Duplicate
// timestamps are stored as-is; the metric store orders but never merges.
type Snapshot struct {
	TenantID            string    `json:"tenant_id"`
	Timestamp           time.Time `json:"timestamp"`
	ActiveConnections   int       `json:"active_connections"`
	InactiveConnections int       `json:"inactive_connections"`
	BandwidthIn         float64   `json:"bandwidth_in"`
	BandwidthOut        float64   `json:"bandwidth_out"`
}
