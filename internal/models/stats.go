// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package models

// Statistics is the derived aggregate view over a tenant's live connection
// set, published to the statistics sub-room and served on demand.
type Statistics struct {
	TenantID     string           `json:"tenant_id"`
	Total        int              `json:"total"`
	Active       int              `json:"active"`
	Inactive     int              `json:"inactive"`
	BandwidthIn  float64          `json:"bandwidth_in"`
	BandwidthOut float64          `json:"bandwidth_out"`
	Protocols    map[Protocol]int `json:"protocols"`

	// TimeSeries is the recent slice of client-submitted snapshots,
	// ascending by timestamp.
	TimeSeries []Snapshot `json:"time_series"`
}

// Flow is a derived, never-persisted visualization unit: one fully
// geo-resolved source→destination pair. Only active connections with
// coordinates on both endpoints produce flows.
type Flow struct {
	ConnectionID string   `json:"connection_id"`
	SrcLatitude  float64  `json:"src_latitude"`
	SrcLongitude float64  `json:"src_longitude"`
	DstLatitude  float64  `json:"dst_latitude"`
	DstLongitude float64  `json:"dst_longitude"`
	Protocol     Protocol `json:"protocol"`
	Bandwidth    float64  `json:"bandwidth"`
}
