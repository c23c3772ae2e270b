// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package models defines the core data types shared across the ingestion,
// enrichment, storage and fan-out layers.
package models

import (
	"strings"
	"time"
)

// DefaultTenant is the tenant id used whenever a record or request carries
// no tenant identifier. Every store lookup resolves an empty tenant to this
// value before touching tenant-scoped state.
const DefaultTenant = "default"

// Protocol is the transport protocol of a connection.
type Protocol string

// Recognized protocols. Anything else is coerced to ProtocolOther at the
// ingestion boundary.
const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolICMP  Protocol = "ICMP"
	ProtocolOther Protocol = "OTHER"
)

// ParseProtocol coerces an arbitrary producer-supplied protocol string into
// one of the recognized values. Unknown or empty input yields ProtocolOther.
func ParseProtocol(s string) Protocol {
	switch Protocol(strings.ToUpper(strings.TrimSpace(s))) {
	case ProtocolTCP:
		return ProtocolTCP
	case ProtocolUDP:
		return ProtocolUDP
	case ProtocolICMP:
		return ProtocolICMP
	default:
		return ProtocolOther
	}
}

// Status is the lifecycle status of a connection.
type Status string

// Connection statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus coerces a producer-supplied status string. Anything that is
// not recognized defaults to active.
func ParseStatus(s string) Status {
	if Status(strings.ToLower(strings.TrimSpace(s))) == StatusInactive {
		return StatusInactive
	}
	return StatusActive
}

// Connection is the central entity of the system: one observed network
// connection reported by an agent, enriched with geographic and
// network-ownership metadata.
//
// (TenantID, ID) is unique. Producer-supplied geo/ownership fields are
// authoritative and are never overwritten by enrichment.
type Connection struct {
	TenantID string `json:"tenant_id"`
	ID       string `json:"id"`

	SourceIP        string `json:"source_ip"`
	SourcePort      int    `json:"source_port"`
	DestinationIP   string `json:"destination_ip"`
	DestinationPort int    `json:"destination_port"`

	Protocol Protocol `json:"protocol"`
	Status   Status   `json:"status"`

	// Enriched is true when the geo enrichment pipeline found at least one
	// field for this record. Forced false on the raw fallback path.
	Enriched bool `json:"enriched"`

	// Source-side geo fields.
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`

	// Network ownership (source side only).
	ASN            uint   `json:"asn,omitempty"`
	ASOrganization string `json:"as_organization,omitempty"`

	// Destination-side geo fields.
	DstCountry     string  `json:"dst_country,omitempty"`
	DstCountryCode string  `json:"dst_country_code,omitempty"`
	DstCity        string  `json:"dst_city,omitempty"`
	DstLatitude    float64 `json:"dst_latitude,omitempty"`
	DstLongitude   float64 `json:"dst_longitude,omitempty"`

	// Traffic counters.
	BytesIn    int64   `json:"bytes_in"`
	BytesOut   int64   `json:"bytes_out"`
	PacketsIn  int64   `json:"packets_in"`
	PacketsOut int64   `json:"packets_out"`
	Bandwidth  float64 `json:"bandwidth"`

	// Timing.
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Duration     float64   `json:"duration"`
}

// HasSourceCoordinates reports whether the source endpoint carries usable
// coordinates. The zero coordinate pair is treated as absent.
func (c *Connection) HasSourceCoordinates() bool {
	return c.Latitude != 0 || c.Longitude != 0
}

// HasDestinationCoordinates reports whether the destination endpoint
// carries usable coordinates.
func (c *Connection) HasDestinationCoordinates() bool {
	return c.DstLatitude != 0 || c.DstLongitude != 0
}
