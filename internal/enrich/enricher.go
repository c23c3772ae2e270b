// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package enrich applies the geo lookup service to normalized connection
// records. Source-side fields follow a directional fallback (source IP,
// then the reporting agent's public IP, then the destination IP as best
// effort); destination-side fields are resolved from the destination IP
// only. Producer-supplied values are authoritative: lookups fill fields
// only where the producer left them empty.
package enrich

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/connlens/connlens/internal/geoip"
	"github.com/connlens/connlens/internal/metrics"
	"github.com/connlens/connlens/internal/models"
)

// Enricher orchestrates lookups for single records and batches.
type Enricher struct {
	resolver geoip.Resolver
	limiter  *rate.Limiter
}

// NewEnricher creates an Enricher. lookupsPerSecond caps the lookup rate
// to protect the lookup tables; 0 means unlimited.
func NewEnricher(resolver geoip.Resolver, lookupsPerSecond float64) *Enricher {
	limit := rate.Inf
	if lookupsPerSecond > 0 {
		limit = rate.Limit(lookupsPerSecond)
	}
	return &Enricher{
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Enrich resolves geo fields for one record. reporterIP is the producing
// agent's own public address, used when the recorded source IP is private.
// An error means the lookup tables were unavailable; the record is
// returned unchanged in that case.
func (e *Enricher) Enrich(ctx context.Context, conn models.Connection, reporterIP string) (models.Connection, error) {
	srcInfo, err := e.resolveSource(ctx, conn, reporterIP)
	if err != nil {
		return conn, err
	}

	var dstInfo geoip.Info
	if isPublicIP(conn.DestinationIP) {
		dstInfo, err = e.lookup(ctx, conn.DestinationIP)
		if err != nil {
			return conn, err
		}
	}

	applyInfo(&conn, srcInfo, dstInfo)
	conn.Enriched = !srcInfo.Empty() || !dstInfo.Empty()
	return conn, nil
}

// EnrichBatch enriches every record of a batch, preserving input order and
// ids 1:1. Items are independent; no lookup result is reused across
// records.
func (e *Enricher) EnrichBatch(ctx context.Context, conns []models.Connection, reporterIP string) ([]models.Connection, error) {
	out := make([]models.Connection, len(conns))
	for i, c := range conns {
		enriched, err := e.Enrich(ctx, c, reporterIP)
		if err != nil {
			return nil, fmt.Errorf("enrich record %s: %w", c.ID, err)
		}
		out[i] = enriched
	}
	return out, nil
}

// resolveSource walks the directional fallback chain and returns the first
// non-empty lookup result.
func (e *Enricher) resolveSource(ctx context.Context, conn models.Connection, reporterIP string) (geoip.Info, error) {
	for _, candidate := range []string{conn.SourceIP, reporterIP, conn.DestinationIP} {
		if !isPublicIP(candidate) {
			continue
		}
		info, err := e.lookup(ctx, candidate)
		if err != nil {
			return geoip.Info{}, err
		}
		if !info.Empty() {
			return info, nil
		}
	}
	return geoip.Info{}, nil
}

func (e *Enricher) lookup(ctx context.Context, ip string) (geoip.Info, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return geoip.Info{}, err
	}
	start := time.Now()
	info, err := e.resolver.Lookup(ip)
	metrics.LookupDuration.Observe(time.Since(start).Seconds())
	return info, err
}

// applyInfo copies looked-up fields into the record, filling only fields
// the producer left empty.
func applyInfo(conn *models.Connection, src, dst geoip.Info) {
	if conn.Country == "" {
		conn.Country = src.Country
	}
	if conn.CountryCode == "" {
		conn.CountryCode = src.CountryCode
	}
	if conn.City == "" {
		conn.City = src.City
	}
	if conn.Latitude == 0 {
		conn.Latitude = src.Latitude
	}
	if conn.Longitude == 0 {
		conn.Longitude = src.Longitude
	}
	if conn.ASN == 0 {
		conn.ASN = src.ASN
	}
	if conn.ASOrganization == "" {
		conn.ASOrganization = src.ASOrganization
	}

	if conn.DstCountry == "" {
		conn.DstCountry = dst.Country
	}
	if conn.DstCountryCode == "" {
		conn.DstCountryCode = dst.CountryCode
	}
	if conn.DstCity == "" {
		conn.DstCity = dst.City
	}
	if conn.DstLatitude == 0 {
		conn.DstLatitude = dst.Latitude
	}
	if conn.DstLongitude == 0 {
		conn.DstLongitude = dst.Longitude
	}
}

// isPublicIP reports whether ip parses and is a globally routable unicast
// address. Private, loopback, link-local, multicast and unspecified
// addresses never reach the lookup tables.
func isPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	switch {
	case addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsMulticast():
		return false
	}
	return true
}
