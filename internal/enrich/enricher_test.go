// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package enrich

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/connlens/connlens/internal/geoip"
	"github.com/connlens/connlens/internal/metrics"
	"github.com/connlens/connlens/internal/models"
)

// fakeResolver resolves from a fixed table and records lookups.
type fakeResolver struct {
	table   map[string]geoip.Info
	err     error
	lookups []string
}

func (f *fakeResolver) Lookup(ip string) (geoip.Info, error) {
	f.lookups = append(f.lookups, ip)
	if f.err != nil {
		return geoip.Info{}, f.err
	}
	return f.table[ip], nil
}

func TestEnrichPublicSource(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"8.8.8.8": {Country: "United States", CountryCode: "US", Latitude: 37.4, Longitude: -122.07, ASN: 15169, ASOrganization: "GOOGLE"},
	}}
	e := NewEnricher(resolver, 0)

	got, err := e.Enrich(context.Background(), models.Connection{SourceIP: "8.8.8.8"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Country != "United States" || got.ASN != 15169 {
		t.Errorf("source fields not applied: %+v", got)
	}
	if !got.Enriched {
		t.Error("enriched flag not set")
	}
}

func TestEnrichNeverOverwritesProducerFields(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"8.8.8.8": {Country: "United States", CountryCode: "US", City: "Mountain View"},
	}}
	e := NewEnricher(resolver, 0)

	in := models.Connection{SourceIP: "8.8.8.8", Country: "Atlantis", Latitude: 1.5}
	got, err := e.Enrich(context.Background(), in, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Country != "Atlantis" {
		t.Errorf("producer country overwritten: %q", got.Country)
	}
	if got.Latitude != 1.5 {
		t.Errorf("producer latitude overwritten: %v", got.Latitude)
	}
	// Fields the producer left empty are still filled.
	if got.City != "Mountain View" {
		t.Errorf("city not filled: %q", got.City)
	}
}

func TestDirectionalFallbackOrder(t *testing.T) {
	// Private source, public reporter, public destination: the resolved
	// source country must come from the reporter, not the destination.
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"198.51.100.9": {Country: "Germany", CountryCode: "DE"},
		"203.0.113.80": {Country: "Japan", CountryCode: "JP"},
	}}
	e := NewEnricher(resolver, 0)

	in := models.Connection{SourceIP: "192.168.1.10", DestinationIP: "203.0.113.80"}
	got, err := e.Enrich(context.Background(), in, "198.51.100.9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Country != "Germany" {
		t.Errorf("source country = %q, want Germany (reporter)", got.Country)
	}
	if got.DstCountry != "Japan" {
		t.Errorf("dst country = %q, want Japan", got.DstCountry)
	}
}

func TestSourceFallsThroughEmptyLookups(t *testing.T) {
	// Public source with no table entry: fallback continues to the
	// destination as best effort.
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"203.0.113.80": {Country: "Japan"},
	}}
	e := NewEnricher(resolver, 0)

	in := models.Connection{SourceIP: "192.0.2.55", DestinationIP: "203.0.113.80"}
	got, err := e.Enrich(context.Background(), in, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Country != "Japan" {
		t.Errorf("source country = %q, want Japan (destination best effort)", got.Country)
	}
}

func TestDestinationResolvedIndependently(t *testing.T) {
	// Private destination gets no geo fields even when the source chain
	// resolved fine.
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"8.8.8.8": {Country: "United States"},
	}}
	e := NewEnricher(resolver, 0)

	in := models.Connection{SourceIP: "8.8.8.8", DestinationIP: "10.0.0.5"}
	got, err := e.Enrich(context.Background(), in, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.DstCountry != "" {
		t.Errorf("dst country = %q, want empty for private destination", got.DstCountry)
	}
}

func TestEnrichNothingFound(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{}}
	e := NewEnricher(resolver, 0)

	got, err := e.Enrich(context.Background(), models.Connection{SourceIP: "127.0.0.1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enriched {
		t.Error("enriched flag set with nothing found")
	}
	if len(resolver.lookups) != 0 {
		t.Errorf("lookups performed for non-public addresses: %v", resolver.lookups)
	}
}

func TestEnrichBatchPreservesOrderAndIDs(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"8.8.8.8": {Country: "United States"},
	}}
	e := NewEnricher(resolver, 0)

	in := []models.Connection{
		{ID: "a", SourceIP: "8.8.8.8"},
		{ID: "b", SourceIP: "10.1.1.1"},
		{ID: "c", SourceIP: "8.8.8.8"},
	}
	out, err := e.EnrichBatch(context.Background(), in, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, id := range []string{"a", "b", "c"} {
		if out[i].ID != id {
			t.Errorf("out[%d].ID = %q, want %q", i, out[i].ID, id)
		}
	}
	if !out[0].Enriched || out[1].Enriched || !out[2].Enriched {
		t.Errorf("enriched flags wrong: %v %v %v", out[0].Enriched, out[1].Enriched, out[2].Enriched)
	}
}

func TestEnrichBatchPropagatesLookupFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("tables unavailable")}
	e := NewEnricher(resolver, 0)

	_, err := e.EnrichBatch(context.Background(), []models.Connection{{ID: "a", SourceIP: "8.8.8.8"}}, "")
	if err == nil {
		t.Fatal("expected error when the resolver fails")
	}
}

func lookupDurationCount(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.LookupDuration.Write(&m); err != nil {
		t.Fatalf("reading histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestLookupDurationObserved(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"8.8.8.8": {Country: "United States"},
	}}
	e := NewEnricher(resolver, 0)

	before := lookupDurationCount(t)
	if _, err := e.Enrich(context.Background(), models.Connection{SourceIP: "8.8.8.8"}, ""); err != nil {
		t.Fatal(err)
	}
	if got := lookupDurationCount(t); got != before+1 {
		t.Errorf("histogram sample count = %d, want %d", got, before+1)
	}
}

func TestIsPublicIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"8.8.8.8", true},
		{"203.0.113.80", true},
		{"2001:4860:4860::8888", true},
		{"192.168.1.1", false},
		{"10.0.0.1", false},
		{"172.16.0.1", false},
		{"127.0.0.1", false},
		{"169.254.1.1", false},
		{"0.0.0.0", false},
		{"::1", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isPublicIP(tt.ip); got != tt.want {
			t.Errorf("isPublicIP(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}
