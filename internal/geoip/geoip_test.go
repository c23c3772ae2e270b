// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package geoip

import (
	"path/filepath"
	"testing"
)

func TestLookupInvalidInput(t *testing.T) {
	svc := NewService("/nonexistent/city.mmdb", "/nonexistent/asn.mmdb")

	// Invalid and empty IPs must return the zero Info without touching
	// the tables, so no open error surfaces here.
	for _, ip := range []string{"", "not-an-ip", "999.999.999.999"} {
		info, err := svc.Lookup(ip)
		if err != nil {
			t.Errorf("Lookup(%q) returned error: %v", ip, err)
		}
		if !info.Empty() {
			t.Errorf("Lookup(%q) = %+v, want empty", ip, info)
		}
	}
}

func TestLookupOpenFailureRetries(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(filepath.Join(dir, "missing-city.mmdb"), filepath.Join(dir, "missing-asn.mmdb"))

	// First lookup of a valid IP hits the open path and fails.
	if _, err := svc.Lookup("8.8.8.8"); err == nil {
		t.Fatal("expected open error for missing tables")
	}

	// The failure must not be cached: the handles stay nil and a second
	// call attempts the open again (and fails again, same tables).
	if svc.handles != nil {
		t.Fatal("handles cached after failed open")
	}
	if _, err := svc.Lookup("8.8.8.8"); err == nil {
		t.Fatal("expected open error on retry")
	}
}

func TestInfoEmpty(t *testing.T) {
	if !(Info{}).Empty() {
		t.Error("zero Info should be empty")
	}
	if (Info{Country: "Germany"}).Empty() {
		t.Error("Info with country should not be empty")
	}
	if (Info{ASN: 15169}).Empty() {
		t.Error("Info with ASN should not be empty")
	}
}
