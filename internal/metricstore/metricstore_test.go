// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package metricstore

import (
	"math/rand"
	"testing"
	"time"

	"github.com/connlens/connlens/internal/models"
)

func snapAt(ts time.Time) models.Snapshot {
	return models.Snapshot{Timestamp: ts}
}

func TestRetentionKeepsNewest(t *testing.T) {
	s := New(168)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// 180 snapshots inserted in shuffled order.
	snaps := make([]models.Snapshot, 180)
	for i := range snaps {
		snaps[i] = snapAt(base.Add(time.Duration(i) * time.Hour))
	}
	rand.New(rand.NewSource(42)).Shuffle(len(snaps), func(i, j int) {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	})
	for _, sn := range snaps {
		s.Add("t", []models.Snapshot{sn})
	}

	got := s.GetAll("t")
	if len(got) != 168 {
		t.Fatalf("retained %d, want 168", len(got))
	}
	// The 168 newest are hours 12..179, ascending.
	for i, sn := range got {
		want := base.Add(time.Duration(12+i) * time.Hour)
		if !sn.Timestamp.Equal(want) {
			t.Fatalf("got[%d] = %v, want %v", i, sn.Timestamp, want)
		}
	}
}

func TestGetRecentOutOfOrderInsertion(t *testing.T) {
	s := New(0)
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	// 5 snapshots submitted out of chronological order.
	for _, h := range []int{3, 0, 4, 1, 2} {
		s.Add("t", []models.Snapshot{snapAt(base.Add(time.Duration(h) * time.Hour))})
	}

	got := s.GetRecent("t", 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, h := range []int{2, 3, 4} {
		want := base.Add(time.Duration(h) * time.Hour)
		if !got[i].Timestamp.Equal(want) {
			t.Errorf("got[%d] = %v, want %v", i, got[i].Timestamp, want)
		}
	}
}

func TestGetRecentNeverPads(t *testing.T) {
	s := New(0)

	if got := s.GetRecent("ghost", 5); len(got) != 0 {
		t.Errorf("unknown tenant returned %d entries", len(got))
	}

	s.Add("t", []models.Snapshot{snapAt(time.Now())})
	if got := s.GetRecent("t", 10); len(got) != 1 {
		t.Errorf("len = %d, want 1 (no padding)", len(got))
	}
	if got := s.GetRecent("t", 0); len(got) != 0 {
		t.Errorf("n=0 returned %d entries", len(got))
	}
}

func TestDuplicateTimestampsKept(t *testing.T) {
	s := New(0)
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	s.Add("t", []models.Snapshot{
		{Timestamp: ts, ActiveConnections: 1},
		{Timestamp: ts, ActiveConnections: 2},
	})

	got := s.GetAll("t")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (duplicates stored, not merged)", len(got))
	}
}

func TestDefaultTenantResolution(t *testing.T) {
	s := New(0)
	s.Add("", []models.Snapshot{snapAt(time.Now())})

	if got := s.GetAll(models.DefaultTenant); len(got) != 1 {
		t.Errorf("empty tenant id did not resolve to default tenant")
	}
	if got := s.GetRecent("", 1); len(got) != 1 {
		t.Errorf("GetRecent with empty tenant did not resolve to default")
	}
}

func TestClear(t *testing.T) {
	s := New(0)
	s.Add("t", []models.Snapshot{snapAt(time.Now())})
	s.Clear()
	if got := s.GetAll("t"); len(got) != 0 {
		t.Errorf("Clear left %d entries", len(got))
	}
}
