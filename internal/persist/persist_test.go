// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package persist

import (
	"context"
	"testing"
	"time"

	"github.com/connlens/connlens/internal/models"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestUpsertManyEmptyShortCircuits(t *testing.T) {
	a := newTestAdapter(t)

	count, err := a.UpsertMany(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestUpsertManyAndLoadRecent(t *testing.T) {
	a := newTestAdapter(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	records := []models.Connection{
		{ID: "old", TenantID: "t", LastActivity: base.Add(-2 * time.Hour)},
		{ID: "mid", TenantID: "t", LastActivity: base.Add(-1 * time.Hour)},
		{ID: "new", TenantID: "t", LastActivity: base},
	}
	count, err := a.UpsertMany(context.Background(), records)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	got, err := a.LoadRecent(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("order = %q, %q; want new, mid (last-activity descending)", got[0].ID, got[1].ID)
	}
}

func TestUpsertManyIsUpsert(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.UpsertMany(ctx, []models.Connection{{ID: "c1", TenantID: "t", BytesIn: 1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.UpsertMany(ctx, []models.Connection{{ID: "c1", TenantID: "t", BytesIn: 2}}); err != nil {
		t.Fatal(err)
	}

	got, err := a.LoadRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (same key overwritten)", len(got))
	}
	if got[0].BytesIn != 2 {
		t.Errorf("BytesIn = %d, want 2", got[0].BytesIn)
	}
}

func TestUpsertManyZeroTimestampsFallBackToNow(t *testing.T) {
	a := newTestAdapter(t)
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	if _, err := a.UpsertMany(context.Background(), []models.Connection{{ID: "c1", TenantID: "t"}}); err != nil {
		t.Fatal(err)
	}

	got, err := a.LoadRecent(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatal("record not persisted")
	}
	if !got[0].StartedAt.Equal(fixed) || !got[0].LastActivity.Equal(fixed) {
		t.Errorf("timestamps = %v / %v, want %v", got[0].StartedAt, got[0].LastActivity, fixed)
	}
}

func TestDelete(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.UpsertMany(ctx, []models.Connection{{ID: "c1", TenantID: "t"}}); err != nil {
		t.Fatal(err)
	}
	if err := a.Delete(ctx, "t", "c1"); err != nil {
		t.Fatal(err)
	}

	got, err := a.LoadRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d after delete, want 0", len(got))
	}
}

func TestUpsertManyResolvesEmptyTenant(t *testing.T) {
	a := newTestAdapter(t)

	if _, err := a.UpsertMany(context.Background(), []models.Connection{{ID: "c1"}}); err != nil {
		t.Fatal(err)
	}
	got, err := a.LoadRecent(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TenantID != models.DefaultTenant {
		t.Errorf("persisted tenant = %+v, want default", got)
	}
}
