// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/connlens/connlens/internal/enrich"
	"github.com/connlens/connlens/internal/fanout"
	"github.com/connlens/connlens/internal/geoip"
	"github.com/connlens/connlens/internal/ingest"
	"github.com/connlens/connlens/internal/metricstore"
	"github.com/connlens/connlens/internal/models"
	"github.com/connlens/connlens/internal/store"
	"github.com/connlens/connlens/internal/websocket"
)

// fakeResolver resolves from a fixed table; an optional gate blocks every
// lookup until released, letting tests observe the fire-and-forget window.
type fakeResolver struct {
	table map[string]geoip.Info
	err   error
	gate  chan struct{}
}

func (f *fakeResolver) Lookup(ip string) (geoip.Info, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return geoip.Info{}, f.err
	}
	return f.table[ip], nil
}

// fakePersister records batches and can be made to fail.
type fakePersister struct {
	mu      sync.Mutex
	batches [][]models.Connection
	err     error
}

func (f *fakePersister) UpsertMany(_ context.Context, records []models.Connection) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	batch := make([]models.Connection, len(records))
	copy(batch, records)
	f.batches = append(f.batches, batch)
	return len(records), nil
}

func (f *fakePersister) all() []models.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Connection
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// nullHub satisfies fanout.Broadcaster with no subscribers anywhere.
type nullHub struct{}

func (nullHub) Publish(string, websocket.Message) {}
func (nullHub) Count(string) int                  { return 0 }

func newTestPipeline(resolver geoip.Resolver, persister Persister) (*Pipeline, *store.Store) {
	st := store.New()
	fo := fanout.NewManager(nullHub{}, st, metricstore.New(0))
	p := New(ingest.NewNormalizer(), enrich.NewEnricher(resolver, 0), persister, fo)
	return p, st
}

func TestSubmitHappyPath(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"8.8.8.8": {Country: "United States", CountryCode: "US"},
	}}
	persister := &fakePersister{}
	p, st := newTestPipeline(resolver, persister)

	received := p.Submit("", "", []models.Connection{
		{ID: "a", SourceIP: "8.8.8.8"},
		{ID: "b", SourceIP: "192.168.0.4"},
	}, "http")
	if received != 2 {
		t.Fatalf("received = %d, want 2", received)
	}
	p.Wait()

	// Both records land in the default tenant's store.
	if st.Len(models.DefaultTenant) != 2 {
		t.Fatalf("store len = %d, want 2", st.Len(models.DefaultTenant))
	}
	a, _ := st.Get(models.DefaultTenant, "a")
	if !a.Enriched || a.Country != "United States" {
		t.Errorf("record a not enriched: %+v", a)
	}
	b, _ := st.Get(models.DefaultTenant, "b")
	if b.Enriched {
		t.Errorf("record b should not be enriched: %+v", b)
	}

	if len(persister.all()) != 2 {
		t.Errorf("persisted %d records, want 2", len(persister.all()))
	}
}

func TestSubmitReturnsBeforePipelineCompletes(t *testing.T) {
	gate := make(chan struct{})
	resolver := &fakeResolver{gate: gate, table: map[string]geoip.Info{}}
	persister := &fakePersister{}
	p, st := newTestPipeline(resolver, persister)

	received := p.Submit("acme", "", []models.Connection{{ID: "a", SourceIP: "8.8.8.8"}}, "http")
	if received != 1 {
		t.Fatalf("received = %d, want 1", received)
	}

	// The ack is back while enrichment is still blocked on the gate.
	if st.Len("acme") != 0 {
		t.Error("store updated before enrichment completed")
	}

	close(gate)
	p.Wait()
	if st.Len("acme") != 1 {
		t.Error("store not updated after pipeline completed")
	}
}

func TestEnrichmentFailureTakesRawFallback(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("tables unavailable")}
	persister := &fakePersister{}
	p, st := newTestPipeline(resolver, persister)

	p.Submit("acme", "", []models.Connection{{ID: "a", SourceIP: "8.8.8.8", Country: "Atlantis"}}, "http")
	p.Wait()

	persisted := persister.all()
	if len(persisted) != 1 {
		t.Fatalf("persisted %d records, want 1 (raw fallback)", len(persisted))
	}
	if persisted[0].Enriched {
		t.Error("fallback record has enrichment flag set")
	}
	// Producer-supplied fields survive the fallback untouched.
	if persisted[0].Country != "Atlantis" {
		t.Errorf("producer field lost on fallback: %q", persisted[0].Country)
	}
	// The raw batch is still broadcast and visible to viewers.
	if st.Len("acme") != 1 {
		t.Error("store not updated on fallback path")
	}
}

func TestDoubleFailureIsTerminal(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("tables unavailable")}
	persister := &fakePersister{err: errors.New("disk full")}
	p, st := newTestPipeline(resolver, persister)

	p.Submit("acme", "", []models.Connection{{ID: "a", SourceIP: "8.8.8.8"}}, "http")
	p.Wait()

	// Batch lost: nothing persisted, nothing in the live store.
	if st.Len("acme") != 0 {
		t.Error("store updated after terminal double failure")
	}
}

func TestPersistFailureDoesNotBlockLiveStore(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{}}
	persister := &fakePersister{err: errors.New("disk full")}
	p, st := newTestPipeline(resolver, persister)

	p.Submit("acme", "", []models.Connection{{ID: "a", SourceIP: "192.168.0.1"}}, "http")
	p.Wait()

	if st.Len("acme") != 1 {
		t.Error("live store must reflect the update despite persistence failure")
	}
}

func TestSubmitEmptyBatch(t *testing.T) {
	p, _ := newTestPipeline(&fakeResolver{}, &fakePersister{})
	if got := p.Submit("acme", "", nil, "http"); got != 0 {
		t.Errorf("received = %d, want 0", got)
	}
	p.Wait()
}

func TestReporterIPFallbackFlowsThrough(t *testing.T) {
	resolver := &fakeResolver{table: map[string]geoip.Info{
		"198.51.100.9": {Country: "Germany"},
	}}
	p, st := newTestPipeline(resolver, &fakePersister{})

	p.Submit("acme", "198.51.100.9", []models.Connection{{ID: "a", SourceIP: "10.0.0.8"}}, "http")
	p.Wait()

	got, _ := st.Get("acme", "a")
	if got.Country != "Germany" {
		t.Errorf("country = %q, want Germany via reporter IP", got.Country)
	}
	if !got.Enriched {
		t.Error("enriched flag not set")
	}
}
