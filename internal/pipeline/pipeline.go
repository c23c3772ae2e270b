// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package pipeline drives a batch through
// normalize → enrich → persist-or-raw-fallback → broadcast.
//
// Submission is fire-and-forget: the producer's acknowledgment is sent
// before any of this runs, so no failure here ever reaches a producer. A
// failing enrichment path falls back to persisting the normalized batch
// raw with the enrichment flag forced false; if that fallback also fails
// the batch is lost and only logged. The in-memory store and durable
// storage are updated independently: a durable-write failure never rolls
// back what live viewers already see.
package pipeline

import (
	"context"
	"sync"

	"github.com/connlens/connlens/internal/enrich"
	"github.com/connlens/connlens/internal/fanout"
	"github.com/connlens/connlens/internal/ingest"
	"github.com/connlens/connlens/internal/logging"
	"github.com/connlens/connlens/internal/metrics"
	"github.com/connlens/connlens/internal/models"
)

// Persister is the durable-storage capability the pipeline needs.
type Persister interface {
	UpsertMany(ctx context.Context, records []models.Connection) (int, error)
}

// Pipeline wires the normalizer, enricher, persister and fan-out manager.
type Pipeline struct {
	normalizer *ingest.Normalizer
	enricher   *enrich.Enricher
	persister  Persister
	fanout     *fanout.Manager

	wg sync.WaitGroup
}

// New creates a Pipeline.
func New(normalizer *ingest.Normalizer, enricher *enrich.Enricher, persister Persister, fo *fanout.Manager) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		enricher:   enricher,
		persister:  persister,
		fanout:     fo,
	}
}

// Submit accepts a producer batch and returns the received count
// immediately. The batch is processed on a detached goroutine; its context
// is deliberately not the request's, which is already gone.
func (p *Pipeline) Submit(tenantID, reporterIP string, partials []models.Connection, source string) int {
	received := len(partials)
	if received == 0 {
		return 0
	}
	metrics.IngestedRecords.WithLabelValues(source).Add(float64(received))

	p.wg.Add(1)
	go p.run(tenantID, reporterIP, partials)
	return received
}

// Wait blocks until all in-flight batches finish. Used by tests and
// graceful shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(tenantID, reporterIP string, partials []models.Connection) {
	defer p.wg.Done()
	ctx := context.Background()

	normalized := p.normalizer.NormalizeBatch(partials, tenantID)

	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Interface("panic", r).
				Str("tenant", tenantID).
				Msg("pipeline panic, taking raw fallback")
			metrics.PipelineFallbacks.Inc()
			p.fallback(ctx, tenantID, normalized)
		}
	}()

	enriched, err := p.enricher.EnrichBatch(ctx, normalized, reporterIP)
	if err != nil {
		logging.Warn().Err(err).
			Str("tenant", tenantID).
			Int("records", len(normalized)).
			Msg("enrichment failed, taking raw fallback")
		metrics.PipelineFallbacks.Inc()
		p.fallback(ctx, tenantID, normalized)
		return
	}
	countEnrichmentOutcomes(enriched)

	if n, err := p.persister.UpsertMany(ctx, enriched); err != nil {
		// Durable storage catches up on its own; the live store still
		// gets the update below.
		logging.Err(err).
			Str("tenant", tenantID).
			Int("records", len(enriched)).
			Msg("durable persistence failed")
		metrics.PersistFailures.Inc()
	} else {
		metrics.PersistedRecords.Add(float64(n))
	}

	p.fanout.PublishUpsert(tenantID, enriched)
}

// fallback writes the normalized batch raw, with the enrichment flag
// forced false. A failure here is terminal for the batch: there is no
// retry queue and no caller left waiting to observe it.
func (p *Pipeline) fallback(ctx context.Context, tenantID string, normalized []models.Connection) {
	for i := range normalized {
		normalized[i].Enriched = false
	}

	n, err := p.persister.UpsertMany(ctx, normalized)
	if err != nil {
		logging.Error().Err(err).
			Str("tenant", tenantID).
			Int("records", len(normalized)).
			Msg("raw fallback persistence failed, batch lost")
		metrics.PipelineFailures.Inc()
		return
	}
	metrics.PersistedRecords.Add(float64(n))

	p.fanout.PublishUpsert(tenantID, normalized)
}

func countEnrichmentOutcomes(records []models.Connection) {
	for i := range records {
		if records[i].Enriched {
			metrics.EnrichedRecords.WithLabelValues("enriched").Inc()
		} else {
			metrics.EnrichedRecords.WithLabelValues("miss").Inc()
		}
	}
}
