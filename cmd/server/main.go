// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Command server runs the Connlens telemetry service: HTTP and optional
// NATS ingestion, geo enrichment, the live connection store with durable
// backing, and tenant-scoped WebSocket fan-out.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/connlens/connlens/internal/api"
	"github.com/connlens/connlens/internal/auth"
	"github.com/connlens/connlens/internal/config"
	"github.com/connlens/connlens/internal/enrich"
	"github.com/connlens/connlens/internal/fanout"
	"github.com/connlens/connlens/internal/geoip"
	"github.com/connlens/connlens/internal/ingest"
	"github.com/connlens/connlens/internal/logging"
	"github.com/connlens/connlens/internal/metricstore"
	"github.com/connlens/connlens/internal/natsingest"
	"github.com/connlens/connlens/internal/persist"
	"github.com/connlens/connlens/internal/pipeline"
	"github.com/connlens/connlens/internal/store"
	"github.com/connlens/connlens/internal/supervisor"
	"github.com/connlens/connlens/internal/websocket"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable storage.
	var adapter *persist.Adapter
	if cfg.Database.InMemory {
		adapter, err = persist.OpenInMemory()
	} else {
		adapter, err = persist.Open(cfg.Database.Path)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logging.Err(err).Msg("closing database")
		}
	}()

	// Geo lookup tables open lazily; a missing file degrades to misses.
	resolver := geoip.NewService(cfg.GeoIP.CityDBPath, cfg.GeoIP.ASNDBPath)
	defer resolver.Close()

	// Live state and fan-out.
	liveStore := store.New()
	snapshots := metricstore.New(cfg.Metrics.Retention)
	hub := websocket.NewHub()
	fo := fanout.NewManager(hub, liveStore, snapshots)

	// Ingestion pipeline.
	p := pipeline.New(
		ingest.NewNormalizer(),
		enrich.NewEnricher(resolver, cfg.GeoIP.LookupsPerSecond),
		adapter,
		fo,
	)

	// Rehydrate the live store from durable storage before serving.
	if n := cfg.Database.RehydrateLimit; n > 0 {
		records, err := adapter.LoadRecent(ctx, n)
		if err != nil {
			logging.Err(err).Msg("rehydration failed, starting empty")
		} else {
			// LoadRecent returns newest first; the store wants oldest
			// first so insertion order matches recency.
			for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
				records[i], records[j] = records[j], records[i]
			}
			liveStore.ResetFromRecords(records)
			logging.Info().Int("records", len(records)).Msg("live store rehydrated")
		}
	}

	// HTTP surface.
	handler := api.NewHandler(
		p, fo, liveStore, snapshots, adapter,
		auth.NewTenantResolver(cfg.Security.JWTSecret), hub,
	)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
		RateLimitDisabled:  cfg.Server.RateLimitDisabled,
	})

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(hub)
	if cfg.NATS.Enabled {
		tree.AddMessagingService(natsingest.NewService(cfg.NATS, p))
	}
	tree.AddAPIService(supervisor.NewHTTPServer(
		cfg.Server.Addr(), router, cfg.Server.Timeout, cfg.Server.ShutdownTimeout,
	))

	err = tree.Serve(ctx)

	// Let in-flight batches land in the store and on disk before exit.
	p.Wait()
	return err
}
