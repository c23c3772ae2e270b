// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package natsingest consumes telemetry batches from a NATS JetStream
// topic and feeds them into the ingestion pipeline. It is an optional
// second ingestion path next to HTTP, for agents that publish to a bus
// instead of calling the API.
package natsingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/connlens/connlens/internal/config"
	"github.com/connlens/connlens/internal/logging"
	"github.com/connlens/connlens/internal/models"
)

// Ingestor accepts a telemetry batch for processing.
type Ingestor interface {
	Submit(tenantID, reporterIP string, partials []models.Connection, source string) int
}

// batchEnvelope is the wire format of one published batch.
type batchEnvelope struct {
	TenantID    string              `json:"tenant_id"`
	ReporterIP  string              `json:"reporter_ip"`
	Connections []models.Connection `json:"connections"`
}

// Service subscribes to the configured topic and submits every decoded
// batch. It is run under the supervision tree; Serve blocks until the
// context is canceled.
type Service struct {
	cfg      config.NATSConfig
	ingestor Ingestor
	embedded *EmbeddedServer
}

// NewService creates the NATS ingestion service.
func NewService(cfg config.NATSConfig, ingestor Ingestor) *Service {
	return &Service{cfg: cfg, ingestor: ingestor}
}

// Serve starts the optional embedded server, subscribes and consumes
// until ctx is canceled.
func (s *Service) Serve(ctx context.Context) error {
	url := s.cfg.URL
	if s.cfg.EmbeddedServer {
		embedded, err := NewEmbeddedServer(s.cfg.StoreDir)
		if err != nil {
			return fmt.Errorf("starting embedded NATS server: %w", err)
		}
		s.embedded = embedded
		url = embedded.ClientURL()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Err(err).Msg("embedded NATS shutdown")
			}
		}()
	}

	subscriber, err := newSubscriber(url, s.cfg, newWatermillLogger())
	if err != nil {
		return fmt.Errorf("creating NATS subscriber: %w", err)
	}
	defer subscriber.Close()

	messages, err := subscriber.Subscribe(ctx, s.cfg.Topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.cfg.Topic, err)
	}

	logging.Info().Str("topic", s.cfg.Topic).Str("url", url).Msg("NATS ingestion started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handleMessage(msg)
		}
	}
}

// handleMessage decodes and submits one batch. Malformed payloads are
// acked and dropped: redelivery cannot fix them and the producer is not
// waiting for an answer.
func (s *Service) handleMessage(msg *message.Message) {
	var envelope batchEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed batch")
		msg.Ack()
		return
	}

	s.ingestor.Submit(envelope.TenantID, envelope.ReporterIP, envelope.Connections, "nats")
	msg.Ack()
}

