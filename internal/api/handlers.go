// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/connlens/connlens/internal/auth"
	"github.com/connlens/connlens/internal/fanout"
	"github.com/connlens/connlens/internal/logging"
	"github.com/connlens/connlens/internal/metrics"
	"github.com/connlens/connlens/internal/metricstore"
	"github.com/connlens/connlens/internal/models"
	"github.com/connlens/connlens/internal/store"
	"github.com/connlens/connlens/internal/websocket"
)

// defaultListLimit caps list responses when the client does not ask for
// a limit.
const defaultListLimit = 500

// Ingestor accepts a telemetry batch and acknowledges with the received
// count before any processing happens.
type Ingestor interface {
	Submit(tenantID, reporterIP string, partials []models.Connection, source string) int
}

// Deleter removes a record from durable storage.
type Deleter interface {
	Delete(ctx context.Context, tenantID, id string) error
}

// Handler holds the dependencies of every HTTP endpoint.
type Handler struct {
	ingestor  Ingestor
	fanout    *fanout.Manager
	store     *store.Store
	snapshots *metricstore.Store
	deleter   Deleter
	resolver  *auth.TenantResolver
	hub       *websocket.Hub
	upgrader  gorilla.Upgrader
}

// NewHandler creates the API handler.
func NewHandler(ingestor Ingestor, fo *fanout.Manager, st *store.Store, snapshots *metricstore.Store, deleter Deleter, resolver *auth.TenantResolver, hub *websocket.Hub) *Handler {
	return &Handler{
		ingestor:  ingestor,
		fanout:    fo,
		store:     st,
		snapshots: snapshots,
		deleter:   deleter,
		resolver:  resolver,
		hub:       hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origins are enforced by the CORS layer; agents
			// connect without an Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// tenant resolves the request's tenant or writes the 401 itself.
func (h *Handler) tenant(rw *ResponseWriter, r *http.Request) (string, bool) {
	tenant, err := h.resolver.Resolve(r)
	if err != nil {
		rw.Unauthorized(err.Error())
		return "", false
	}
	return tenant, true
}

// ingestAck is the ingestion acknowledgment payload.
type ingestAck struct {
	Received int `json:"received"`
}

// IngestConnections handles POST /api/v1/connections. The body is a JSON
// array of connection records. The 202 acknowledgment carries only the
// received count and is written before the batch enters the pipeline;
// enrichment or persistence failures never surface here.
func (h *Handler) IngestConnections(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}

	// Only the envelope itself can be rejected. Wrong-typed fields inside
	// a record are coerced, never bounced back to the producer.
	var raws []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		rw.BadRequest("request body must be a JSON array of connection records")
		return
	}

	partials := make([]models.Connection, len(raws))
	for i, raw := range raws {
		partials[i] = decodeRecord(raw)
	}

	rw.Accepted(ingestAck{Received: len(partials)})
	h.ingestor.Submit(tenant, reporterIP(r), partials, "http")
}

// ListConnections handles GET /api/v1/connections, most recent first.
// ?limit=n bounds the response.
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	records := h.store.ListForTenant(tenant)
	if len(records) > limit {
		records = records[:limit]
	}
	rw.Success(records)
}

// DeleteConnection handles DELETE /api/v1/connections/{id}: removes the
// record from the live store, broadcasts the removal and deletes the
// durable copy.
func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		rw.BadRequest("connection id required")
		return
	}

	if !h.fanout.PublishRemoval(tenant, id) {
		rw.NotFound("connection not found")
		return
	}
	if err := h.deleter.Delete(r.Context(), tenant, id); err != nil {
		// Live removal already happened and was broadcast; the durable
		// copy gets cleaned up on the next rehydration cycle.
		logging.Err(err).Str("tenant", tenant).Str("id", id).Msg("durable delete failed")
		metrics.PersistFailures.Inc()
	}
	rw.Success(map[string]string{"id": id})
}

// IngestMetrics handles POST /api/v1/metrics: a JSON array of snapshots
// appended to the tenant's bounded time series.
func (h *Handler) IngestMetrics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}

	var snapshots []models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshots); err != nil {
		rw.BadRequest("request body must be a JSON array of metric snapshots")
		return
	}
	for i := range snapshots {
		snapshots[i].TenantID = tenant
	}

	h.snapshots.Add(tenant, snapshots)
	rw.Accepted(ingestAck{Received: len(snapshots)})
}

// GetMetrics handles GET /api/v1/metrics?limit=n: the tenant's retained
// snapshots, ascending by timestamp.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r, metricstore.DefaultRetention)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	rw.Success(h.snapshots.GetRecent(tenant, limit))
}

// GetStatistics handles GET /api/v1/statistics: the derived aggregate
// view, computed on demand regardless of subscriber gating.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}
	rw.Success(h.fanout.Statistics(tenant))
}

// GetFlows handles GET /api/v1/flows: the derived traffic-flow view.
func (h *Handler) GetFlows(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tenant, ok := h.tenant(rw, r)
	if !ok {
		return
	}
	rw.Success(h.fanout.Flows(tenant))
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// WebSocket handles GET /ws: upgrades, registers the client in its
// tenant's connections room and sends the batch snapshot of the tenant's
// live records as the first event.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.resolver.Resolve(r)
	if err != nil {
		NewResponseWriter(w, r).Unauthorized(err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, tenant)
	h.hub.Register <- client

	client.Send(websocket.Message{
		Type: websocket.MessageTypeBatchSnapshot,
		Data: h.fanout.Snapshot(tenant),
	})
	client.Start()
}

// decodeRecord decodes one producer-supplied record. A record that fails
// the strict decode is re-read field by field; fields that do not parse
// are left zero so the normalizer's defaults apply. A non-object element
// yields the zero record.
func decodeRecord(raw json.RawMessage) models.Connection {
	var conn models.Connection
	if err := json.Unmarshal(raw, &conn); err == nil {
		return conn
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Connection{}
	}

	conn = models.Connection{}
	targets := map[string]interface{}{
		"tenant_id":        &conn.TenantID,
		"id":               &conn.ID,
		"source_ip":        &conn.SourceIP,
		"source_port":      &conn.SourcePort,
		"destination_ip":   &conn.DestinationIP,
		"destination_port": &conn.DestinationPort,
		"protocol":         &conn.Protocol,
		"status":           &conn.Status,
		"enriched":         &conn.Enriched,
		"country":          &conn.Country,
		"country_code":     &conn.CountryCode,
		"city":             &conn.City,
		"latitude":         &conn.Latitude,
		"longitude":        &conn.Longitude,
		"asn":              &conn.ASN,
		"as_organization":  &conn.ASOrganization,
		"dst_country":      &conn.DstCountry,
		"dst_country_code": &conn.DstCountryCode,
		"dst_city":         &conn.DstCity,
		"dst_latitude":     &conn.DstLatitude,
		"dst_longitude":    &conn.DstLongitude,
		"bytes_in":         &conn.BytesIn,
		"bytes_out":        &conn.BytesOut,
		"packets_in":       &conn.PacketsIn,
		"packets_out":      &conn.PacketsOut,
		"bandwidth":        &conn.Bandwidth,
		"started_at":       &conn.StartedAt,
		"last_activity":    &conn.LastActivity,
		"duration":         &conn.Duration,
	}
	for key, val := range fields {
		if target, ok := targets[key]; ok {
			// Per-field failures are the coercion point: the zero value
			// stands in and the normalizer fills it.
			_ = json.Unmarshal(val, target)
		}
	}
	return conn
}

// parseLimit reads ?limit, defaulting when absent. Zero or negative
// limits are rejected.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

// reporterIP is the submitting agent's address: the first entry of
// X-Forwarded-For when present, otherwise the connection's remote host.
func reporterIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			first = fwd[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
