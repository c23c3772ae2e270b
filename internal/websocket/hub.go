// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package websocket implements the real-time subscriber transport: a hub
// of connected viewers organized into tenant-scoped rooms with optional
// per-feature sub-rooms (connections, statistics, flows). The hub exposes
// the subscriber-count capability the fan-out manager uses to skip
// derivation work for idle tenants.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/connlens/connlens/internal/logging"
	"github.com/connlens/connlens/internal/metrics"
)

// Message types emitted to subscribers.
const (
	MessageTypeBatchSnapshot = "batch_snapshot"
	MessageTypeCreated       = "created"
	MessageTypeUpdated       = "updated"
	MessageTypeRemoved       = "removed"
	MessageTypeStatistics    = "statistics_updated"
	MessageTypeFlows         = "flows_updated"
	MessageTypeError         = "error"

	// Client-originated types.
	MessageTypeJoin = "join"
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Feature sub-rooms a subscriber can join in addition to the tenant's
// connections feed.
const (
	FeatureConnections = "connections"
	FeatureStatistics  = "statistics"
	FeatureFlows       = "flows"
)

// Room builds the room name for a tenant's feature sub-group.
func Room(tenantID, feature string) string {
	return tenantID + "/" + feature
}

// Message is one event sent to subscribers.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type roomMessage struct {
	room string
	msg  Message
}

// Hub maintains the set of active clients, their room membership, and
// broadcasts messages to room members.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool
	members map[*Client]map[string]bool

	broadcast  chan roomMessage
	Register   chan *Client
	Unregister chan *Client
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		members:    make(map[*Client]map[string]bool),
		broadcast:  make(chan roomMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the hub event loop until the context is canceled. Implements
// suture.Service so the hub can run supervised.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().
				Str("component", "websocket-hub").
				Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.unregister(client)

		case rm := <-h.broadcast:
			h.broadcastToRoom(rm.room, rm.msg)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.members[client] = make(map[string]bool)
	h.mu.Unlock()
	metrics.TrackWSClient(true)

	// Every viewer watches the connections feed of its tenant.
	h.Join(client, Room(client.tenantID, FeatureConnections))

	logging.Info().
		Str("tenant", client.tenantID).
		Int("total_clients", h.ClientCount()).
		Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if rooms, ok := h.members[client]; ok {
		for room := range rooms {
			h.leaveLocked(client, room)
		}
		delete(h.members, client)
		close(client.send)
		metrics.TrackWSClient(false)
	}
	h.mu.Unlock()

	logging.Info().
		Str("tenant", client.tenantID).
		Int("total_clients", h.ClientCount()).
		Msg("websocket client disconnected")
}

// Join adds the client to the given rooms.
func (h *Hub) Join(client *Client, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	member, ok := h.members[client]
	if !ok {
		return
	}
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]bool)
		}
		h.rooms[room][client] = true
		member[room] = true
	}
}

// Leave removes the client from the given rooms.
func (h *Hub) Leave(client *Client, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		h.leaveLocked(client, room)
	}
}

func (h *Hub) leaveLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if member, ok := h.members[client]; ok {
		delete(member, room)
	}
}

// Count returns the number of subscribers in a room. The fan-out manager
// calls this before deriving statistics or flows.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Publish queues a message for all subscribers of a room. Never blocks;
// when the broadcast queue is full the message is dropped with a warning.
func (h *Hub) Publish(room string, msg Message) {
	select {
	case h.broadcast <- roomMessage{room: room, msg: msg}:
	default:
		logging.Warn().
			Str("room", room).
			Str("message_type", msg.Type).
			Msg("broadcast channel full, dropping message")
	}
}

// broadcastToRoom delivers a message to room members in deterministic
// (client id) order. Slow clients whose send buffer is full are dropped.
func (h *Hub) broadcastToRoom(room string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	if len(members) == 0 {
		return
	}

	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		if member, ok := h.members[client]; ok {
			for r := range member {
				h.leaveLocked(client, r)
			}
			delete(h.members, client)
			close(client.send)
			metrics.TrackWSClient(false)
		}
		logging.Warn().
			Str("tenant", client.tenantID).
			Msg("dropping slow websocket client")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.members))
	for client := range h.members {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		for room := range h.members[client] {
			h.leaveLocked(client, room)
		}
		delete(h.members, client)
		close(client.send)
		metrics.TrackWSClient(false)
	}
}
