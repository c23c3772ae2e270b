// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/connlens/connlens/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB; viewers only send small control frames
)

// clientIDCounter assigns monotonically increasing ids so broadcast order
// is deterministic.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
// Each client is pinned to a single tenant at upgrade time.
type Client struct {
	id       uint64
	hub      *Hub
	conn     *websocket.Conn
	send     chan Message
	tenantID string
}

// NewClient creates a Client for the given tenant.
func NewClient(hub *Hub, conn *websocket.Conn, tenantID string) *Client {
	return &Client{
		id:       clientIDCounter.Add(1),
		hub:      hub,
		conn:     conn,
		send:     make(chan Message, 256),
		tenantID: tenantID,
	}
}

// TenantID returns the tenant this client is scoped to.
func (c *Client) TenantID() string {
	return c.tenantID
}

// Send queues a message directly to this client (used for the one-off
// batch snapshot on join). Returns false if the client's buffer is full.
func (c *Client) Send(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// joinRequest is the payload of a client's join message, selecting which
// feature sub-rooms to subscribe to.
type joinRequest struct {
	Features []string `json:"features"`
}

// readPump pumps control messages from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg struct {
			Type string      `json:"type"`
			Data joinRequest `json:"data"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Err(err).Msg("unexpected websocket close")
			}
			break
		}

		switch msg.Type {
		case MessageTypeJoin:
			c.handleJoin(msg.Data)
		case MessageTypePing:
			c.Send(Message{Type: MessageTypePong})
		}
	}
}

// handleJoin subscribes the client to the requested feature sub-rooms of
// its own tenant. Unknown features produce an error event rather than a
// disconnect.
func (c *Client) handleJoin(req joinRequest) {
	for _, feature := range req.Features {
		switch feature {
		case FeatureConnections, FeatureStatistics, FeatureFlows:
			c.hub.Join(c, Room(c.tenantID, feature))
		default:
			c.Send(Message{
				Type: MessageTypeError,
				Data: ErrorData{Message: "unknown feature: " + feature, Code: "UNKNOWN_FEATURE"},
			})
		}
	}
}

// writePump pumps messages from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
