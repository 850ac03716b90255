package network

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/stface-relay/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// SampleSubmitter is the part of the relay a client feeds.
type SampleSubmitter interface {
	Submit(ctx context.Context, payload map[string]interface{}) relay.Outcome
}

// InboundMessage is a command sent by a sampler over the WebSocket.
type InboundMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Client object to hold connection status. Keeps a Hub ref to allow unregister.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	submitter  SampleSubmitter
	minGap     time.Duration
	lastSample time.Time
}

// NewClient creates a new WebSocket client. maxSamplesPerSecond <= 0 disables
// rate limiting of inbound samples.
func NewClient(hub *Hub, conn *websocket.Conn, submitter SampleSubmitter, maxSamplesPerSecond int) *Client {
	var gap time.Duration
	if maxSamplesPerSecond > 0 {
		gap = time.Second / time.Duration(maxSamplesPerSecond)
	}
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, hub.sendBuffer),
		submitter: submitter,
		minGap:    gap,
	}
}

// Register adds the client to the hub. It reports false once the hub has stopped.
func (c *Client) Register() bool {
	select {
	case c.hub.register <- c:
		return true
	case <-c.hub.done:
		return false
	}
}

// ReadPump pumps messages from the websocket connection to the relay.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read failed", err)
				c.hub.metrics.RecordWSError()
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var msg InboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Failed to parse WebSocket message: " + err.Error())
			c.hub.metrics.RecordWSError()
			c.reply(MsgTypeError, map[string]string{"error": "invalid json"})
			continue
		}

		c.handleMessage(ctx, msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg InboundMessage) {
	switch msg.Type {
	case MsgTypeHealthSample:
		if c.submitter == nil {
			c.reply(MsgTypeError, map[string]string{"error": "read-only connection"})
			return
		}
		if c.minGap > 0 && time.Since(c.lastSample) < c.minGap {
			c.hub.logger.Debug("Sample rate limit exceeded, dropping sample")
			return
		}
		c.lastSample = time.Now()

		if msg.Payload == nil {
			msg.Payload = map[string]interface{}{}
		}
		out := c.submitter.Submit(ctx, msg.Payload)
		c.reply(MsgTypeSampleAck, map[string]interface{}{
			"held":  out.Held(),
			"state": out.State,
		})
	default:
		c.hub.logger.Warn("Ignoring WebSocket message type: " + msg.Type)
	}
}

// reply queues a message for this client only. It gives up when the queue
// is full so the read loop never blocks on a slow writer.
func (c *Client) reply(msgType string, payload interface{}) {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		return
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
		c.hub.metrics.RecordWSMessage(false)
	default:
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
