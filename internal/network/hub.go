// Package network carries face state to display clients.
// It hosts the WebSocket hub, the HTTP relay endpoints and the overlay page.
package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/events"
	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
	"github.com/MRamiBalles/stface-relay/internal/platform/metrics"
	"github.com/MRamiBalles/stface-relay/internal/relay"
)

// Message types exchanged over the WebSocket.
const (
	MsgTypeFaceState    = "FACE_STATE"
	MsgTypeTickEvent    = "TICK_EVENT"
	MsgTypeHealthSample = "HEALTH_SAMPLE"
	MsgTypeSampleAck    = "SAMPLE_ACK"
	MsgTypeError        = "ERROR"
)

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *logger.Logger
	metrics    *metrics.Collector

	sendBuffer int
	maxClients int
}

// NewHub initializes a new WebSocket Hub. broadcastBuffer and sendBuffer
// size the hub and per-client queues; maxClients <= 0 means unlimited.
func NewHub(log *logger.Logger, m *metrics.Collector, broadcastBuffer, sendBuffer, maxClients int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     log,
		metrics:    m,
		sendBuffer: sendBuffer,
		maxClients: maxClients,
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			close(h.done)
			h.logger.Info("WebSocket hub shutting down")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Debug("WebSocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWSConnection(-1)
				h.logger.Debug("WebSocket client disconnected")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.metrics.RecordWSMessage(false)
				default:
					// Slow display client: drop it rather than stall the rest.
					close(client.send)
					delete(h.clients, client)
					h.metrics.RecordWSConnection(-1)
					h.metrics.RecordWSError()
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Full reports whether the client limit is reached.
func (h *Hub) Full() bool {
	return h.maxClients > 0 && h.ClientCount() >= h.maxClients
}

// Broadcast serializes a message and queues it for every client.
// It never blocks the caller: when the hub queue is full the message is dropped.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		h.logger.Error("Failed to serialize message for WebSocket broadcast", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("WebSocket broadcast queue full, dropping " + msgType)
		h.metrics.RecordWSError()
	}
}

// BroadcastSnapshot pushes a face state to every display client.
func (h *Hub) BroadcastSnapshot(snap relay.Snapshot) {
	h.Broadcast(MsgTypeFaceState, snap)
}

// StartTickPoller spawns a goroutine that polls the tick log and pushes new
// events to the Hub, so debug clients can follow the audit trail live.
func (h *Hub) StartTickPoller(ctx context.Context, tickLog *events.TickLog, interval time.Duration) {
	go func() {
		pollInterval := time.NewTicker(interval)
		defer pollInterval.Stop()

		lastProcessed := tickLog.Len()

		for {
			select {
			case <-ctx.Done():
				return
			case <-pollInterval.C:
				var newEvents []events.TickEvent
				newEvents, lastProcessed = tickLog.Tail(lastProcessed)
				for _, event := range newEvents {
					h.Broadcast(MsgTypeTickEvent, event)
				}
			}
		}
	}()
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
}
