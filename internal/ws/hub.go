// Package ws fans domain events out to connected dashboard clients over
// websocket, addressed by named channels.
package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"banjir.dev/floodwatch/pkg/metrics"
)

// Envelope is the JSON frame every broadcast rides in.
type Envelope struct {
	Event     string    `json:"event"`
	Channel   string    `json:"channel"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"ts"`
}

// Hub maintains the set of active clients and routes published messages to
// the clients subscribed to each channel. Every client implicitly receives
// the global "notifications" channel.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.MonitorMetrics // optional

	mu      sync.RWMutex
	clients map[*Client]map[string]bool

	register   chan *Client
	unregister chan *Client
	outbound   chan outboundMessage
	done       chan struct{}
}

type outboundMessage struct {
	channel string
	frame   []byte
}

// NewHub creates a Hub. Call Run in a goroutine before publishing.
func NewHub(logger *slog.Logger, m *metrics.MonitorMetrics) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    m,
		clients:    make(map[*Client]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan outboundMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = client.subscriptions
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ClientsConnected.Inc()
			}
			h.logger.Debug("websocket client registered", "channels", client.channelList())

		case client := <-h.unregister:
			h.dropClient(client)

		case msg := <-h.outbound:
			h.deliver(msg)
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish wraps payload in an envelope and queues it for every client
// subscribed to the channel. Slow hub consumers never block the caller.
func (h *Hub) Publish(channel, event string, payload any) {
	frame, err := json.Marshal(Envelope{
		Event:     event,
		Channel:   channel,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "channel", channel, "event", event, "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.BroadcastsTotal.WithLabelValues(channelKind(channel)).Inc()
	}

	select {
	case h.outbound <- outboundMessage{channel: channel, frame: frame}:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(msg outboundMessage) {
	h.mu.RLock()
	var stalled []*Client
	for client, subs := range h.clients {
		if msg.channel != GlobalChannel && !subs[msg.channel] {
			continue
		}
		select {
		case client.send <- msg.frame:
		default:
			// Client cannot keep up; drop it rather than block the hub.
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		h.logger.Warn("dropping slow websocket client")
		h.dropClient(client)
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		if h.metrics != nil {
			h.metrics.ClientsConnected.Dec()
		}
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// GlobalChannel is delivered to every connected client regardless of
// subscriptions.
const GlobalChannel = "notifications"

func channelKind(channel string) string {
	switch {
	case strings.HasPrefix(channel, "device:"):
		return "device"
	case strings.HasPrefix(channel, "location:"):
		return "location"
	default:
		return "global"
	}
}
