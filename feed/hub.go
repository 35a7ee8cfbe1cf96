// Package feed streams kernel events to websocket subscribers, one channel
// per event name.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/airswap/airswap-protocols-sub002/events"
)

const (
	// HeartbeatInterval is how often clients ping the hub.
	HeartbeatInterval = 30 * time.Second

	// ChannelAll subscribes to every event.
	ChannelAll = "*"

	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// WebSocket action types
const (
	ActionHeartbeat   = "HEARTBEAT"
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
)

// Request is sent by clients.
type Request struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// Message is sent by the hub for every event on a subscribed channel.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

var _ events.Sink = (*Hub)(nil)

// Hub is an events.Sink that broadcasts to websocket clients. Slow clients
// lose messages rather than stall settlement.
type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channel] || s.channels[ChannelAll]
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		log:     log.WithField("component", "feed"),
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and serves the subscriber until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sub := &subscriber{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Debug("subscriber read failed")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.WithError(err).Debug("ignoring malformed request")
			continue
		}
		switch req.Action {
		case ActionSubscribe:
			sub.mu.Lock()
			sub.channels[req.Channel] = true
			sub.mu.Unlock()
		case ActionUnsubscribe:
			sub.mu.Lock()
			delete(sub.channels, req.Channel)
			sub.mu.Unlock()
		case ActionHeartbeat:
		default:
			h.log.WithField("action", req.Action).Debug("ignoring unknown action")
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for data := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).Debug("subscriber write failed")
			_ = sub.conn.Close()
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}

// Emit broadcasts e to subscribers of its channel.
func (h *Hub) Emit(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.WithError(err).WithField("event", e.EventName()).Error("failed to marshal event")
		return
	}
	data, err := json.Marshal(Message{Channel: e.EventName(), Data: payload})
	if err != nil {
		h.log.WithError(err).Error("failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.clients {
		if !sub.wants(e.EventName()) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			h.log.WithField("event", e.EventName()).Warn("subscriber buffer full, dropping event")
		}
	}
}

// Subscribers counts clients subscribed to channel, directly or via
// ChannelAll.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.clients {
		if sub.wants(channel) {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closing"),
			time.Now().Add(time.Second))
		_ = sub.conn.Close()
	}
}
