package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect settings
const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// MessageHandler is called for every message received from the hub
type MessageHandler func(Message)

// ErrorHandler is called for read, heartbeat and reconnect failures
type ErrorHandler func(err error)

// ClientConfig holds configuration for the feed client
type ClientConfig struct {
	Endpoint             string
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	OnMessage            MessageHandler
	OnError              ErrorHandler
	OnConnect            func()
	OnDisconnect         func()
}

// Client follows a hub, resubscribing to its channels after reconnecting
type Client struct {
	config ClientConfig

	mu               sync.RWMutex
	conn             *websocket.Conn
	isConnected      bool
	closed           bool
	parent           context.Context
	cancel           context.CancelFunc
	heartbeatTicker  *time.Ticker
	reconnectAttempt int
	writeMu          sync.Mutex

	subMu         sync.RWMutex
	subscriptions map[string]struct{}
}

// NewClient creates a client for the hub at config.Endpoint
func NewClient(config ClientConfig) *Client {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = HeartbeatInterval
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return &Client{
		config:        config,
		subscriptions: make(map[string]struct{}),
	}
}

// Connect dials the hub. ctx bounds the life of the client, including
// reconnects.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	c.parent = ctx
	return c.connect()
}

// connect must be called with mu held
func (c *Client) connect() error {
	if c.isConnected {
		return nil
	}

	ctx, cancel := context.WithCancel(c.parent)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.Endpoint, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to feed: %w", err)
	}

	c.cancel = cancel
	c.conn = conn
	c.isConnected = true
	c.reconnectAttempt = 0

	c.startHeartbeat(ctx)
	go c.readLoop(ctx, conn)

	if c.config.OnConnect != nil {
		go c.config.OnConnect()
	}
	return nil
}

// Disconnect closes the connection and stops reconnecting
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if !c.isConnected {
		if c.cancel != nil {
			c.cancel()
		}
		return nil
	}
	c.isConnected = false
	c.cancel()
	if c.heartbeatTicker != nil {
		c.heartbeatTicker.Stop()
	}

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.config.OnDisconnect != nil {
		go c.config.OnDisconnect()
	}
	return err
}

// IsConnected returns the current connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Subscribe asks the hub for events on channel
func (c *Client) Subscribe(channel string) error {
	if err := c.send(Request{Action: ActionSubscribe, Channel: channel}); err != nil {
		return err
	}
	c.subMu.Lock()
	c.subscriptions[channel] = struct{}{}
	c.subMu.Unlock()
	return nil
}

// Unsubscribe stops events on channel
func (c *Client) Unsubscribe(channel string) error {
	if err := c.send(Request{Action: ActionUnsubscribe, Channel: channel}); err != nil {
		return err
	}
	c.subMu.Lock()
	delete(c.subscriptions, channel)
	c.subMu.Unlock()
	return nil
}

// Subscriptions returns the tracked channels, sorted
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	subs := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		subs = append(subs, ch)
	}
	sort.Strings(subs)
	return subs
}

func (c *Client) send(req Request) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.conn == nil {
		return fmt.Errorf("feed not connected")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	// gorilla connections support one concurrent writer
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func (c *Client) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	c.heartbeatTicker = ticker

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.send(Request{Action: ActionHeartbeat}); err != nil && c.config.OnError != nil {
					c.config.OnError(fmt.Errorf("heartbeat failed: %w", err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				c.config.OnError != nil {
				c.config.OnError(fmt.Errorf("read error: %w", err))
			}
			c.handleDisconnect()
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if c.config.OnError != nil {
				c.config.OnError(fmt.Errorf("malformed message: %w", err))
			}
			continue
		}
		if c.config.OnMessage != nil {
			c.config.OnMessage(msg)
		}
	}
}

func (c *Client) handleDisconnect() {
	c.mu.Lock()
	wasConnected := c.isConnected
	c.isConnected = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if wasConnected && c.config.OnDisconnect != nil {
		c.config.OnDisconnect()
	}
	if !closed {
		go c.attemptReconnect()
	}
}

func (c *Client) attemptReconnect() {
	for {
		c.mu.Lock()
		if c.closed || c.parent.Err() != nil {
			c.mu.Unlock()
			return
		}
		if c.reconnectAttempt >= c.config.MaxReconnectAttempts {
			c.mu.Unlock()
			break
		}
		c.reconnectAttempt++
		attempt := c.reconnectAttempt
		parent := c.parent
		c.mu.Unlock()

		select {
		case <-parent.Done():
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		err := c.connect()
		c.mu.Unlock()
		if err != nil {
			if c.config.OnError != nil {
				c.config.OnError(fmt.Errorf("reconnect attempt %d failed: %w", attempt, err))
			}
			continue
		}

		c.resubscribe()
		return
	}

	if c.config.OnError != nil {
		c.config.OnError(fmt.Errorf("max reconnect attempts (%d) reached", c.config.MaxReconnectAttempts))
	}
}

func (c *Client) resubscribe() {
	for _, ch := range c.Subscriptions() {
		if err := c.send(Request{Action: ActionSubscribe, Channel: ch}); err != nil && c.config.OnError != nil {
			c.config.OnError(fmt.Errorf("resubscribe failed: %w", err))
		}
	}
}
