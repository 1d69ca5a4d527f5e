package siren

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/logging"

	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client for the siren relay
type Client struct {
	baseURL        string
	token          string
	conn           *websocket.Conn
	logger         logging.Logger
	messageChan    chan siren.Message
	zones          []string
	mutex          sync.RWMutex
	writeMu        sync.Mutex
	reconnectDelay time.Duration
	maxReconnects  int
	connected      bool
	stopChan       chan struct{}
	doneChan       chan struct{}
}

// Config represents the configuration for the siren client
type Config struct {
	BaseURL        string
	Token          string
	Logger         logging.Logger
	ReconnectDelay time.Duration
	MaxReconnects  int
}

// MessageHandler represents a function that handles incoming messages
type MessageHandler func(msg siren.Message) error

// NewClient creates a new siren WebSocket client
func NewClient(config Config) *Client {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 5
	}

	return &Client{
		baseURL:        config.BaseURL,
		token:          config.Token,
		logger:         config.Logger,
		reconnectDelay: config.ReconnectDelay,
		maxReconnects:  config.MaxReconnects,
		messageChan:    make(chan siren.Message, 100),
		zones:          make([]string, 0),
	}
}

// Connect establishes an authenticated WebSocket connection to the relay
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connected {
		return fmt.Errorf("client is already connected")
	}

	wsURL := c.buildWebSocketURL("/ws")

	headers := make(http.Header)
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to WebSocket (status: %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})

	// Start read/write pumps
	go c.readPump(conn, c.stopChan, c.doneChan)
	go c.writePump(conn, c.stopChan)

	c.logger.Info("Connected to siren WebSocket")
	return nil
}

// ConnectWithRetry dials until connected, waiting a fixed delay between
// attempts, up to the configured maximum.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxReconnects; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
		}

		if lastErr = c.Connect(ctx); lastErr == nil {
			return nil
		}
		c.logger.WithError(lastErr).WithField("attempt", attempt+1).Warn("WebSocket connect failed")
	}
	return fmt.Errorf("gave up after %d attempts: %w", c.maxReconnects+1, lastErr)
}

// buildWebSocketURL constructs the WebSocket URL
func (c *Client) buildWebSocketURL(endpoint string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		// Fallback to direct construction
		return fmt.Sprintf("ws://%s%s", c.baseURL, endpoint)
	}

	// Convert HTTP/HTTPS to WS/WSS
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}

	wsURL := &url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   endpoint,
	}

	return wsURL.String()
}

// JoinZone subscribes this connection to focused alerts for one zone
func (c *Client) JoinZone(zone string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected {
		return fmt.Errorf("client is not connected")
	}

	req := siren.ZoneRequest{
		Action: siren.ActionJoinZone,
		Zone:   zone,
	}

	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("failed to send zone join: %w", err)
	}

	for _, existing := range c.zones {
		if existing == zone {
			return nil
		}
	}
	c.zones = append(c.zones, zone)

	c.logger.WithField("zone", zone).Info("Joined zone")
	return nil
}

// LeaveZone unsubscribes this connection from one zone
func (c *Client) LeaveZone(zone string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected {
		return fmt.Errorf("client is not connected")
	}

	req := siren.ZoneRequest{
		Action: siren.ActionLeaveZone,
		Zone:   zone,
	}

	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("failed to send zone leave: %w", err)
	}

	for i, existing := range c.zones {
		if existing == zone {
			c.zones = append(c.zones[:i], c.zones[i+1:]...)
			break
		}
	}

	c.logger.WithField("zone", zone).Info("Left zone")
	return nil
}

// GetMessages returns the channel for receiving messages
func (c *Client) GetMessages() <-chan siren.Message {
	return c.messageChan
}

// Disconnected returns a channel that is closed when the current
// connection's read pump exits. Returns nil before the first Connect.
func (c *Client) Disconnected() <-chan struct{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.doneChan
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}

// Zones returns the zones this client has joined
func (c *Client) Zones() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]string(nil), c.zones...) // Return a copy
}

// Close closes the WebSocket connection
func (c *Client) Close() error {
	c.mutex.Lock()

	if !c.connected {
		c.mutex.Unlock()
		return nil
	}

	close(c.stopChan)
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.conn.Close()
	done := c.doneChan
	c.mutex.Unlock()

	// Wait for the read pump to finish
	<-done

	c.logger.Info("Disconnected from siren WebSocket")
	return nil
}

// writeJSON serializes writes so control messages and pings never interleave
func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return c.conn.WriteJSON(v)
}

// readPump handles reading messages from the WebSocket
func (c *Client) readPump(conn *websocket.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		c.mutex.Lock()
		c.connected = false
		c.mutex.Unlock()

		conn.Close()
		close(done)
	}()

	conn.SetReadLimit(512 * 1024) // 512KB max message size
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-stop:
			return
		default:
		}

		var message siren.Message
		err := conn.ReadJSON(&message)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket read error")
			}
			return
		}

		// Send message to channel (non-blocking)
		select {
		case c.messageChan <- message:
		default:
			c.logger.Warn("Message channel full, dropping message")
		}
	}
}

// writePump handles writing messages to the WebSocket (primarily ping messages)
func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(54 * time.Second) // Send ping every 54 seconds
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Error("Failed to send ping")
				return
			}
		}
	}
}

// StartMessageHandler starts a message handler in a goroutine
func (c *Client) StartMessageHandler(handler MessageHandler) {
	go func() {
		for msg := range c.GetMessages() {
			if err := handler(msg); err != nil {
				c.logger.WithError(err).WithField("message_type", msg.Type).Error("Message handler error")
			}
		}
	}()
}
