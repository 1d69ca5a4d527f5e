package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"geominer/siren/pkg/logging"

	"github.com/gorilla/websocket"
)

// MockRelayServer provides a mock alert relay for client testing. It speaks
// the relay's wire protocol: zone join/leave requests in, typed envelopes out.
type MockRelayServer struct {
	server       *httptest.Server
	upgrader     websocket.Upgrader
	logger       logging.Logger
	jwtHelper    *JWTTestHelper
	connections  map[string]*MockConnection
	connMutex    sync.RWMutex
	messagesChan chan MockMessage

	// Callbacks for test customization
	OnConnect    func(conn *MockConnection, subject string)
	OnMessage    func(conn *MockConnection, message map[string]interface{})
	OnDisconnect func(conn *MockConnection, subject string)
	AuthRequired bool
}

// MockConnection represents a mock WebSocket connection
type MockConnection struct {
	conn     *websocket.Conn
	subject  string
	roles    []string
	zones    []string
	messages chan map[string]interface{}
	closed   bool
	mutex    sync.RWMutex
}

// MockMessage represents a message received by the mock server
type MockMessage struct {
	Subject string
	Action  string
	Data    map[string]interface{}
}

// NewMockRelayServer creates a new mock relay server
func NewMockRelayServer() *MockRelayServer {
	logger := logging.NewLogger()

	mock := &MockRelayServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:       logger,
		jwtHelper:    NewJWTTestHelper(),
		connections:  make(map[string]*MockConnection),
		messagesChan: make(chan MockMessage, 100),
		AuthRequired: true,
	}

	handler := http.HandlerFunc(mock.handleWebSocket)
	mock.server = httptest.NewServer(handler)

	return mock
}

// NewMockRelayServerWithAuth creates a mock server with a custom JWT helper
func NewMockRelayServerWithAuth(jwtHelper *JWTTestHelper) *MockRelayServer {
	server := NewMockRelayServer()
	server.jwtHelper = jwtHelper
	return server
}

// URL returns the WebSocket URL of the mock server
func (m *MockRelayServer) URL() string {
	return strings.Replace(m.server.URL, "http://", "ws://", 1)
}

// HTTPURL returns the plain HTTP URL of the mock server
func (m *MockRelayServer) HTTPURL() string {
	return m.server.URL
}

// Close shuts down the mock server
func (m *MockRelayServer) Close() {
	m.connMutex.Lock()
	defer m.connMutex.Unlock()

	// Close all connections
	for _, conn := range m.connections {
		conn.Close()
	}

	m.server.Close()
	close(m.messagesChan)
}

// GetConnection returns a specific connection by subject
func (m *MockRelayServer) GetConnection(subject string) *MockConnection {
	m.connMutex.RLock()
	defer m.connMutex.RUnlock()
	return m.connections[subject]
}

// Broadcast sends a typed envelope to all connections
func (m *MockRelayServer) Broadcast(msgType string, data map[string]interface{}) {
	m.connMutex.RLock()
	defer m.connMutex.RUnlock()

	message := map[string]interface{}{
		"type":      msgType,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	for _, conn := range m.connections {
		conn.SendMessage(message)
	}
}

// GetMessages returns the channel of messages clients sent to the server
func (m *MockRelayServer) GetMessages() <-chan MockMessage {
	return m.messagesChan
}

func (m *MockRelayServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	var roles []string

	if m.AuthRequired {
		token := ""
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}
			token = parts[1]
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		principal, err := m.jwtHelper.ValidateJWT(token)
		if err != nil {
			m.logger.WithError(err).Warn("Invalid token for mock WebSocket connection")
			http.Error(w, "Invalid authentication", http.StatusUnauthorized)
			return
		}

		subject = principal.Subject
		roles = principal.Roles
	} else {
		subject = "test-user"
		roles = []string{"VIEWER"}
	}

	// Upgrade to WebSocket
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	mockConn := &MockConnection{
		conn:     conn,
		subject:  subject,
		roles:    roles,
		messages: make(chan map[string]interface{}, 10),
		closed:   false,
	}

	m.connMutex.Lock()
	m.connections[subject] = mockConn
	m.connMutex.Unlock()

	if m.OnConnect != nil {
		m.OnConnect(mockConn, subject)
	}

	go mockConn.readPump(m)
	go mockConn.writePump(m)
}

// MockConnection methods

// SendMessage sends a message to the connection
func (c *MockConnection) SendMessage(message map[string]interface{}) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.closed {
		select {
		case c.messages <- message:
		default:
			// Channel full, drop message
		}
	}
}

// Close closes the connection
func (c *MockConnection) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		c.closed = true
		close(c.messages)
		c.conn.Close()
	}
}

// IsConnected returns whether the connection is active
func (c *MockConnection) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return !c.closed
}

// Subject returns the authenticated subject for the connection
func (c *MockConnection) Subject() string {
	return c.subject
}

// Zones returns the zones the connection has joined
func (c *MockConnection) Zones() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]string(nil), c.zones...)
}

func (c *MockConnection) readPump(server *MockRelayServer) {
	defer func() {
		server.connMutex.Lock()
		delete(server.connections, c.subject)
		server.connMutex.Unlock()

		if server.OnDisconnect != nil {
			server.OnDisconnect(c, c.subject)
		}

		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var message map[string]interface{}
		if err := c.conn.ReadJSON(&message); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				server.logger.WithError(err).Error("Error reading WebSocket message")
			}
			break
		}

		if action, ok := message["action"].(string); ok {
			mockMsg := MockMessage{
				Subject: c.subject,
				Action:  action,
				Data:    message,
			}

			select {
			case server.messagesChan <- mockMsg:
			default:
				// Channel full, drop message
			}
		}

		if server.OnMessage != nil {
			server.OnMessage(c, message)
		}

		c.handleMessage(message)
	}
}

func (c *MockConnection) writePump(server *MockRelayServer) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.messages:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				server.logger.WithError(err).Error("Error writing WebSocket message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *MockConnection) handleMessage(message map[string]interface{}) {
	action, ok := message["action"].(string)
	if !ok {
		return
	}
	zone, _ := message["zone"].(string)

	switch action {
	case "join:zone":
		c.mutex.Lock()
		found := false
		for _, z := range c.zones {
			if z == zone {
				found = true
				break
			}
		}
		if !found {
			c.zones = append(c.zones, zone)
		}
		zones := append([]string(nil), c.zones...)
		c.mutex.Unlock()

		c.SendMessage(map[string]interface{}{
			"type": "zone:joined",
			"data": map[string]interface{}{"zone": zone, "zones": zones},
		})

	case "leave:zone":
		c.mutex.Lock()
		for i, z := range c.zones {
			if z == zone {
				c.zones = append(c.zones[:i], c.zones[i+1:]...)
				break
			}
		}
		zones := append([]string(nil), c.zones...)
		c.mutex.Unlock()

		c.SendMessage(map[string]interface{}{
			"type": "zone:left",
			"data": map[string]interface{}{"zone": zone, "zones": zones},
		})
	}
}

// WebSocketTestClient provides a raw test client for WebSocket endpoints
type WebSocketTestClient struct {
	conn     *websocket.Conn
	messages chan map[string]interface{}
	errors   chan error
	closed   bool
	mutex    sync.RWMutex
	logger   logging.Logger
}

// NewWebSocketTestClient creates a new test client and connects to the server
func NewWebSocketTestClient(serverURL string, jwt string) (*WebSocketTestClient, error) {
	logger := logging.NewLogger()

	headers := http.Header{}
	if jwt != "" {
		headers.Set("Authorization", "Bearer "+jwt)
	}

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.Dial(serverURL, headers)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		return nil, err
	}

	client := &WebSocketTestClient{
		conn:     conn,
		messages: make(chan map[string]interface{}, 32),
		errors:   make(chan error, 1),
		logger:   logger,
	}

	// Start read pump
	go client.readPump()

	return client, nil
}

// SendMessage sends a message to the server
func (c *WebSocketTestClient) SendMessage(message map[string]interface{}) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	return c.conn.WriteJSON(message)
}

// ReadMessage reads a message from the server (blocking)
func (c *WebSocketTestClient) ReadMessage() (map[string]interface{}, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case err := <-c.errors:
		return nil, err
	}
}

// ReadMessageTimeout reads a message with timeout
func (c *WebSocketTestClient) ReadMessageTimeout(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case err := <-c.errors:
		return nil, err
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// Close closes the client connection
func (c *WebSocketTestClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		c.closed = true
		return c.conn.Close()
	}

	return nil
}

func (c *WebSocketTestClient) readPump() {
	defer func() { _ = c.Close() }()

	for {
		var message map[string]interface{}
		if err := c.conn.ReadJSON(&message); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case c.errors <- err:
				default:
				}
			}
			break
		}

		select {
		case c.messages <- message:
		default:
			// Channel full, drop message
		}
	}
}
