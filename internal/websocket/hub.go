package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"geominer/siren/internal/metrics"
	"geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/auth"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/middleware"
)

// Room name prefixes. Role rooms are joined automatically at registration;
// zone rooms are joined and left on client request.
const (
	roleRoomPrefix = "role:"
	zoneRoomPrefix = "zone:"
)

// RoleRoom returns the room name for a role
func RoleRoom(role string) string {
	return roleRoomPrefix + role
}

// ZoneRoom returns the room name for a zone
func ZoneRoom(zone string) string {
	return zoneRoomPrefix + zone
}

// OverflowPolicy decides what happens to a client whose outbound queue is full
type OverflowPolicy string

const (
	// OverflowDisconnect drops the connection; the client reconnects and
	// recovers state through its own poll.
	OverflowDisconnect OverflowPolicy = "disconnect"
	// OverflowDropOldest discards the oldest queued message to make room
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// ParseOverflowPolicy maps a config value to a policy
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowDisconnect:
		return OverflowDisconnect, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy: %q", s)
	}
}

// ConnectionAuditor records connection lifecycle events. Implementations must
// not block; the hub calls them inline.
type ConnectionAuditor interface {
	ConnectionOpened(subject string, roles []string, remoteAddr string)
	ConnectionClosed(subject string)
	ConnectionRejected(remoteAddr, reason string)
}

// Config carries the hub's connection admission and delivery settings
type Config struct {
	Verifier       auth.Verifier
	AllowedOrigins []string
	ElevatedRoles  []string
	QueueSize      int
	QueuePolicy    OverflowPolicy
	Audit          ConnectionAuditor
}

// Hub maintains the set of active clients and the rooms they belong to.
// Each hub is an independent registry; callers own the instance they create.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client

	verifier      auth.Verifier
	elevatedRoles []string
	queueSize     int
	queuePolicy   OverflowPolicy
	upgrader      websocket.Upgrader
	audit         ConnectionAuditor

	logger  logging.Logger
	metrics *metrics.Metrics
	mutex   sync.RWMutex
}

// NewHub creates a hub. Zero config values fall back to a 256-message queue
// and the disconnect overflow policy.
func NewHub(logger logging.Logger, serviceMetrics *metrics.Metrics, config Config) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.QueuePolicy == "" {
		config.QueuePolicy = OverflowDisconnect
	}
	return &Hub{
		clients:       make(map[*Client]bool),
		rooms:         make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		verifier:      config.Verifier,
		elevatedRoles: config.ElevatedRoles,
		queueSize:     config.QueueSize,
		queuePolicy:   config.QueuePolicy,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.OriginChecker(config.AllowedOrigins),
		},
		audit:   config.Audit,
		logger:  logger,
		metrics: serviceMetrics,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			for _, role := range client.principal.Roles {
				h.addToRoom(client, RoleRoom(role))
			}
			clientCount := len(h.clients)
			h.mutex.Unlock()

			h.metrics.HubConnections.WithLabelValues().Inc()
			if h.audit != nil {
				h.audit.ConnectionOpened(client.principal.Subject, client.principal.Roles, client.remoteAddr)
			}
			h.logger.WithFields(logging.Fields{
				"client_count": clientCount,
				"subject":      client.principal.Subject,
				"roles":        client.principal.Roles,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				for room := range client.rooms {
					h.removeFromRoom(client, room)
				}
				delete(h.clients, client)
				close(client.send)
				clientCount := len(h.clients)
				h.mutex.Unlock()

				h.metrics.HubConnections.WithLabelValues().Dec()
				if h.audit != nil {
					h.audit.ConnectionClosed(client.principal.Subject)
				}
				h.logger.WithFields(logging.Fields{
					"client_count": clientCount,
					"subject":      client.principal.Subject,
				}).Info("Client disconnected")
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// addToRoom adds a client to a room. Caller holds the write lock.
func (h *Hub) addToRoom(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	if h.rooms[room][client] {
		return
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
	h.metrics.RoomMembers.WithLabelValues(roomKind(room)).Inc()
}

// removeFromRoom removes a client from a room, dropping the room once empty.
// Caller holds the write lock.
func (h *Hub) removeFromRoom(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok || !members[client] {
		return
	}
	delete(members, client)
	delete(client.rooms, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	h.metrics.RoomMembers.WithLabelValues(roomKind(room)).Dec()
}

func roomKind(room string) string {
	if strings.HasPrefix(room, zoneRoomPrefix) {
		return "zone"
	}
	return "role"
}

// JoinZone adds the client to a zone room and returns the zones it is now in.
// Joining a zone twice is a no-op.
func (h *Hub) JoinZone(client *Client, zone string) []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.addToRoom(client, ZoneRoom(zone))
	return h.clientZones(client)
}

// LeaveZone removes the client from a zone room and returns the zones it is
// still in. Leaving a zone it never joined is a no-op.
func (h *Hub) LeaveZone(client *Client, zone string) []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeFromRoom(client, ZoneRoom(zone))
	return h.clientZones(client)
}

// clientZones lists the client's zone rooms without the prefix, sorted.
// Caller holds at least the read lock.
func (h *Hub) clientZones(client *Client) []string {
	zones := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		if strings.HasPrefix(room, zoneRoomPrefix) {
			zones = append(zones, strings.TrimPrefix(room, zoneRoomPrefix))
		}
	}
	sort.Strings(zones)
	return zones
}

// ElevatedRooms returns the role rooms that receive escalation broadcasts
func (h *Hub) ElevatedRooms() []string {
	rooms := make([]string, len(h.elevatedRoles))
	for i, role := range h.elevatedRoles {
		rooms[i] = RoleRoom(role)
	}
	return rooms
}

// BroadcastAll delivers a message to every connected client. Delivery is
// fire-and-forget: a slow client is handled by its queue policy, never by
// blocking the broadcast.
func (h *Hub) BroadcastAll(message siren.Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mutex.RLock()
	var evicted []*Client
	for client := range h.clients {
		if !h.enqueue(client, payload) {
			evicted = append(evicted, client)
		}
	}
	h.mutex.RUnlock()

	h.dropAll(evicted)
	h.metrics.HubMessages.WithLabelValues(message.Type, "outbound").Inc()
}

// BroadcastToRooms delivers a message to every client in any of the given
// rooms. A client in several of them receives the message once.
func (h *Hub) BroadcastToRooms(rooms []string, message siren.Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mutex.RLock()
	targets := make(map[*Client]bool)
	for _, room := range rooms {
		for client := range h.rooms[room] {
			targets[client] = true
		}
	}
	var evicted []*Client
	for client := range targets {
		if !h.enqueue(client, payload) {
			evicted = append(evicted, client)
		}
	}
	h.mutex.RUnlock()

	h.dropAll(evicted)
	h.metrics.HubMessages.WithLabelValues(message.Type, "outbound").Inc()
}

// BroadcastToRoom delivers a message to every client in a single room
func (h *Hub) BroadcastToRoom(room string, message siren.Message) {
	h.BroadcastToRooms([]string{room}, message)
}

// enqueue hands a message to a client's writer queue. It returns false when
// the queue is full and the policy is to disconnect; the caller must then
// drop the client outside the read lock.
func (h *Hub) enqueue(client *Client, payload []byte) bool {
	select {
	case client.send <- payload:
		return true
	default:
	}

	h.metrics.QueueOverflows.WithLabelValues(string(h.queuePolicy)).Inc()
	if h.queuePolicy != OverflowDropOldest {
		return false
	}

	// Make room by discarding the oldest queued message, then try once more.
	// A racing broadcast can steal the freed slot; the newest message loses.
	select {
	case <-client.send:
	default:
	}
	select {
	case client.send <- payload:
	default:
	}
	return true
}

// dropAll disconnects clients whose queues overflowed
func (h *Hub) dropAll(clients []*Client) {
	for _, client := range clients {
		h.logger.WithField("subject", client.principal.Subject).Warn("Outbound queue full, disconnecting client")
		client.conn.Close()
		h.unregister <- client
	}
}

// Stats reports the current connection and room membership counts
func (h *Hub) Stats() siren.HubStats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	rooms := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		rooms[room] = len(members)
	}
	return siren.HubStats{
		Connections: len(h.clients),
		Rooms:       rooms,
	}
}

// ServeWS authenticates and upgrades an incoming WebSocket request. The
// credential is checked before the upgrade, so a rejected connection never
// sees a single relay frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		reason := rejectionReason(err)
		h.metrics.AuthRejections.WithLabelValues(reason).Inc()
		if h.audit != nil {
			h.audit.ConnectionRejected(r.RemoteAddr, reason)
		}
		h.logger.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("WebSocket connection rejected")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(siren.ErrorPayload{Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.queueSize),
		principal:  principal,
		rooms:      make(map[string]bool),
		remoteAddr: r.RemoteAddr,
		logger:     h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for browser clients.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return "missing_token"
	case errors.Is(err, auth.ErrExpiredToken):
		return "expired_token"
	default:
		return "invalid_token"
	}
}
