package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/auth"
	"geominer/siren/pkg/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client represents one authenticated WebSocket connection. Its identity is
// fixed at the gate; room membership is the only state that changes afterward.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	principal  *auth.Principal
	rooms      map[string]bool // guarded by hub.mutex
	remoteAddr string
	logger     logging.Logger
}

// Principal returns the identity the connection was admitted with
func (c *Client) Principal() *auth.Principal {
	return c.principal
}

// readPump pumps zone requests from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithField("subject", c.principal.Subject).Error("WebSocket connection error")
			}
			break
		}

		var request siren.ZoneRequest
		if err := json.Unmarshal(message, &request); err != nil {
			c.logger.WithError(err).WithField("subject", c.principal.Subject).Warn("Undecodable client frame")
			c.sendError("undecodable request")
			continue
		}

		c.handleZoneRequest(&request)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// It is the connection's only writer.
func (c *Client) writePump() {
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

// handleZoneRequest routes a client frame to the matching room operation
func (c *Client) handleZoneRequest(request *siren.ZoneRequest) {
	c.hub.metrics.HubMessages.WithLabelValues(request.Action, "inbound").Inc()

	switch request.Action {
	case siren.ActionJoinZone:
		if request.Zone == "" {
			c.sendError("zone is required")
			return
		}
		zones := c.hub.JoinZone(c, request.Zone)
		c.logger.WithFields(logging.Fields{
			"subject": c.principal.Subject,
			"zone":    request.Zone,
			"zones":   zones,
		}).Info("Client joined zone")
		c.confirm(siren.TypeZoneJoined, request.Zone, zones)

	case siren.ActionLeaveZone:
		if request.Zone == "" {
			c.sendError("zone is required")
			return
		}
		zones := c.hub.LeaveZone(c, request.Zone)
		c.logger.WithFields(logging.Fields{
			"subject": c.principal.Subject,
			"zone":    request.Zone,
			"zones":   zones,
		}).Info("Client left zone")
		c.confirm(siren.TypeZoneLeft, request.Zone, zones)

	default:
		c.logger.WithFields(logging.Fields{
			"subject": c.principal.Subject,
			"action":  request.Action,
		}).Warn("Unknown client action")
		c.sendError("unknown action: " + request.Action)
	}
}

// confirm acknowledges a zone change back to the requesting client only
func (c *Client) confirm(msgType, zone string, zones []string) {
	c.sendMessage(msgType, siren.ZoneConfirmation{Zone: zone, Zones: zones})
}

func (c *Client) sendError(reason string) {
	c.sendMessage(siren.TypeError, siren.ErrorPayload{Error: reason})
}

// sendMessage queues a frame for this client alone, subject to the same
// queue policy as broadcasts.
func (c *Client) sendMessage(msgType string, payload interface{}) {
	message, err := siren.NewMessage(msgType, payload)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}

	c.hub.mutex.RLock()
	ok := c.hub.enqueue(c, data)
	c.hub.mutex.RUnlock()
	if !ok {
		c.hub.dropAll([]*Client{c})
	}
}
