package siren

import (
	"encoding/json"
	"time"

	"geominer/siren/pkg/validation"
)

// Message is the envelope for every frame the relay sends to clients
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps a payload in a timestamped envelope
func NewMessage(msgType string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Data: data, Timestamp: time.Now()}, nil
}

// AlertNotice is the payload of an "alert:new" broadcast, a trimmed view of
// the alert sent to every connected client
type AlertNotice struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	SiteID    string `json:"siteId"`
	Timestamp string `json:"timestamp"`
}

// NoticeFromEvent builds the broadcast payload from a consumed alert entry
func NoticeFromEvent(event *validation.AlertEvent) AlertNotice {
	return AlertNotice{
		ID:        event.ID,
		Type:      event.AlertType,
		Severity:  string(event.Severity),
		Title:     event.Title,
		Message:   event.Message,
		SiteID:    event.SiteID,
		Timestamp: event.CreatedAt,
	}
}

// ZoneAlert is the payload of a "zone:alert" message, the focused copy
// delivered to clients watching the alert's site
type ZoneAlert struct {
	Zone  string      `json:"zone"`
	Alert AlertNotice `json:"alert"`
}

// ZoneRequest is the client→server frame for joining or leaving a zone room
type ZoneRequest struct {
	Action string `json:"action"` // "join:zone" or "leave:zone"
	Zone   string `json:"zone"`
}

// ZoneConfirmation acknowledges a zone join or leave
type ZoneConfirmation struct {
	Zone  string   `json:"zone"`
	Zones []string `json:"zones"` // zones the connection is now in
}

// ErrorPayload is the payload of an "error" frame
type ErrorPayload struct {
	Error string `json:"error"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	EventLog  string    `json:"event_log,omitempty"`
	WebSocket *HubStats `json:"websocket,omitempty"`
}

// HubStats represents connection registry statistics
type HubStats struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

// Server→client message types
const (
	TypeAlertNew      = "alert:new"
	TypeAlertCritical = "alert:critical"
	TypeSiteUpdated   = "site:updated"
	TypeZoneAlert     = "zone:alert"
	TypeZoneJoined    = "zone:joined"
	TypeZoneLeft      = "zone:left"
	TypeError         = "error"
)

// Client→server zone actions
const (
	ActionJoinZone  = "join:zone"
	ActionLeaveZone = "leave:zone"
)
