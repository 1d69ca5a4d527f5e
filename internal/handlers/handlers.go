package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"geominer/siren/internal/metrics"
	"geominer/siren/internal/websocket"
	"geominer/siren/pkg/api/common"
	"geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/eventlog"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/models"
	"geominer/siren/pkg/validation"
	"geominer/siren/pkg/version"
)

// EventLog is the consumer surface the handlers report on
type EventLog interface {
	HealthCheck() error
}

// SirenHandlers contains the HTTP and event handlers for the service
type SirenHandlers struct {
	hub       *websocket.Hub
	consumer  EventLog
	validator *validation.EventValidator
	logger    logging.Logger
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewSirenHandlers creates a new handlers instance
func NewSirenHandlers(hub *websocket.Hub, consumer EventLog, logger logging.Logger, serviceMetrics *metrics.Metrics) *SirenHandlers {
	return &SirenHandlers{
		hub:       hub,
		consumer:  consumer,
		validator: validation.NewEventValidator(),
		logger:    logger,
		metrics:   serviceMetrics,
		startTime: time.Now(),
	}
}

// HandleWebSocket serves WebSocket connections
func (h *SirenHandlers) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// HandleStats reports the service's own view of its health and connections
func (h *SirenHandlers) HandleStats(c *gin.Context) {
	stats := h.hub.Stats()
	response := siren.HealthResponse{
		Status:    "healthy",
		Service:   "siren",
		Version:   version.Version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		EventLog:  "connected",
		WebSocket: &stats,
	}

	if err := h.consumer.HealthCheck(); err != nil {
		h.logger.WithError(err).Error("Event log health check failed")
		response.Status = "unhealthy"
		response.EventLog = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleNotFound provides a custom 404 handler
func (h *SirenHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, common.ErrorResponse{
		Error:   "not_found",
		Service: "siren",
	})
}

// HandleAlertEvent fans a consumed alert entry out to connected clients.
// Every client gets the notice; elevated roles additionally get the
// escalation copy when the alert is critical; clients watching the alert's
// site get a zone-scoped copy.
func (h *SirenHandlers) HandleAlertEvent(ctx context.Context, entry eventlog.Entry) error {
	start := time.Now()

	event := validation.AlertEventFromFields(entry.Fields)
	if err := h.validator.ValidateAlert(event); err != nil {
		h.metrics.EventLogEntries.WithLabelValues(entry.Topic, "rejected").Inc()
		return err
	}

	notice := siren.NoticeFromEvent(event)

	message, err := siren.NewMessage(siren.TypeAlertNew, notice)
	if err != nil {
		h.metrics.EventLogEntries.WithLabelValues(entry.Topic, "rejected").Inc()
		return err
	}
	h.hub.BroadcastAll(message)

	if event.Severity == models.SeverityCritical {
		critical, err := siren.NewMessage(siren.TypeAlertCritical, notice)
		if err != nil {
			return err
		}
		h.hub.BroadcastToRooms(h.hub.ElevatedRooms(), critical)
	}

	if event.SiteID != "" {
		zoned, err := siren.NewMessage(siren.TypeZoneAlert, siren.ZoneAlert{Zone: event.SiteID, Alert: notice})
		if err != nil {
			return err
		}
		h.hub.BroadcastToRoom(websocket.ZoneRoom(event.SiteID), zoned)
	}

	if createdAt, err := event.CreatedAtTime(); err == nil {
		h.metrics.MessageDeliveryLag.WithLabelValues(siren.TypeAlertNew).Observe(time.Since(createdAt).Seconds())
	}
	h.metrics.EventLogEntries.WithLabelValues(entry.Topic, "ok").Inc()
	h.metrics.EventLogDuration.WithLabelValues(entry.Topic).Observe(time.Since(start).Seconds())

	h.logger.WithFields(logging.Fields{
		"alert_id": event.ID,
		"severity": event.Severity,
		"site_id":  event.SiteID,
		"entry_id": entry.ID,
	}).Debug("Alert fanned out")

	return nil
}

// HandleSiteEvent forwards a site update to every connected client. The
// payload is passed through untouched.
func (h *SirenHandlers) HandleSiteEvent(ctx context.Context, entry eventlog.Entry) error {
	start := time.Now()

	event := validation.SiteUpdateEventFromFields(entry.Fields)
	if err := h.validator.ValidateSiteUpdate(event); err != nil {
		h.metrics.EventLogEntries.WithLabelValues(entry.Topic, "rejected").Inc()
		return err
	}

	message, err := siren.NewMessage(siren.TypeSiteUpdated, event.Raw)
	if err != nil {
		h.metrics.EventLogEntries.WithLabelValues(entry.Topic, "rejected").Inc()
		return err
	}
	h.hub.BroadcastAll(message)

	h.metrics.EventLogEntries.WithLabelValues(entry.Topic, "ok").Inc()
	h.metrics.EventLogDuration.WithLabelValues(entry.Topic).Observe(time.Since(start).Seconds())

	h.logger.WithFields(logging.Fields{
		"site_id":  event.SiteID,
		"status":   event.Status,
		"entry_id": entry.ID,
	}).Debug("Site update fanned out")

	return nil
}
