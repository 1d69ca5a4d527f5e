package validation

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"geominer/siren/pkg/models"
)

// AlertEvent is a single entry read from the alert stream, decoded from the
// producer's flat field map. CreatedAt stays in its published string form and
// is forwarded to clients as-is.
type AlertEvent struct {
	ID        string          `json:"id" validate:"required"`
	AlertType string          `json:"alert_type" validate:"required"`
	Severity  models.Severity `json:"severity" validate:"required"`
	Title     string          `json:"title" validate:"required"`
	Message   string          `json:"message,omitempty"`
	SiteID    string          `json:"site_id,omitempty"`
	SensorID  string          `json:"sensor_id,omitempty"`
	CreatedAt string          `json:"created_at" validate:"required"`
}

// CreatedAtTime parses the published timestamp
func (e *AlertEvent) CreatedAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, e.CreatedAt)
}

// AlertEventFromFields decodes a stream field map into an AlertEvent
func AlertEventFromFields(fields map[string]string) *AlertEvent {
	return &AlertEvent{
		ID:        fields["id"],
		AlertType: fields["alert_type"],
		Severity:  models.Severity(fields["severity"]),
		Title:     fields["title"],
		Message:   fields["message"],
		SiteID:    fields["site_id"],
		SensorID:  fields["sensor_id"],
		CreatedAt: fields["created_at"],
	}
}

// SiteUpdateEvent is a single entry read from the site stream. Raw holds the
// full field map, which is forwarded to clients untouched; only identity
// fields are lifted for validation and routing.
type SiteUpdateEvent struct {
	SiteID   string
	SiteCode string
	Status   string
	Raw      map[string]string
}

// SiteUpdateEventFromFields decodes a stream field map into a SiteUpdateEvent
func SiteUpdateEventFromFields(fields map[string]string) *SiteUpdateEvent {
	return &SiteUpdateEvent{
		SiteID:   fields["site_id"],
		SiteCode: fields["site_code"],
		Status:   fields["status"],
		Raw:      fields,
	}
}

// EventValidator checks consumed stream entries before they are fanned out.
// Malformed entries are skipped by the consumer, never forwarded.
type EventValidator struct {
	validator *validator.Validate
}

// NewEventValidator constructs an EventValidator with standard struct validation.
func NewEventValidator() *EventValidator {
	return &EventValidator{
		validator: validator.New(),
	}
}

// ValidateAlert applies structural validation plus the semantic checks the
// struct tags cannot express.
func (v *EventValidator) ValidateAlert(event *AlertEvent) error {
	if err := v.validator.Struct(event); err != nil {
		return fmt.Errorf("alert validation failed: %w", err)
	}
	if !event.Severity.Known() {
		return fmt.Errorf("unknown severity: %s", event.Severity)
	}
	if _, err := event.CreatedAtTime(); err != nil {
		return fmt.Errorf("invalid created_at %q: %w", event.CreatedAt, err)
	}
	return nil
}

// ValidateSiteUpdate requires an addressable site; everything else in the
// payload is forwarded opaquely.
func (v *EventValidator) ValidateSiteUpdate(event *SiteUpdateEvent) error {
	if event.SiteID == "" && event.SiteCode == "" {
		return fmt.Errorf("site update requires site_id or site_code")
	}
	return nil
}
