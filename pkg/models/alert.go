package models

import "time"

// Severity is the ordered alert severity scale
type Severity string

// Severity levels, lowest to highest
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Known returns true for one of the four defined levels
func (s Severity) Known() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s ranks equal to or above other.
// Unknown severities rank below LOW.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Alert represents an alert record as served by the alertflow REST API
type Alert struct {
	ID             string     `json:"id"`
	SiteID         string     `json:"site_id,omitempty"`
	SensorID       string     `json:"sensor_id,omitempty"`
	AlertType      string     `json:"alert_type"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Message        string     `json:"message,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Acknowledged reports whether the server has recorded an acknowledgement
func (a Alert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

// Resolved reports whether the server has recorded a resolution
func (a Alert) Resolved() bool {
	return a.ResolvedAt != nil
}
