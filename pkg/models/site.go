package models

import "time"

// SiteStatus tracks the lifecycle of a detected mining site
type SiteStatus string

const (
	SiteDetected   SiteStatus = "DETECTED"
	SiteConfirmed  SiteStatus = "CONFIRMED"
	SiteActive     SiteStatus = "ACTIVE"
	SiteEscalated  SiteStatus = "ESCALATED"
	SiteDismantled SiteStatus = "DISMANTLED"
	SiteRecurred   SiteStatus = "RECURRED"
)

// Site represents a monitored mining site
type Site struct {
	ID             string     `json:"id"`
	SiteCode       string     `json:"site_code"`
	Status         SiteStatus `json:"status"`
	Region         string     `json:"region,omitempty"`
	Department     string     `json:"department,omitempty"`
	SousPrefecture string     `json:"sous_prefecture,omitempty"`
	ConfidenceAI   *float64   `json:"confidence_ai,omitempty"`
	SatelliteDate  *time.Time `json:"satellite_date,omitempty"`
	SatSource      string     `json:"sat_source,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}
