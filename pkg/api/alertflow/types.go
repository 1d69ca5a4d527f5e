package alertflow

import "geominer/siren/pkg/models"

// ListAlertsOptions are the query filters accepted by GET /alerts
type ListAlertsOptions struct {
	Severity     models.Severity
	Type         string
	SiteID       string
	Acknowledged *bool
	Limit        int
	Offset       int
}

// ListAlertsResponse is the paginated alert listing
type ListAlertsResponse struct {
	Alerts     []models.Alert `json:"alerts"`
	TotalCount int            `json:"total_count"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

// ListSitesOptions are the query filters accepted by GET /sites
type ListSitesOptions struct {
	Status models.SiteStatus
	Region string
	Limit  int
	Offset int
}

// ListSitesResponse is the paginated site listing
type ListSitesResponse struct {
	Sites      []models.Site `json:"sites"`
	TotalCount int           `json:"total_count"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// AcknowledgeRequest is the body of PATCH /alerts/{id}/acknowledge
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// ResolveRequest is the body of PATCH /alerts/{id}/resolve
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// APIError is the error envelope the alertflow service returns
type APIError struct {
	Detail string `json:"detail"`
}
