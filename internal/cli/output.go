package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"geominer/siren/pkg/alertfeed"
	"geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/models"

	"github.com/fatih/color"
)

var severityColors = map[models.Severity]*color.Color{
	models.SeverityCritical: color.New(color.FgRed, color.Bold),
	models.SeverityHigh:     color.New(color.FgRed),
	models.SeverityMedium:   color.New(color.FgYellow),
	models.SeverityLow:      color.New(color.FgCyan),
}

// severityLabel renders a bracketed severity tag, colored by level.
// Unknown severities pass through uncolored.
func severityLabel(severity string) string {
	c, ok := severityColors[models.Severity(severity)]
	if !ok {
		return fmt.Sprintf("[%s]", severity)
	}
	return c.Sprintf("[%s]", severity)
}

// formatAlertNotice renders one pushed alert as a single line
func formatAlertNotice(n siren.AlertNotice) string {
	var b strings.Builder
	b.WriteString(severityLabel(n.Severity))
	b.WriteString(" ")
	b.WriteString(n.Title)
	if n.SiteID != "" {
		b.WriteString("  site=")
		b.WriteString(n.SiteID)
	}
	b.WriteString("  id=")
	b.WriteString(n.ID)
	return b.String()
}

// formatFrame renders a relay frame for the live view. Frames the relay is
// not known to send come back as compact JSON so nothing is ever swallowed.
func formatFrame(msg siren.Message) string {
	switch msg.Type {
	case siren.TypeAlertNew, siren.TypeAlertCritical:
		var notice siren.AlertNotice
		if err := json.Unmarshal(msg.Data, &notice); err != nil {
			break
		}
		return fmt.Sprintf("%-14s %s", msg.Type, formatAlertNotice(notice))

	case siren.TypeZoneAlert:
		var za siren.ZoneAlert
		if err := json.Unmarshal(msg.Data, &za); err != nil {
			break
		}
		return fmt.Sprintf("%-14s %s  zone=%s", msg.Type, formatAlertNotice(za.Alert), za.Zone)

	case siren.TypeZoneJoined, siren.TypeZoneLeft:
		var conf siren.ZoneConfirmation
		if err := json.Unmarshal(msg.Data, &conf); err != nil {
			break
		}
		return fmt.Sprintf("%-14s zone=%s now-in=%v", msg.Type, conf.Zone, conf.Zones)

	case siren.TypeSiteUpdated:
		var fields map[string]string
		if err := json.Unmarshal(msg.Data, &fields); err != nil {
			break
		}
		return fmt.Sprintf("%-14s %s", msg.Type, formatSiteFields(fields))

	case siren.TypeError:
		var payload siren.ErrorPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			break
		}
		return fmt.Sprintf("%-14s %s", msg.Type, color.New(color.FgRed).Sprint(payload.Error))
	}

	return fmt.Sprintf("%-14s %s", msg.Type, string(msg.Data))
}

// formatSiteFields renders a site update's field map with the identity keys
// first and the rest in stable order
func formatSiteFields(fields map[string]string) string {
	var parts []string
	for _, key := range []string{"site_id", "site_code", "status"} {
		if v := fields[key]; v != "" {
			parts = append(parts, key+"="+v)
		}
	}

	var rest []string
	for key, v := range fields {
		switch key {
		case "site_id", "site_code", "status":
			continue
		}
		rest = append(rest, key+"="+v)
	}
	sort.Strings(rest)
	parts = append(parts, rest...)

	return strings.Join(parts, " ")
}

var siteStatusColors = map[models.SiteStatus]*color.Color{
	models.SiteDetected:   color.New(color.FgYellow),
	models.SiteConfirmed:  color.New(color.FgRed),
	models.SiteActive:     color.New(color.FgRed),
	models.SiteEscalated:  color.New(color.FgRed, color.Bold),
	models.SiteDismantled: color.New(color.FgGreen),
	models.SiteRecurred:   color.New(color.FgRed, color.Bold),
}

// formatSite renders one monitored site for the list view
func formatSite(site models.Site) string {
	status := fmt.Sprintf("[%s]", site.Status)
	if c, ok := siteStatusColors[site.Status]; ok {
		status = c.Sprint(status)
	}

	line := fmt.Sprintf("%s %-10s", status, site.SiteCode)
	if site.Region != "" {
		line += "  region=" + site.Region
	}
	if site.ConfidenceAI != nil {
		line += fmt.Sprintf("  confidence=%.2f", *site.ConfidenceAI)
	}
	line += "  id=" + site.ID
	return line
}

// formatRecord renders one stored alert for the list view
func formatRecord(rec alertfeed.Record) string {
	state := " "
	switch {
	case rec.IsResolved:
		state = color.New(color.FgGreen).Sprint("R")
	case rec.IsRead:
		state = color.New(color.FgGreen).Sprint("✓")
	}
	line := fmt.Sprintf("%s %s %-22s %s", state, severityLabel(string(rec.Severity)), rec.ID, rec.Title)
	if rec.SiteID != "" {
		line += "  site=" + rec.SiteID
	}
	return line
}
