package validation

import (
	"testing"
	"time"

	"geominer/siren/pkg/models"
)

func validAlertFields() map[string]string {
	return map[string]string{
		"id":         "6f1c2a34-9d0b-4c1e-8e47-1f2d3c4b5a69",
		"alert_type": "WATER_CONTAMINATION",
		"severity":   "CRITICAL",
		"title":      "Mercure au-dessus du seuil OMS",
		"site_id":    "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
		"sensor_id":  "AQ-007",
		"created_at": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestValidateAlert_TableDriven(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
		ok     bool
	}{
		{"complete entry", func(f map[string]string) {}, true},
		{"optional fields empty", func(f map[string]string) {
			f["site_id"] = ""
			f["sensor_id"] = ""
			delete(f, "message")
		}, true},
		{"missing id", func(f map[string]string) { delete(f, "id") }, false},
		{"missing title", func(f map[string]string) { f["title"] = "" }, false},
		{"unknown severity", func(f map[string]string) { f["severity"] = "SEVERE" }, false},
		{"missing severity", func(f map[string]string) { delete(f, "severity") }, false},
		{"garbled created_at", func(f map[string]string) { f["created_at"] = "yesterday" }, false},
	}

	v := NewEventValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := validAlertFields()
			tc.mutate(fields)
			err := v.ValidateAlert(AlertEventFromFields(fields))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateSiteUpdate(t *testing.T) {
	v := NewEventValidator()

	update := SiteUpdateEventFromFields(map[string]string{
		"site_id":   "s-1",
		"site_code": "bg-042",
		"status":    "ESCALATED",
		"region":    "Bounkani",
	})
	if err := v.ValidateSiteUpdate(update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Raw["region"] != "Bounkani" {
		t.Errorf("raw payload should carry untouched fields")
	}

	if err := v.ValidateSiteUpdate(SiteUpdateEventFromFields(map[string]string{"status": "ACTIVE"})); err == nil {
		t.Fatalf("expected error without site identity")
	}

	if err := v.ValidateSiteUpdate(SiteUpdateEventFromFields(map[string]string{"site_code": "bg-042"})); err != nil {
		t.Fatalf("site_code alone should be enough: %v", err)
	}
}

func TestAlertEventFromFields(t *testing.T) {
	e := AlertEventFromFields(validAlertFields())
	if e.Severity != models.SeverityCritical {
		t.Errorf("expected CRITICAL, got %s", e.Severity)
	}
	ts, err := e.CreatedAtTime()
	if err != nil {
		t.Fatalf("CreatedAtTime: %v", err)
	}
	if ts.Year() != 2025 {
		t.Errorf("unexpected parsed time %v", ts)
	}
}
