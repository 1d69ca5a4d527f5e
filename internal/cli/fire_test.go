package cli

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBuildAlertFieldsDefaults(t *testing.T) {
	t.Parallel()

	fields := buildAlertFields("", "NEW_SITE_DETECTED", "high", "Test", "", "", "", "")

	if _, err := uuid.Parse(fields["id"]); err != nil {
		t.Errorf("expected generated UUID, got %q", fields["id"])
	}
	if fields["severity"] != "HIGH" {
		t.Errorf("expected severity upcased, got %q", fields["severity"])
	}
	if _, err := time.Parse(time.RFC3339, fields["created_at"]); err != nil {
		t.Errorf("expected RFC3339 created_at, got %q", fields["created_at"])
	}
	for _, key := range []string{"message", "site_id", "sensor_id"} {
		if _, ok := fields[key]; ok {
			t.Errorf("expected %s to be omitted when empty", key)
		}
	}
}

func TestBuildAlertFieldsExplicitValues(t *testing.T) {
	t.Parallel()

	fields := buildAlertFields(
		"a1", "EXPANSION_DETECTED", "CRITICAL", "Expansion",
		"Area grew 40%", "bg-042", "sensor-7", "2025-06-01T10:00:00Z",
	)

	want := map[string]string{
		"id":         "a1",
		"alert_type": "EXPANSION_DETECTED",
		"severity":   "CRITICAL",
		"title":      "Expansion",
		"message":    "Area grew 40%",
		"site_id":    "bg-042",
		"sensor_id":  "sensor-7",
		"created_at": "2025-06-01T10:00:00Z",
	}
	for key, expected := range want {
		if fields[key] != expected {
			t.Errorf("field %s = %q, want %q", key, fields[key], expected)
		}
	}
	if len(fields) != len(want) {
		t.Errorf("unexpected extra fields: %v", fields)
	}
}
