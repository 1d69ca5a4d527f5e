package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"geominer/siren/pkg/eventlog"
	"geominer/siren/pkg/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newFireCmd() *cobra.Command {
	fire := &cobra.Command{
		Use:   "fire",
		Short: "Publish test events to the event log",
	}
	fire.AddCommand(newFireAlertCmd())
	fire.AddCommand(newFireSiteCmd())
	return fire
}

// buildAlertFields assembles the flat field map the relay consumes. A blank
// id gets a generated UUID and a blank created_at gets the current time, so
// a bare 'fire alert' produces a complete entry.
func buildAlertFields(id, alertType, severity, title, message, siteID, sensorID, createdAt string) map[string]string {
	if id == "" {
		id = uuid.New().String()
	}
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}

	fields := map[string]string{
		"id":         id,
		"alert_type": alertType,
		"severity":   strings.ToUpper(severity),
		"title":      title,
		"created_at": createdAt,
	}
	if message != "" {
		fields["message"] = message
	}
	if siteID != "" {
		fields["site_id"] = siteID
	}
	if sensorID != "" {
		fields["sensor_id"] = sensorID
	}
	return fields
}

func newFireAlertCmd() *cobra.Command {
	var redisURL string
	var stream string
	var id string
	var alertType string
	var severity string
	var title string
	var message string
	var siteID string
	var sensorID string
	var createdAt string

	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Append a test alert to the alert stream",
		Long: `Append a synthetic alert entry to the alert stream, shaped exactly like
the detection pipeline's output. Connected relay clients receive it as an
alert:new broadcast; CRITICAL alerts additionally reach elevated roles.

Examples:
  sirenctl fire alert --title "Test alert"
  sirenctl fire alert --severity CRITICAL --site bg-042 --title "Expansion detected"
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			redisURL = resolveSetting(redisURL, "redis_url", "redis://localhost:6379")
			stream = resolveSetting(stream, "alert_stream", "alerts:new")

			if sev := models.Severity(strings.ToUpper(severity)); !sev.Known() {
				return fmt.Errorf("unknown severity %q (use LOW, MEDIUM, HIGH, or CRITICAL)", severity)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, err := eventlog.NewClient(ctx, redisURL)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			fields := buildAlertFields(id, alertType, severity, title, message, siteID, sensorID, createdAt)

			entryID, err := eventlog.NewPublisher(client).Publish(ctx, stream, fields)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Published alert %s to %s (entry %s)\n", fields["id"], stream, entryID)
			return nil
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis", "", "event log URL (default: redis://localhost:6379)")
	cmd.Flags().StringVar(&stream, "stream", "", "alert stream name (default: alerts:new)")
	cmd.Flags().StringVar(&id, "id", "", "alert ID (default: generated UUID)")
	cmd.Flags().StringVar(&alertType, "type", "NEW_SITE_DETECTED", "alert type")
	cmd.Flags().StringVar(&severity, "severity", "HIGH", "severity: LOW|MEDIUM|HIGH|CRITICAL")
	cmd.Flags().StringVar(&title, "title", "Test alert from sirenctl", "alert title")
	cmd.Flags().StringVar(&message, "message", "", "alert message body")
	cmd.Flags().StringVar(&siteID, "site", "", "site the alert belongs to")
	cmd.Flags().StringVar(&sensorID, "sensor", "", "sensor that produced the detection")
	cmd.Flags().StringVar(&createdAt, "created-at", "", "RFC3339 timestamp (default: now)")

	return cmd
}

func newFireSiteCmd() *cobra.Command {
	var redisURL string
	var stream string
	var siteID string
	var siteCode string
	var status string
	var extra []string

	cmd := &cobra.Command{
		Use:   "site",
		Short: "Append a test site update to the site stream",
		Long: `Append a synthetic site update entry. Every field is forwarded to relay
clients untouched; --field adds arbitrary key=value pairs.

Examples:
  sirenctl fire site --site bg-042 --status ACTIVE
  sirenctl fire site --site bg-042 --field area_km2=1.8 --field confidence=0.93
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			redisURL = resolveSetting(redisURL, "redis_url", "redis://localhost:6379")
			stream = resolveSetting(stream, "site_stream", "sites:updated")

			if siteID == "" && siteCode == "" {
				return fmt.Errorf("--site or --code is required")
			}

			fields := map[string]string{}
			if siteID != "" {
				fields["site_id"] = siteID
			}
			if siteCode != "" {
				fields["site_code"] = siteCode
			}
			if status != "" {
				fields["status"] = status
			}
			for _, pair := range extra {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid --field %q (expected key=value)", pair)
				}
				fields[key] = value
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, err := eventlog.NewClient(ctx, redisURL)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			entryID, err := eventlog.NewPublisher(client).Publish(ctx, stream, fields)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Published site update to %s (entry %s)\n", stream, entryID)
			return nil
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis", "", "event log URL (default: redis://localhost:6379)")
	cmd.Flags().StringVar(&stream, "stream", "", "site stream name (default: sites:updated)")
	cmd.Flags().StringVar(&siteID, "site", "", "site ID")
	cmd.Flags().StringVar(&siteCode, "code", "", "site code")
	cmd.Flags().StringVar(&status, "status", "", "site status")
	cmd.Flags().StringArrayVar(&extra, "field", nil, "additional key=value field (repeatable)")

	return cmd
}
