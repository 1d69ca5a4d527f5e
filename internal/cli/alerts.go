package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"geominer/siren/pkg/alertfeed"
	api "geominer/siren/pkg/api/alertflow"
	alertflowclient "geominer/siren/pkg/clients/alertflow"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/models"

	"github.com/spf13/cobra"
)

func newAlertsCmd() *cobra.Command {
	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "List and work the alert queue",
	}
	alerts.AddCommand(newAlertsListCmd())
	alerts.AddCommand(newAlertsAckCmd())
	alerts.AddCommand(newAlertsResolveCmd())
	return alerts
}

// newFeedController builds a controller over a freshly loaded store. Every
// invocation is a new process, so the store always starts from a poll.
func newFeedController(ctx context.Context, apiURL, token string, opts api.ListAlertsOptions) (*alertfeed.Controller, error) {
	logger := logging.NewLogger()
	if !verbose {
		logger.SetLevel(logging.ErrorLevel)
	}

	client := alertflowclient.NewClient(alertflowclient.Config{
		BaseURL: apiURL,
		Token:   token,
		Timeout: 15 * time.Second,
		Logger:  logger,
	})

	controller := alertfeed.NewController(alertfeed.ControllerConfig{
		Store:       alertfeed.NewStore(),
		Client:      client,
		Logger:      logger,
		PollOptions: opts,
	})

	if err := controller.Refresh(ctx); err != nil {
		return nil, err
	}
	return controller, nil
}

func newAlertsListCmd() *cobra.Command {
	var apiURL string
	var token string
	var severity string
	var siteID string
	var unacked bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts from the alert API",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL = resolveSetting(apiURL, "api_url", "http://localhost:8000/api/v1")
			token = resolveSetting(token, "token", "")

			opts := api.ListAlertsOptions{
				Severity: models.Severity(severity),
				SiteID:   siteID,
				Limit:    limit,
			}
			if unacked {
				acked := false
				opts.Acknowledged = &acked
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			controller, err := newFeedController(ctx, apiURL, token, opts)
			if err != nil {
				return err
			}

			records := controller.Store().Snapshot()

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Alerts (%d total, %d unread)\n", len(records), controller.Store().Unread())
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), " %s\n", formatRecord(rec))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "alert API base URL (default: http://localhost:8000/api/v1)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the alert API")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().StringVar(&siteID, "site", "", "filter by site ID")
	cmd.Flags().BoolVar(&unacked, "unacked", false, "only alerts nobody has acknowledged")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts to fetch")

	return cmd
}

func newAlertsAckCmd() *cobra.Command {
	var apiURL string
	var token string
	var by string

	cmd := &cobra.Command{
		Use:   "ack [alert-id]",
		Short: "Acknowledge an alert",
		Long: `Mark an alert acknowledged through the alert API. The mutation is sent
exactly once; a failure is reported and nothing is retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL = resolveSetting(apiURL, "api_url", "http://localhost:8000/api/v1")
			token = resolveSetting(token, "token", "")
			if by == "" {
				by = resolveSetting("", "operator", "sirenctl")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			controller, err := newFeedController(ctx, apiURL, token, api.ListAlertsOptions{})
			if err != nil {
				return err
			}

			alertID := args[0]
			if err := controller.Acknowledge(ctx, alertID, by); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s as %s\n", alertID, by)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "alert API base URL (default: http://localhost:8000/api/v1)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the alert API")
	cmd.Flags().StringVar(&by, "by", "", "who is acknowledging (default: sirenctl)")

	return cmd
}

func newAlertsResolveCmd() *cobra.Command {
	var apiURL string
	var token string
	var by string

	cmd := &cobra.Command{
		Use:   "resolve [alert-id]",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL = resolveSetting(apiURL, "api_url", "http://localhost:8000/api/v1")
			token = resolveSetting(token, "token", "")
			if by == "" {
				by = resolveSetting("", "operator", "sirenctl")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			controller, err := newFeedController(ctx, apiURL, token, api.ListAlertsOptions{})
			if err != nil {
				return err
			}

			alertID := args[0]
			if err := controller.Resolve(ctx, alertID, by); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s as %s\n", alertID, by)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "alert API base URL (default: http://localhost:8000/api/v1)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the alert API")
	cmd.Flags().StringVar(&by, "by", "", "who is resolving (default: sirenctl)")

	return cmd
}
