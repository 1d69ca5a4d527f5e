package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geominer/siren/pkg/alertfeed"
	api "geominer/siren/pkg/api/alertflow"
	"geominer/siren/pkg/api/siren"
	sirenclient "geominer/siren/pkg/clients/siren"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/models"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var relayURL string
	var apiURL string
	var token string
	var severity string
	var interval time.Duration
	var rows int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the merged alert queue",
		Long: `Run the full client stack: poll the alert API, stream live pushes from
the relay, and keep both merged in one collection. Every change reprints
the queue with its unread count. A pushed alert already known from a poll
is not shown twice, and a poll never marks a read alert unread again.

Acknowledge and resolve from another terminal with 'sirenctl alerts ack'
and 'sirenctl alerts resolve'; the next poll picks the change up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			relayURL = resolveSetting(relayURL, "relay_url", "http://localhost:8003")
			apiURL = resolveSetting(apiURL, "api_url", "http://localhost:8000/api/v1")
			token = resolveSetting(token, "token", "")
			if token == "" {
				return fmt.Errorf("no token: pass --token, set SIREN_TOKEN, or run 'sirenctl token' to mint one")
			}

			logger := logging.NewLogger()
			if verbose {
				logger.SetLevel(logging.DebugLevel)
			} else {
				logger.SetLevel(logging.ErrorLevel)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			controller, err := newFeedController(ctx, apiURL, token, api.ListAlertsOptions{
				Severity: models.Severity(severity),
			})
			if err != nil {
				return err
			}

			relay := sirenclient.NewClient(sirenclient.Config{
				BaseURL: relayURL,
				Token:   token,
				Logger:  logger,
			})
			if err := relay.ConnectWithRetry(ctx); err != nil {
				return err
			}
			defer func() { _ = relay.Close() }()

			out := cmd.OutOrStdout()
			render := func() {
				records := controller.Store().Snapshot()
				fmt.Fprintf(out, "\nAlerts (%d total, %d unread)\n", len(records), controller.Store().Unread())
				shown := records
				if rows > 0 && len(shown) > rows {
					shown = shown[:rows]
				}
				for _, rec := range shown {
					fmt.Fprintf(out, " %s\n", formatRecord(rec))
				}
				if len(records) > len(shown) {
					fmt.Fprintf(out, " … %d more\n", len(records)-len(shown))
				}
			}
			render()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-relay.Disconnected():
					return fmt.Errorf("relay closed the connection")
				case <-ticker.C:
					if err := controller.Refresh(ctx); err != nil {
						logger.WithError(err).Error("Poll refresh failed")
						continue
					}
					render()
				case msg, ok := <-relay.GetMessages():
					if !ok {
						return fmt.Errorf("relay closed the connection")
					}
					if msg.Type != siren.TypeAlertNew {
						continue
					}
					var notice siren.AlertNotice
					if err := json.Unmarshal(msg.Data, &notice); err != nil {
						logger.WithError(err).Warn("Undecodable alert frame")
						continue
					}
					if controller.Store().AddFromPush(alertfeed.AlertFromNotice(notice)) {
						render()
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&relayURL, "url", "", "relay base URL (default: http://localhost:8003)")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "alert API base URL (default: http://localhost:8000/api/v1)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the relay and the alert API")
	cmd.Flags().StringVar(&severity, "severity", "", "filter polls by severity")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "poll interval")
	cmd.Flags().IntVar(&rows, "rows", 15, "rows to show per repaint (0 = all)")

	return cmd
}
