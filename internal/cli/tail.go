package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sirenclient "geominer/siren/pkg/clients/siren"
	"geominer/siren/pkg/logging"

	"github.com/spf13/cobra"
)

func newTailCmd() *cobra.Command {
	var relayURL string
	var token string
	var zones []string
	var raw bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live alert traffic from the relay",
		Long: `Connect to the relay and print every frame as it arrives.

The connection needs a bearer token; pass --token, set SIREN_TOKEN, or put
token in ~/.siren/config.yaml. Use --zone to also receive the focused
zone:alert copies for specific zones.

Examples:
  sirenctl tail
  sirenctl tail --zone bg-042 --zone bg-107
  sirenctl tail --raw | jq .
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			relayURL = resolveSetting(relayURL, "relay_url", "http://localhost:8003")
			token = resolveSetting(token, "token", "")
			if token == "" {
				return fmt.Errorf("no token: pass --token, set SIREN_TOKEN, or run 'sirenctl token' to mint one")
			}

			// Client logs go to stderr; keep them out of the frame
			// stream unless asked for.
			logger := logging.NewLogger()
			if verbose {
				logger.SetLevel(logging.DebugLevel)
			} else {
				logger.SetLevel(logging.ErrorLevel)
			}

			client := sirenclient.NewClient(sirenclient.Config{
				BaseURL: relayURL,
				Token:   token,
				Logger:  logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := client.ConnectWithRetry(ctx); err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			for _, zone := range zones {
				if err := client.JoinZone(zone); err != nil {
					return fmt.Errorf("join zone %s: %w", zone, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Tailing %s (Ctrl-C to stop)\n", relayURL)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-client.Disconnected():
					return fmt.Errorf("relay closed the connection")
				case msg, ok := <-client.GetMessages():
					if !ok {
						return fmt.Errorf("relay closed the connection")
					}
					if raw {
						line, err := json.Marshal(msg)
						if err != nil {
							continue
						}
						fmt.Fprintln(cmd.OutOrStdout(), string(line))
						continue
					}
					stamp := msg.Timestamp.Local().Format(time.TimeOnly)
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", stamp, formatFrame(msg))
				}
			}
		},
	}

	cmd.Flags().StringVar(&relayURL, "url", "", "relay base URL (default: http://localhost:8003)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the relay")
	cmd.Flags().StringArrayVar(&zones, "zone", nil, "zone to join for focused alerts (repeatable)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw JSON frames")

	return cmd
}
