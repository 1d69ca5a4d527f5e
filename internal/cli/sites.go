package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	api "geominer/siren/pkg/api/alertflow"
	alertflowclient "geominer/siren/pkg/clients/alertflow"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/models"

	"github.com/spf13/cobra"
)

func newSitesCmd() *cobra.Command {
	sites := &cobra.Command{
		Use:   "sites",
		Short: "Inspect monitored mining sites",
	}
	sites.AddCommand(newSitesListCmd())
	return sites
}

func newSitesListCmd() *cobra.Command {
	var apiURL string
	var token string
	var status string
	var region string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitored sites from the alert API",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL = resolveSetting(apiURL, "api_url", "http://localhost:8000/api/v1")
			token = resolveSetting(token, "token", "")

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

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			resp, err := client.ListSites(ctx, api.ListSitesOptions{
				Status: models.SiteStatus(status),
				Region: region,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Sites)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sites (%d of %d)\n", len(resp.Sites), resp.TotalCount)
			for _, site := range resp.Sites {
				fmt.Fprintf(cmd.OutOrStdout(), " %s\n", formatSite(site))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "alert API base URL (default: http://localhost:8000/api/v1)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the alert API")
	cmd.Flags().StringVar(&status, "status", "", "filter by site status")
	cmd.Flags().StringVar(&region, "region", "", "filter by region")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sites to fetch")

	return cmd
}
