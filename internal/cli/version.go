package cli

import (
	"encoding/json"
	"fmt"

	"geominer/siren/pkg/version"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI and relay version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "json" {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(version.GetInfo())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sirenctl\n")
			fmt.Fprintf(cmd.OutOrStdout(), " - version: %s\n", version.Version)
			fmt.Fprintf(cmd.OutOrStdout(), " - component: %s %s\n", version.ComponentName, version.ComponentVersion)
			fmt.Fprintf(cmd.OutOrStdout(), " - git: %s\n", version.GetShortCommit())
			return nil
		},
	}
}
