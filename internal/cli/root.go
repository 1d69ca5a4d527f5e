package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	output  string
	verbose bool
)

// NewRootCmd returns the root command for the siren operator CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sirenctl",
		Short:         "Operator tool for the siren alert relay",
		Long:          "sirenctl tails live alert traffic, fires test events, and works the alert queue from a terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default action: show help and hint at the live view
			_ = cmd.Help()
			fmt.Fprintln(cmd.OutOrStdout(), "\nTip: run 'sirenctl tail' to watch alerts as they arrive.")
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.siren/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "", "output format: json|text (default: text)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(newTailCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newFireCmd())
	rootCmd.AddCommand(newAlertsCmd())
	rootCmd.AddCommand(newSitesCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.siren")
			viper.SetConfigName("config")
		}
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SIREN")
	viper.AutomaticEnv()

	// Ignore missing config
	_ = viper.ReadInConfig()
}

// resolveSetting returns the flag value when set, then the viper key, then
// the fallback. Lets every connection flag default from config or SIREN_*
// environment variables.
func resolveSetting(flagValue, viperKey, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := viper.GetString(viperKey); v != "" {
		return v
	}
	return fallback
}
