// Package commands implements the nimbusauth CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nimbusauth",
	Short: "Nimbus warehouse authentication tool",
	Long: `nimbusauth exercises the Nimbus driver's credential flows outside a
database session: resolve credentials through any configured provider,
or build and inspect the TLS trust material a connection would use.

Use "nimbusauth [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(logger.Config{Level: logLevel})
	},
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(credsCmd)
	rootCmd.AddCommand(trustCmd)
}

// loadOptions resolves configuration for a command, letting flag overrides
// win over file and environment.
func loadOptions(overrides map[string]any) (*config.Options, error) {
	return config.Load(cfgFile, overrides)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("nimbusauth %s (%s)\n", Version, Commit)
	},
}
