// Package commands implements the samplecache CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	siteName string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "samplecache",
	Short: "Samples cache for grid-resident physics data",
	Long: `samplecache keeps local copies of grid-resident physics samples.

Sample definitions are YAML files naming datasets in the grid metadata
service or local directory trees. Files are staged into a per-site cache
with cross-host locking, and an embedded catalog tracks what is cached.

Use "samplecache [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: $XDG_CONFIG_HOME/samplecache/config.toml)")
	rootCmd.PersistentFlags().StringVar(&siteName, "site", "",
		"site name override (default: derived from the host domain)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(evictCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
