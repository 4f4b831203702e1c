package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the callslot application
var rootCmd = &cobra.Command{
	Use:   "callslot",
	Short: "One-hour call booking backed by Google Calendar",
	Long: `callslot lets people claim a public username, publish their weekly
availability and take one-hour bookings. Busy time in the connected Google
Calendar is respected and every booking is mirrored there with a Meet link.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// configPath is shared by every subcommand.
var configPath string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "callslot version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "callslot.toml", "Path to the TOML config file. A missing file is ignored.")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newResyncCmd())
	rootCmd.AddCommand(newVersionCmd())
}
