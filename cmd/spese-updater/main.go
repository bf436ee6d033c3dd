package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile  string
	logLevel string
	devMode  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spese-updater",
		Short: "Self-update for the Spese desktop application",
		Long: `spese-updater checks the release feed, downloads the build for this
platform, migrates every accounts backup to the new schema and swaps the
new build into the installation directory.

Settings come from the environment or a .env file.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Copy history backups instead of hard-linking them")

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newCleanupCmd())

	return rootCmd
}
