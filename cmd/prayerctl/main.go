package main

import (
	"os"

	"github.com/spf13/cobra"

	"prayerd/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prayerctl",
		Short: "Control a running prayerd daemon",
		Long: `prayerctl talks to the prayerd HTTP API: show today's schedule,
acknowledge prayers, change settings, trigger a refresh, or follow
lock broadcasts as a surface.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cli.Addr, "addr", cli.Addr, "prayerd base URL")

	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.AckCmd())
	rootCmd.AddCommand(cli.RefreshCmd())
	rootCmd.AddCommand(cli.SetCmd())
	rootCmd.AddCommand(cli.WatchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
