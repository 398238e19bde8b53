package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tactics",
	Short: "Customer value and marketing budget engine",
	Long: `tactics fits purchase-process and monetary models over a tenant's
transaction ledger, scores every customer with confidence intervals, fits
per-channel response curves and solves the marketing budget allocation.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/config.yaml", "path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
