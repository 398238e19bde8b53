package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/asanchezmanas/tactics/internal/domain"
	"github.com/asanchezmanas/tactics/internal/pipeline"
)

var (
	runTenant string
	runInput  string
	runBudget float64
	runCutoff string
	runReason string
)

// ledgerFile is the on-disk batch format: one tenant's transactions and
// channel rows, exported from the warehouse.
type ledgerFile struct {
	Transactions []domain.Transaction  `json:"transactions"`
	Channels     []domain.ChannelPoint `json:"channels"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one batch run for a tenant",
	Long: `Reads a ledger file, fits the models, scores every customer, solves
the budget allocation and publishes the results as new snapshots.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ledger, err := readLedger(runInput)
		if err != nil {
			return err
		}

		cutoff := time.Now().UTC()
		if runCutoff != "" {
			cutoff, err = time.Parse("2006-01-02", runCutoff)
			if err != nil {
				return fmt.Errorf("parse cutoff %q: %w", runCutoff, err)
			}
		}

		d, err := openDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("allocating budget"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)

		report, err := d.pipeline.Run(ctx, pipeline.Input{
			TenantID:     runTenant,
			Transactions: ledger.Transactions,
			Channels:     ledger.Channels,
			Cutoff:       cutoff,
			TotalBudget:  runBudget,
			Reason:       runReason,
			Progress: func(done, total int) {
				bar.ChangeMax(total)
				bar.Set(done)
			},
		})
		bar.Finish()
		if err != nil {
			return err
		}

		return printReport(report)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTenant, "tenant", "t", "", "tenant id (required)")
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "path to ledger JSON file (required)")
	runCmd.Flags().Float64VarP(&runBudget, "budget", "b", 0, "total budget to allocate")
	runCmd.Flags().StringVar(&runCutoff, "cutoff", "", "analysis cutoff date (YYYY-MM-DD, default now)")
	runCmd.Flags().StringVar(&runReason, "reason", "scheduled refresh", "snapshot reason annotation")
	runCmd.MarkFlagRequired("tenant")
	runCmd.MarkFlagRequired("input")
}

func readLedger(path string) (*ledgerFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	var ledger ledgerFile
	if err := json.NewDecoder(f).Decode(&ledger); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	if len(ledger.Transactions) == 0 {
		return nil, fmt.Errorf("ledger %s has no transactions", path)
	}
	return &ledger, nil
}

func printReport(report *pipeline.Report) error {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
