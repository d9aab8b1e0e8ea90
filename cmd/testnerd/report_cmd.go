package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"testnerd/internal/planner"
	"testnerd/internal/report"
	"testnerd/internal/store"
)

var (
	reportRunID string
	reportOut   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a markdown report from a stored run",
	Long: `Report loads the execution plans of a stored run from the SQLite store and
renders them as markdown. Without --run the latest run is used.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Run ID (default: latest)")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Output file (default: stdout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	if !cfg.Store.Enabled {
		return fmt.Errorf("store is disabled in config; nothing to report on")
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	runID := reportRunID
	if runID == "" {
		runID, err = db.LatestRunID()
		if err != nil {
			return fmt.Errorf("no stored runs found: %w", err)
		}
	}

	sequences, err := db.LoadRunPlans(runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if len(sequences) == 0 {
		return fmt.Errorf("run %s has no execution plans", runID)
	}

	md := report.RenderSequences(report.Options{
		Title: reportTitle(cfg.Name),
		RunID: runID,
	}, sequences, planner.Summarize(sequences))

	if reportOut == "" {
		fmt.Print(md)
		return nil
	}
	if err := os.WriteFile(reportOut, []byte(md), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", reportOut, err)
	}
	fmt.Printf("Wrote %s (%d plans)\n", reportOut, len(sequences))
	return nil
}
