// testnerd plans post-state verification for QA test suites: it matches each
// state-mutating test's verification requirements against the existing corpus
// and compiles ordered execution sequences around the action.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"testnerd/internal/config"
	"testnerd/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded in PersistentPreRunE, shared by all subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "testnerd",
	Short: "Verification matching and execution sequencing for QA test suites",
	Long: `testnerd takes a corpus of QA test cases, finds which existing tests can
verify the side effects of state-mutating tests, and compiles ordered
execution plans (baseline, navigate, session, action, post-verify).

Retrieval uses vector embeddings when an embedding provider is configured,
falling back to lexical search otherwise. Match quality is judged by an LLM
validator whose verdicts are schema-checked before they are trusted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		opts := cfg.Logging
		if verbose {
			opts.Debug = true
			opts.Level = "debug"
		}
		if err := logging.Configure(opts); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "testnerd.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
