package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Look up sponsors and disclosures for unenriched candidates",
	Long: "Selects a batch of candidates that have not been looked up yet, records each one's sponsoring committee " +
		"(or that none exists), and appends the committee's latest disclosure. With --refresh, checks already " +
		"resolved candidates for newer disclosures instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var req enrichRequest
		req.Limit, _ = cmd.Flags().GetInt("limit")
		req.Offset, _ = cmd.Flags().GetInt("offset")
		req.All, _ = cmd.Flags().GetBool("all")
		req.MaxBatches, _ = cmd.Flags().GetInt("max-batches")
		req.Refresh, _ = cmd.Flags().GetBool("refresh")

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := newJobRunner(cfg, st)
		if err != nil {
			return err
		}
		return printSummary(os.Stdout, jobs.enrich(ctx, req))
	},
}

func init() {
	enrichCmd.Flags().Int("limit", 0, "candidates per batch (default from config, capped by enrich.max_batch_size)")
	enrichCmd.Flags().Int("offset", 0, "skip this many eligible candidates")
	enrichCmd.Flags().Bool("all", false, "run batches until no eligible candidates remain")
	enrichCmd.Flags().Int("max-batches", 0, "stop --all after this many batches (0 = no limit)")
	enrichCmd.Flags().Bool("refresh", false, "refresh disclosures of resolved candidates instead")
	rootCmd.AddCommand(enrichCmd)
}
