package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Project candidates and disclosures into the downstream workspace",
	Long:  "Creates downstream records for local candidates and disclosures that are not there yet. Existing downstream records are never modified.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if target, _ := cmd.Flags().GetString("target"); target != "" {
			cfg.Sync.Target = target
		}
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := newJobRunner(cfg, st)
		if err != nil {
			return err
		}
		summary, err := jobs.sync(ctx, cfg.Sync.Target)
		if err != nil {
			return err
		}
		return printSummary(os.Stdout, summary)
	},
}

func init() {
	syncCmd.Flags().String("target", "", "downstream workspace: airtable or notion (default from config)")
	rootCmd.AddCommand(syncCmd)
}
