package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest candidate listings from OpenFEC",
	Long:  "Walks every page of each candidate category and resolves each record into the local store. Re-running is safe: known candidates are skipped.",
}

var ingestBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Ingest every configured category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd, "")
	},
}

var ingestStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Ingest the categories of one state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		state, _ := cmd.Flags().GetString("state")
		if state == "" {
			return eris.New("--state is required")
		}
		return runIngest(cmd, state)
	},
}

func runIngest(cmd *cobra.Command, state string) error {
	if err := cfg.Validate("ingest"); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := ingestFlags(cmd)
	if err != nil {
		return err
	}
	req.State = state

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	jobs, err := newJobRunner(cfg, st)
	if err != nil {
		return err
	}
	return printSummary(os.Stdout, jobs.ingest(ctx, req))
}

func ingestFlags(cmd *cobra.Command) (ingestRequest, error) {
	var req ingestRequest
	cycles, _ := cmd.Flags().GetString("cycles")
	parsed, err := parseInts(cycles)
	if err != nil {
		return req, eris.Wrap(err, "--cycles")
	}
	req.Cycles = parsed

	parties, _ := cmd.Flags().GetString("parties")
	req.Parties = parseList(parties)
	offices, _ := cmd.Flags().GetString("offices")
	req.Offices = parseList(offices)
	return req, nil
}

func init() {
	for _, c := range []*cobra.Command{ingestBackfillCmd, ingestStateCmd} {
		c.Flags().String("cycles", "", "comma-separated election cycles (default from config)")
		c.Flags().String("parties", "", "comma-separated party codes, e.g. DEM,IND (default from config)")
		c.Flags().String("offices", "", "comma-separated office codes H,S,P (default from config)")
		ingestCmd.AddCommand(c)
	}
	ingestStateCmd.Flags().String("state", "", "two-letter state code")
	rootCmd.AddCommand(ingestCmd)
}
