package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete local candidates of one origin and their disclosures",
	Long:  "Administrative purge. Downstream records are left untouched; the next sync will not recreate them unless the candidates are ingested again.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		origin, _ := cmd.Flags().GetString("origin")
		cycle, _ := cmd.Flags().GetInt("cycle")
		yes, _ := cmd.Flags().GetBool("yes")
		if origin == "" {
			return eris.New("--origin is required")
		}
		if !yes {
			return eris.New("refusing to purge without --yes")
		}
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.PurgeCandidates(ctx, store.PurgeFilter{Origin: origin, Cycle: cycle})
		if err != nil {
			return eris.Wrap(err, "purge")
		}
		zap.L().Info("purged candidates", zap.String("origin", origin), zap.Int("cycle", cycle), zap.Int64("deleted", n))
		_, _ = fmt.Fprintf(os.Stdout, "Deleted %d candidates.\n", n)
		return nil
	},
}

func init() {
	purgeCmd.Flags().String("origin", "", "origin system tag, e.g. FEC")
	purgeCmd.Flags().Int("cycle", 0, "restrict to one election cycle")
	purgeCmd.Flags().Bool("yes", false, "confirm the deletion")
	rootCmd.AddCommand(purgeCmd)
}
