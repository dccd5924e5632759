package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forkscan/internal/repository"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show persisted collection-cycle history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Database.Enabled {
			return fmt.Errorf("cycle history database is not enabled in the configuration")
		}

		db, err := repository.NewGormDB(&cfg.Database)
		if err != nil {
			return err
		}
		repo := repository.NewGormCycleRepository(db)

		recs, err := repo.RecentCycles(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no cycles recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "CYCLE\tCANDIDATES\tFREED\tSURVIVORS\tBYTES SCANNED\tSWEEP\tWHEN")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%dus\t%s\n",
				r.Cycle, r.Candidates, r.Freed, r.Survivors, r.BytesScanned,
				r.SweepUs, r.CreateTime.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of cycles to show")
	rootCmd.AddCommand(historyCmd)
}
