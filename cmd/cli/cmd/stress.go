package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forkscan/internal/gc/collector"
	"github.com/forkscan/internal/gc/mem"
	"github.com/forkscan/internal/gc/sweep"
	"github.com/forkscan/internal/repository"
	"github.com/forkscan/internal/storage"
	"github.com/forkscan/internal/stress"
)

var (
	stressMutators int
	stressBlocks   int
	stressWords    int
	stressRoots    int
	stressFork     bool
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run the built-in stress workload against the engine",
	Long: `stress spins up mutator threads that allocate linked blocks from the
built-in arena, keep a bounded root set live and retire everything that
falls out of it, while the collector reclaims the retired blocks cycle by
cycle. With --fork the snapshot runs in a forked child; by default the scan
runs in-process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		arena := mem.NewArena()
		defer arena.Release()

		opts := collector.Options{
			SizeOf:        arena.UsableSize,
			Free:          arena.Free,
			QueueCapacity: cfg.Engine.QueueCapacity,
			PageSize:      cfg.Engine.PageSize,
			Sweep: sweep.Config{
				MaxWorkers:     cfg.Sweep.MaxWorkers,
				AddrsPerWorker: cfg.Sweep.AddrsPerWorker,
				UnrefDepth:     cfg.Sweep.UnrefDepth,
			},
			Logger: logger,
		}

		if cfg.Database.Enabled {
			db, err := repository.NewGormDB(&cfg.Database)
			if err != nil {
				return err
			}
			opts.Repo = repository.NewGormCycleRepository(db)
		}
		if cfg.Archive.Enabled {
			st, err := storage.NewStorage(&cfg.Archive)
			if err != nil {
				return err
			}
			opts.Archive = st
		}

		c, err := newEngineCollector(opts, stressFork)
		if err != nil {
			return err
		}
		defer c.OnProcessDeath()

		runCfg := stress.Config{
			Mutators:         stressMutators,
			BlocksPerMutator: stressBlocks,
			BlockWords:       stressWords,
			LiveRoots:        stressRoots,
			DrainTimeout:     60 * time.Second,
		}

		logger.Info("starting stress run: %d mutators x %d blocks", runCfg.Mutators, runCfg.BlocksPerMutator)
		report, err := stress.NewRunner(runCfg, c, arena, logger).Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("allocated: %d freed: %d live: %d cycles: %d forks: %d\n",
			report.Allocated, report.Freed, report.Live, report.Cycles, report.Forks)
		c.PrintStatistics(os.Stdout)

		if report.Live != 0 {
			return fmt.Errorf("%d blocks were not reclaimed", report.Live)
		}
		return nil
	},
}

func init() {
	stressCmd.Flags().IntVar(&stressMutators, "mutators", 4, "number of mutator threads")
	stressCmd.Flags().IntVar(&stressBlocks, "blocks", 20000, "blocks allocated per mutator")
	stressCmd.Flags().IntVar(&stressWords, "words", 8, "block payload size in words")
	stressCmd.Flags().IntVar(&stressRoots, "roots", 64, "live root set size per mutator")
	stressCmd.Flags().BoolVar(&stressFork, "fork", false, "snapshot via fork instead of in-process scan")
	rootCmd.AddCommand(stressCmd)
}
