package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencommander/commander/internal/queue"
	"github.com/opencommander/commander/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone execution worker",
	Long: `Claim queued task executions from the shared database and run them with
the configured agents. Several workers may share one database; each job is
claimed by exactly one of them.

Execution events are only streamed to SSE clients by workers running inside
'commander serve'.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

var (
	workerConcurrency int
	workerID          string
)

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 2, "Number of jobs run in parallel")
	workerCmd.Flags().StringVar(&workerID, "id", "", "Worker ID recorded on claimed jobs (default: host-pid)")
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	agents, err := worker.NewRegistry(cfg.Agents)
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}

	q := queue.New(store, queue.WithLogger(logger))
	pool := worker.NewPool(worker.ConfigFrom(cfg.Worker), q, store, agents, worker.WithLogger(logger))

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	if cfgPath != "" {
		g.Go(func() error {
			if err := agents.Watch(gctx, cfgPath, reloadConfig(cfgPath), logger); err != nil {
				logger.Warn("config hot reload disabled", "path", cfgPath, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
