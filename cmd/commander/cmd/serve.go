package cmd

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencommander/commander/internal/api"
	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/config"
	"github.com/opencommander/commander/internal/diagnostics"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/presence"
	"github.com/opencommander/commander/internal/queue"
	"github.com/opencommander/commander/internal/tasks"
	"github.com/opencommander/commander/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the REST API, the SSE event stream and the presence sweeper.

Unless --no-worker is given, an execution worker runs in the same process so
execution events reach SSE subscribers directly.

Examples:
  # Start with defaults (localhost:8080)
  commander serve

  # Listen on all interfaces, run workers elsewhere
  commander serve --host 0.0.0.0 --port 3000 --no-worker`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost     string
	servePort     int
	serveNoWorker bool
)

// eventBufferSize is the per-subscriber buffer of the event bus.
const eventBufferSize = 256

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Do not run an in-process execution worker")
}

func runServe(_ *cobra.Command, _ []string) error {
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

	bus := events.New(eventBufferSize)
	defer bus.Close()

	q := queue.New(store, queue.WithLogger(logger))
	presenceSvc := presence.NewService(store, store,
		presence.WithPublisher(bus),
		presence.WithLogger(logger),
	)
	taskSvc := tasks.NewService(store, q,
		tasks.WithAgents(agents),
		tasks.WithPublisher(bus),
		tasks.WithLogger(logger),
	)

	server := api.NewServer(api.Deps{
		Store:    store,
		Presence: presenceSvc,
		Tasks:    taskSvc,
		Queue:    q,
		Bus:      bus,
	},
		api.WithLogger(logger),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithRequestTimeout(config.Duration(cfg.Server.RequestTimeout, api.DefaultRequestTimeout)),
		api.WithCollector(diagnostics.NewCollector(filepath.Dir(cfg.Database.Path))),
		api.WithVersion(appVersion),
	)

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	shutdown := config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr, shutdown)
	})

	sweeper := presence.NewSweeper(presenceSvc, config.Duration(cfg.Presence.SweepInterval, time.Minute), clock.Real(), logger)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if !serveNoWorker {
		pool := worker.NewPool(worker.ConfigFrom(cfg.Worker), q, store, agents,
			worker.WithLogger(logger),
			worker.WithPublisher(bus),
		)
		g.Go(func() error {
			return pool.Run(gctx)
		})
	}

	if cfgPath != "" {
		g.Go(func() error {
			if err := agents.Watch(gctx, cfgPath, reloadConfig(cfgPath), logger); err != nil {
				logger.Warn("config hot reload disabled", "path", cfgPath, "error", err)
			}
			return nil
		})
	}

	logger.Info("commander started", "version", appVersion, "addr", addr,
		"database", cfg.Database.Path, "worker", !serveNoWorker)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("commander stopped")
	return nil
}
