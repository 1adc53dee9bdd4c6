package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opencommander/commander/internal/client"
	"github.com/opencommander/commander/internal/config"
	"github.com/opencommander/commander/internal/logging"
	"github.com/opencommander/commander/internal/storage"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	serverURL string

	// Version info - set via SetVersion()
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "commander",
	Short: "Shared terminal sessions with live presence and queued agent tasks",
	Long: `Open Commander tracks who is looking at which terminal session of a
project and runs agent tasks through a persistent job queue.

Start the server with 'commander serve', then follow a project's sessions
from a terminal with 'commander watch <project>'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information for the version command and /health.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .commander/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"API server URL for client commands (default: client.server_url)")
}

// initConfig binds the persistent flags, and any local flags that map to
// config keys, into the global viper instance.
func initConfig(cmd *cobra.Command) error {
	bindings := map[string]string{
		"log.level":         "log-level",
		"log.format":        "log-format",
		"client.server_url": "server",
	}
	for key, name := range bindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}
	if bind, ok := flagBindings[cmd.Name()]; ok {
		for key, name := range bind {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := viper.BindPFlag(key, f); err != nil {
					return fmt.Errorf("binding --%s: %w", name, err)
				}
			}
		}
	}
	return nil
}

// flagBindings maps command-local flags onto config keys, per command name.
var flagBindings = map[string]map[string]string{
	"serve": {
		"server.host": "host",
		"server.port": "port",
	},
	"worker": {
		"worker.concurrency": "concurrency",
		"worker.id":          "id",
	},
}

// loadConfig loads and validates configuration using the global viper
// instance, so bound flags take precedence. The returned path is the file
// actually read, or empty.
func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, "", fmt.Errorf("validating config: %w", err)
	}
	return cfg, loader.ConfigFile(), nil
}

// reloadConfig re-reads path without flag bindings. Used by hot reload.
func reloadConfig(path string) func() (*config.Config, error) {
	return func() (*config.Config, error) {
		cfg, err := config.NewLoader().WithConfigFile(path).Load()
		if err != nil {
			return nil, err
		}
		if err := config.ValidateConfig(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
}

func newLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: out,
	})
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
	}
	return store, nil
}

func newClient(cfg *config.Config, logger *logging.Logger) (*client.Client, error) {
	if cfg.Client.Token == "" {
		return nil, fmt.Errorf("client.token is not set; create one with 'commander user add' and set COMMANDER_CLIENT_TOKEN")
	}
	return client.New(client.Config{
		BaseURL: cfg.Client.ServerURL,
		Token:   cfg.Client.Token,
		Logger:  logger,
	})
}

// clientFor loads config and returns an API client logging to stderr.
func clientFor() (*client.Client, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newClient(cfg, newLogger(cfg, os.Stderr))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
