package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COMMANDER_SERVER_PORT.
const EnvPrefix = "COMMANDER"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: EnvPrefix}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: EnvPrefix}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (COMMANDER_*)
// 3. Project config (.commander/config.yaml)
// 4. User config (~/.config/commander/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".commander")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "commander"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// setDefaults registers every key of Default() so env overrides apply to
// nested keys as well.
func (l *Loader) setDefaults() {
	d := Default()

	l.v.SetDefault("log.level", d.Log.Level)
	l.v.SetDefault("log.format", d.Log.Format)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	l.v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	l.v.SetDefault("database.path", d.Database.Path)

	l.v.SetDefault("presence.sweep_interval", d.Presence.SweepInterval)

	l.v.SetDefault("worker.id", d.Worker.ID)
	l.v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	l.v.SetDefault("worker.poll_interval", d.Worker.PollInterval)
	l.v.SetDefault("worker.lock_duration", d.Worker.LockDuration)
	l.v.SetDefault("worker.clean_interval", d.Worker.CleanInterval)
	l.v.SetDefault("worker.max_memory_percent", d.Worker.MaxMemoryPercent)
	l.v.SetDefault("worker.breaker_threshold", d.Worker.BreakerThreshold)

	for id, agent := range d.Agents {
		l.v.SetDefault("agents."+id+".command", agent.Command)
		l.v.SetDefault("agents."+id+".args", agent.Args)
		l.v.SetDefault("agents."+id+".timeout", agent.Timeout)
	}

	l.v.SetDefault("client.server_url", d.Client.ServerURL)
	l.v.SetDefault("client.token", d.Client.Token)
}
