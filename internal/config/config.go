// Package config loads commander configuration from flags, environment,
// YAML files and defaults.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig              `mapstructure:"log" yaml:"log"`
	Server   ServerConfig           `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig         `mapstructure:"database" yaml:"database"`
	Presence PresenceConfig         `mapstructure:"presence" yaml:"presence"`
	Worker   WorkerConfig           `mapstructure:"worker" yaml:"worker"`
	Agents   map[string]AgentConfig `mapstructure:"agents" yaml:"agents"`
	Client   ClientConfig           `mapstructure:"client" yaml:"client"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	RequestTimeout  string   `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the SQLite database shared by presence, tasks
// and the job queue.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PresenceConfig configures the server-side stale sweeper. The staleness
// threshold itself is fixed at five minutes.
type PresenceConfig struct {
	SweepInterval string `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// WorkerConfig configures the execution worker pool.
type WorkerConfig struct {
	ID               string  `mapstructure:"id" yaml:"id,omitempty"`
	Concurrency      int     `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval     string  `mapstructure:"poll_interval" yaml:"poll_interval"`
	LockDuration     string  `mapstructure:"lock_duration" yaml:"lock_duration"`
	CleanInterval    string  `mapstructure:"clean_interval" yaml:"clean_interval"`
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent" yaml:"max_memory_percent"`
	BreakerThreshold int     `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
}

// AgentConfig describes how to launch one agent. The task body is written
// to the command's stdin and the mount point becomes its working directory.
type AgentConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Timeout string            `mapstructure:"timeout" yaml:"timeout"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// ClientConfig configures the CLI and terminal client.
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	Token     string `mapstructure:"token" yaml:"token,omitempty"`
}

// Duration parses s, falling back to def when s is empty or malformed.
// Malformed values are reported by the Validator, not here.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			RequestTimeout:  "60s",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{Path: ".commander/commander.db"},
		Presence: PresenceConfig{SweepInterval: "1m"},
		Worker: WorkerConfig{
			Concurrency:      2,
			PollInterval:     "2s",
			LockDuration:     "2h",
			CleanInterval:    "10m",
			MaxMemoryPercent: 90,
			BreakerThreshold: 5,
		},
		Agents: map[string]AgentConfig{
			"claude": {Command: "claude", Args: []string{"-p"}, Timeout: "1h"},
			"codex":  {Command: "codex", Args: []string{"exec", "-"}, Timeout: "1h"},
		},
		Client: ClientConfig{ServerURL: "http://localhost:8080"},
	}
}
