package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig is a convenience wrapper around a fresh Validator.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateDatabase(&cfg.Database)
	v.validatePresence(&cfg.Presence)
	v.validateWorker(&cfg.Worker)
	v.validateAgents(cfg.Agents)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateDuration(field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	v.validateDuration("server.request_timeout", cfg.RequestTimeout)
	v.validateDuration("server.shutdown_timeout", cfg.ShutdownTimeout)
}

func (v *Validator) validateDatabase(cfg *DatabaseConfig) {
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("database.path", cfg.Path, "path required")
	}
}

func (v *Validator) validatePresence(cfg *PresenceConfig) {
	v.validateDuration("presence.sweep_interval", cfg.SweepInterval)
}

func (v *Validator) validateWorker(cfg *WorkerConfig) {
	if cfg.Concurrency < 1 || cfg.Concurrency > 64 {
		v.addError("worker.concurrency", cfg.Concurrency, "must be between 1 and 64")
	}
	v.validateDuration("worker.poll_interval", cfg.PollInterval)
	v.validateDuration("worker.lock_duration", cfg.LockDuration)
	v.validateDuration("worker.clean_interval", cfg.CleanInterval)
	if cfg.MaxMemoryPercent < 0 || cfg.MaxMemoryPercent > 100 {
		v.addError("worker.max_memory_percent", cfg.MaxMemoryPercent, "must be between 0 and 100")
	}
	if cfg.BreakerThreshold < 1 {
		v.addError("worker.breaker_threshold", cfg.BreakerThreshold, "must be >= 1")
	}
}

func (v *Validator) validateAgents(agents map[string]AgentConfig) {
	if len(agents) == 0 {
		v.addError("agents", nil, "at least one agent required")
		return
	}
	for id, agent := range agents {
		prefix := "agents." + id
		if strings.TrimSpace(agent.Command) == "" {
			v.addError(prefix+".command", agent.Command, "command required")
		}
		v.validateDuration(prefix+".timeout", agent.Timeout)
	}
}
