package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencommander/commander/internal/config"
	"github.com/opencommander/commander/internal/logging"
)

// DefaultAgentTimeout bounds an agent run when its config sets none.
const DefaultAgentTimeout = time.Hour

// Agent is a resolved agent launch description.
type Agent struct {
	ID      string
	Command string
	Args    []string
	Timeout time.Duration
	Env     map[string]string
}

// Registry holds the agent table. It can be swapped at runtime when the
// config file changes.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry builds a registry from the agents config section.
func NewRegistry(cfg map[string]config.AgentConfig) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the agent table. The old table is kept when cfg is invalid.
func (r *Registry) Replace(cfg map[string]config.AgentConfig) error {
	agents := make(map[string]Agent, len(cfg))
	for id, ac := range cfg {
		cmd := strings.TrimSpace(ac.Command)
		if cmd == "" {
			return fmt.Errorf("agent %q: command is required", id)
		}
		agents[id] = Agent{
			ID:      id,
			Command: cmd,
			Args:    append([]string(nil), ac.Args...),
			Timeout: config.Duration(ac.Timeout, DefaultAgentTimeout),
			Env:     ac.Env,
		}
	}

	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Has reports whether id names a registered agent.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the registered agent IDs in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch reloads the agent table whenever the config file at path changes,
// until ctx is done. load re-reads the configuration; failed loads keep the
// current table.
func (r *Registry) Watch(ctx context.Context, path string, load func() (*config.Config, error), logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	return config.Watch(ctx, path, func() {
		cfg, err := load()
		if err != nil {
			logger.Warn("agent reload skipped", "path", path, "error", err)
			return
		}
		if err := r.Replace(cfg.Agents); err != nil {
			logger.Warn("agent reload rejected", "path", path, "error", err)
			return
		}
		logger.Info("agents reloaded", "agents", r.IDs())
	})
}
