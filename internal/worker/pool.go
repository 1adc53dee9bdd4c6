// Package worker consumes task execution jobs: it claims them from the
// queue, runs the configured agent command and records the outcome on the
// execution and the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/config"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/diagnostics"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/logging"
	"github.com/opencommander/commander/internal/queue"
)

const (
	defaultStallInterval = 30 * time.Second
	finishTimeout        = 10 * time.Second
	maxJobResult         = 1024
)

// JobSource is the queue surface the pool consumes.
type JobSource interface {
	Claim(ctx context.Context, workerID string, lockFor time.Duration) (*queue.Claimed, error)
	Complete(ctx context.Context, jobID, workerID, result string) error
	Fail(ctx context.Context, jobID, workerID, reason string) error
	ExtendLock(ctx context.Context, jobID, workerID string, lockFor time.Duration) error
	FailStalled(ctx context.Context) ([]string, error)
	Clean(ctx context.Context) (int64, error)
}

// Store is the execution persistence the pool needs.
type Store interface {
	core.ExecutionStore
	GetTask(ctx context.Context, id string) (*core.Task, error)
}

// Publisher receives execution events.
type Publisher interface {
	Publish(event events.Event)
}

// Config tunes a Pool.
type Config struct {
	ID               string
	Concurrency      int
	PollInterval     time.Duration
	LockDuration     time.Duration
	CleanInterval    time.Duration
	StallInterval    time.Duration
	MaxMemoryPercent float64
	BreakerThreshold int
}

// ConfigFrom converts the worker config section, filling defaults.
func ConfigFrom(wc config.WorkerConfig) Config {
	cfg := Config{
		ID:               wc.ID,
		Concurrency:      wc.Concurrency,
		PollInterval:     config.Duration(wc.PollInterval, 2*time.Second),
		LockDuration:     config.Duration(wc.LockDuration, 2*time.Hour),
		CleanInterval:    config.Duration(wc.CleanInterval, 10*time.Minute),
		StallInterval:    defaultStallInterval,
		MaxMemoryPercent: wc.MaxMemoryPercent,
		BreakerThreshold: wc.BreakerThreshold,
	}
	if cfg.ID == "" {
		cfg.ID = DefaultID()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg
}

// DefaultID names a worker after its host and process.
func DefaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Pool runs Concurrency job loops plus stalled-job and retention
// maintenance.
type Pool struct {
	cfg     Config
	queue   JobSource
	store   Store
	agents  *Registry
	runner  *Runner
	bus     Publisher
	breaker *CircuitBreaker
	guard   *diagnostics.MemoryGuard
	clock   clock.Clock
	logger  *logging.Logger

	throttled atomic.Bool
	processed atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the clock for tickers and timestamps.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithPublisher sets where execution events go.
func WithPublisher(pub Publisher) Option {
	return func(p *Pool) { p.bus = pub }
}

// WithMemoryGuard replaces the memory guard built from the config.
func WithMemoryGuard(g *diagnostics.MemoryGuard) Option {
	return func(p *Pool) { p.guard = g }
}

// NewPool creates a pool.
func NewPool(cfg Config, q JobSource, store Store, agents *Registry, opts ...Option) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.StallInterval <= 0 {
		cfg.StallInterval = defaultStallInterval
	}
	if cfg.ID == "" {
		cfg.ID = DefaultID()
	}
	p := &Pool{
		cfg:    cfg,
		queue:  q,
		store:  store,
		agents: agents,
		clock:  clock.Real(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("worker_id", cfg.ID)
	p.runner = NewRunner(p.logger)
	p.breaker = NewCircuitBreaker(cfg.BreakerThreshold, DefaultBreakerCooldown, p.clock)
	if p.guard == nil {
		p.guard = diagnostics.NewMemoryGuard(cfg.MaxMemoryPercent, nil)
	}
	return p
}

// ID returns the worker ID recorded as the job lock owner.
func (p *Pool) ID() string { return p.cfg.ID }

// Processed returns how many jobs this pool has finished.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Run blocks until ctx is done. Jobs in flight at shutdown are cancelled
// and recorded as failed.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker started", "concurrency", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval, "agents", p.agents.IDs())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			p.loop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		p.maintain(gctx)
		return nil
	})
	err := g.Wait()
	p.logger.Info("worker stopped", "processed", p.Processed())
	return err
}

func (p *Pool) loop(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for ctx.Err() == nil && p.ProcessNext(ctx) {
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// ProcessNext claims and runs one job. It returns false when nothing was
// claimed: the queue is empty, claiming is paused, or the claim failed.
func (p *Pool) ProcessNext(ctx context.Context) bool {
	if p.breaker.IsOpen() {
		return false
	}
	if ok, used := p.guard.Allow(); !ok {
		if !p.throttled.Swap(true) {
			p.logger.Warn("memory above limit, pausing claims",
				"mem_percent", used, "limit", p.guard.Limit())
		}
		return false
	}
	if p.throttled.Swap(false) {
		p.logger.Info("memory back under limit, resuming claims")
	}

	claimed, err := p.queue.Claim(ctx, p.cfg.ID, p.cfg.LockDuration)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if core.IsCategory(err, core.ErrCatUnavailable) {
			if p.breaker.RecordFailure() {
				p.logger.Error("queue unavailable, pausing claims",
					"failures", p.breaker.ConsecutiveFailures(), "cooldown", DefaultBreakerCooldown, "error", err)
			}
			return false
		}
		// Undecodable payloads are already failed by the queue.
		p.logger.Warn("discarded job", "error", err)
		return true
	}
	p.breaker.RecordSuccess()
	if claimed == nil {
		return false
	}

	p.process(ctx, claimed)
	p.processed.Add(1)
	return true
}

func (p *Pool) process(ctx context.Context, c *queue.Claimed) {
	job := c.Payload
	log := p.logger.WithExecution(job.ExecutionID)

	task, err := p.store.GetTask(ctx, job.TaskID)
	if err != nil {
		p.abandon(ctx, c, "", fmt.Sprintf("loading task: %v", err))
		return
	}

	if err := p.store.MarkExecutionRunning(ctx, job.ExecutionID, p.clock.Now()); err != nil {
		// Execution is gone or already finished; the job cannot run.
		log.Warn("execution not runnable", "error", err)
		p.failJob(ctx, c, fmt.Sprintf("execution not runnable: %v", err))
		return
	}
	p.publish(events.NewExecutionStartedEvent(task.ProjectID, task.ID, job.ExecutionID, job.AgentID))

	agent, ok := p.agents.Get(job.AgentID)
	if !ok {
		p.abandon(ctx, c, task.ProjectID, fmt.Sprintf("unknown agent %q", job.AgentID))
		return
	}

	stop := p.holdLock(ctx, c)
	res, runErr := p.runner.Run(ctx, agent, job.ExecutionID, job.Body, job.MountPoint)
	stop()
	p.finish(ctx, c, task.ProjectID, res, runErr)
}

// holdLock renews the job lock at half its duration until the returned
// func is called, so long agent runs are not swept as stalled.
func (p *Pool) holdLock(ctx context.Context, c *queue.Claimed) func() {
	if p.cfg.LockDuration <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := p.clock.NewTicker(p.cfg.LockDuration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if err := p.queue.ExtendLock(ctx, c.Job.ID, p.cfg.ID, p.cfg.LockDuration); err != nil && ctx.Err() == nil {
					p.logger.WithExecution(c.Payload.ExecutionID).Warn("renewing job lock", "job_id", c.Job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// finish records a run's outcome on the execution and the job. It uses a
// context detached from shutdown so cancelled runs are still recorded.
func (p *Pool) finish(ctx context.Context, c *queue.Claimed, projectID string, res *RunResult, runErr error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	id := c.Payload.ExecutionID
	log := p.logger.WithExecution(id)
	now := p.clock.Now()

	if runErr != nil {
		msg := runErr.Error()
		p.failJob(fctx, c, msg)
		if err := p.store.FinishExecution(fctx, id, core.ExecutionFailed, res.Logs, "", msg, now); err != nil {
			log.Warn("recording failed execution", "error", err)
			return
		}
		p.publish(events.NewExecutionFailedEvent(projectID, c.Payload.TaskID, id, msg))
		return
	}

	if err := p.store.FinishExecution(fctx, id, core.ExecutionCompleted, res.Logs, res.Stdout, "", now); err != nil {
		// Lost the execution, typically to the stalled sweep.
		log.Warn("recording completed execution", "error", err)
		p.failJob(fctx, c, fmt.Sprintf("recording result: %v", err))
		return
	}
	if err := p.queue.Complete(fctx, c.Job.ID, p.cfg.ID, truncate(res.Stdout, maxJobResult)); err != nil {
		log.Warn("completing job", "job_id", c.Job.ID, "error", err)
	}
	p.publish(events.NewExecutionCompletedEvent(projectID, c.Payload.TaskID, id))
}

// abandon fails an execution that never reached its agent.
func (p *Pool) abandon(ctx context.Context, c *queue.Claimed, projectID, msg string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	id := c.Payload.ExecutionID
	p.failJob(fctx, c, msg)
	if err := p.store.FinishExecution(fctx, id, core.ExecutionFailed, "", "", msg, p.clock.Now()); err != nil {
		p.logger.WithExecution(id).Warn("recording abandoned execution", "error", err)
		return
	}
	p.publish(events.NewExecutionFailedEvent(projectID, c.Payload.TaskID, id, msg))
}

func (p *Pool) failJob(ctx context.Context, c *queue.Claimed, reason string) {
	if err := p.queue.Fail(ctx, c.Job.ID, p.cfg.ID, reason); err != nil {
		p.logger.Warn("failing job", "job_id", c.Job.ID, "error", err)
	}
}

func (p *Pool) maintain(ctx context.Context) {
	p.SweepStalled(ctx)
	p.Clean(ctx)

	stall := p.clock.NewTicker(p.cfg.StallInterval)
	defer stall.Stop()
	clean := p.clock.NewTicker(p.cfg.CleanInterval)
	defer clean.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stall.C():
			p.SweepStalled(ctx)
		case <-clean.C():
			p.Clean(ctx)
		}
	}
}

// SweepStalled fails jobs whose lock expired and the executions behind
// them. It returns the affected execution IDs.
func (p *Pool) SweepStalled(ctx context.Context) []string {
	ids, err := p.queue.FailStalled(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("stalled job sweep failed", "error", err)
		}
		return nil
	}
	for _, id := range ids {
		p.failStalledExecution(ctx, id)
	}
	return ids
}

func (p *Pool) failStalledExecution(ctx context.Context, id string) {
	log := p.logger.WithExecution(id)
	exec, err := p.store.GetExecution(ctx, id)
	if err != nil {
		log.Warn("loading stalled execution", "error", err)
		return
	}
	if exec.Status.IsTerminal() {
		return
	}
	if err := p.store.FinishExecution(ctx, id, core.ExecutionFailed, "", "", queue.StalledReason, p.clock.Now()); err != nil {
		log.Warn("failing stalled execution", "error", err)
		return
	}
	projectID := ""
	if task, err := p.store.GetTask(ctx, exec.TaskID); err == nil {
		projectID = task.ProjectID
	}
	log.Warn("execution stalled", "task_id", exec.TaskID)
	p.publish(events.NewExecutionFailedEvent(projectID, exec.TaskID, id, queue.StalledReason))
}

// Clean applies queue retention and returns the number of jobs removed.
func (p *Pool) Clean(ctx context.Context) int64 {
	n, err := p.queue.Clean(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("job retention cleanup failed", "error", err)
		}
		return n
	}
	if n > 0 {
		p.logger.Debug("removed finished jobs", "count", n)
	}
	return n
}

func (p *Pool) publish(e events.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
