package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
)

const (
	// maxLogBytes caps the combined output kept for one run.
	maxLogBytes = 8 << 20
	// waitDelay bounds how long output pipes stay open after the agent is
	// killed, in case it left children holding them.
	waitDelay = 5 * time.Second
)

// RunResult is the captured outcome of one agent run.
type RunResult struct {
	Stdout   string
	Logs     string
	ExitCode int
	Duration time.Duration
}

// Runner launches agent commands.
type Runner struct {
	logger *logging.Logger
}

// NewRunner creates a runner.
func NewRunner(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{logger: logger}
}

// Run executes agent with body on stdin and dir as the working directory.
// Logs interleave stdout and stderr in arrival order. A run past the agent
// timeout returns a timeout error; a non-zero exit returns an execution
// error. The result is returned in both cases.
func (r *Runner) Run(ctx context.Context, agent Agent, executionID, body, dir string) (*RunResult, error) {
	timeout := agent.Timeout
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdPath := agent.Command
	args := agent.Args
	if parts := strings.Fields(cmdPath); len(parts) > 1 {
		cmdPath = parts[0]
		args = append(parts[1:], args...)
	}

	// #nosec G204 -- command and args come from the operator's agent config
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(body)
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	logs := &capped{limit: maxLogBytes}
	cmd.Stdout = &teeWriter{primary: &stdout, logs: logs}
	cmd.Stderr = logs

	cmd.Env = append(os.Environ(),
		"COMMANDER_MANAGED=true",
		"COMMANDER_AGENT="+agent.ID,
		"COMMANDER_EXECUTION_ID="+executionID,
	)
	for k, v := range agent.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	log := r.logger.WithExecution(executionID)
	log.Info("agent: starting", "agent", agent.ID, "path", cmdPath, "args", args,
		"work_dir", dir, "stdin_length", len(body), "timeout", timeout)

	start := time.Now()
	err := cmd.Run()
	res := &RunResult{
		Stdout:   stdout.String(),
		Logs:     logs.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		log.Error("agent: timed out", "agent", agent.ID, "duration", res.Duration)
		return res, core.ErrTimeout(fmt.Sprintf("agent %s timed out after %v", agent.ID, timeout))
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		res.ExitCode = -1
		log.Warn("agent: cancelled", "agent", agent.ID, "duration", res.Duration)
		return res, core.ErrState(core.CodeCancelled, fmt.Sprintf("agent %s run cancelled", agent.ID))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			log.Error("agent: failed", "agent", agent.ID, "exit_code", res.ExitCode, "duration", res.Duration)
			return res, core.ErrExecution(core.CodeAgentFailed,
				fmt.Sprintf("agent %s exited with code %d", agent.ID, res.ExitCode))
		}
		res.ExitCode = -1
		log.Error("agent: could not run", "agent", agent.ID, "error", err)
		return res, core.ErrExecution(core.CodeAgentFailed,
			fmt.Sprintf("running agent %s: %v", agent.ID, err)).WithCause(err)
	}

	log.Info("agent: completed", "agent", agent.ID, "duration", res.Duration,
		"stdout_length", len(res.Stdout))
	return res, nil
}

// capped is a concurrency-safe buffer that stops growing at limit.
type capped struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.limit - c.buf.Len(); room < len(p) {
		if room > 0 {
			c.buf.Write(p[:room])
		}
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capped) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return c.buf.String() + "\n[output truncated]\n"
	}
	return c.buf.String()
}

type teeWriter struct {
	primary *bytes.Buffer
	logs    *capped
}

func (w *teeWriter) Write(p []byte) (int, error) {
	if w.primary.Len() < maxLogBytes {
		w.primary.Write(p)
	}
	return w.logs.Write(p)
}
