package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/testutil"
)

func TestRunner_Success(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "agent.sh", `
cat
echo "working in $(pwd) as $COMMANDER_AGENT" >&2
echo "level=$EFFORT" >&2`)

	r := NewRunner(nil)
	res, err := r.Run(context.Background(), Agent{
		ID:      "echo",
		Command: script,
		Timeout: 5 * time.Second,
		Env:     map[string]string{"EFFORT": "high"},
	}, "exec-1", "fix the build\n", dir)
	require.NoError(t, err)

	assert.Equal(t, "fix the build\n", res.Stdout)
	assert.Contains(t, res.Logs, "fix the build")
	assert.Contains(t, res.Logs, "as echo")
	assert.Contains(t, res.Logs, "level=high")
	assert.Contains(t, res.Logs, dir)
	assert.Zero(t, res.ExitCode)
}

func TestRunner_CommandWithInlineArgs(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "args.sh", `echo "$@"`)

	res, err := NewRunner(nil).Run(context.Background(), Agent{
		ID:      "args",
		Command: script + " --print",
		Args:    []string{"--verbose"},
	}, "exec-1", "", dir)
	require.NoError(t, err)
	assert.Equal(t, "--print --verbose\n", res.Stdout)
}

func TestRunner_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "fail.sh", `echo "boom" >&2; exit 3`)

	res, err := NewRunner(nil).Run(context.Background(), Agent{ID: "bad", Command: script}, "exec-1", "", dir)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatExecution))
	assert.Contains(t, err.Error(), core.CodeAgentFailed)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Logs, "boom")
}

func TestRunner_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "slow.sh", `exec sleep 5`)

	start := time.Now()
	_, err := NewRunner(nil).Run(context.Background(), Agent{
		ID:      "slow",
		Command: script,
		Timeout: 100 * time.Millisecond,
	}, "exec-1", "", dir)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunner_Cancelled(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "slow.sh", `exec sleep 5`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := NewRunner(nil).Run(ctx, Agent{ID: "slow", Command: script, Timeout: time.Minute}, "exec-1", "", dir)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
	assert.Contains(t, err.Error(), core.CodeCancelled)
}

func TestRunner_MissingBinary(t *testing.T) {
	_, err := NewRunner(nil).Run(context.Background(), Agent{
		ID:      "ghost",
		Command: "/nonexistent/agent-binary",
	}, "exec-1", "", t.TempDir())
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatExecution))
}

func TestCapped(t *testing.T) {
	c := &capped{limit: 8}
	n, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = c.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 6, n, "writes report full length so the process is not blocked")

	out := c.String()
	assert.True(t, strings.HasPrefix(out, "hello wo"))
	assert.Contains(t, out, "[output truncated]")
}
