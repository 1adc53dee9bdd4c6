package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/queue"
	"github.com/opencommander/commander/internal/testutil"
)

type agentSet map[string]bool

func (a agentSet) Has(id string) bool { return a[id] }

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, core.TaskExecutionJob) (string, error) {
	return "", core.ErrUnavailable("queue", testutil.ErrTest)
}

func setup(t *testing.T, q core.JobQueue) (*Service, *testutil.Fixture, *queue.Queue, <-chan events.Event) {
	t.Helper()
	store := testutil.NewStore(t)
	fix := testutil.NewFixture(t, store)
	realQueue := queue.New(store)
	if q == nil {
		q = realQueue
	}
	bus := events.New(16)
	t.Cleanup(bus.Close)
	sub := bus.Subscribe()
	svc := NewService(store, q, WithAgents(agentSet{"claude": true}), WithPublisher(bus))
	return svc, fix, realQueue, sub
}

func TestCreate_EnqueuesPendingExecution(t *testing.T) {
	svc, fix, q, sub := setup(t, nil)
	ctx := context.Background()

	task, exec, err := svc.Create(ctx, fix.Owner.ID, fix.Project.ID, CreateInput{
		Body: "write tests", AgentID: "claude", MountPoint: " /src ",
	})
	require.NoError(t, err)
	assert.Equal(t, "/src", task.MountPoint)
	assert.Equal(t, core.ExecutionPending, exec.Status)

	claimed, err := q.Claim(ctx, "w", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, exec.ID, claimed.Job.ID)
	assert.Equal(t, task.ID, claimed.Payload.TaskID)
	assert.Equal(t, "write tests", claimed.Payload.Body)

	select {
	case e := <-sub:
		assert.Equal(t, events.TypeExecutionQueued, e.EventType())
		assert.Equal(t, fix.Project.ID, e.ProjectID())
	case <-time.After(time.Second):
		t.Fatal("no queued event")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, fix, _, _ := setup(t, nil)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, fix.Owner.ID, fix.Project.ID, CreateInput{Body: " ", AgentID: "claude"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, _, err = svc.Create(ctx, fix.Owner.ID, fix.Project.ID, CreateInput{Body: "x", AgentID: "gpt"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, _, err = svc.Create(ctx, fix.Owner.ID, "", CreateInput{Body: "x", AgentID: "claude"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	outsider, _ := testutil.SeedUser(t, fix.Store, "outsider")
	_, _, err = svc.Create(ctx, outsider.ID, fix.Project.ID, CreateInput{Body: "x", AgentID: "claude"})
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestCreate_EnqueueFailureMarksExecutionFailed(t *testing.T) {
	svc, fix, _, _ := setup(t, failingQueue{})
	ctx := context.Background()

	task, exec, err := svc.Create(ctx, fix.Owner.ID, fix.Project.ID, CreateInput{Body: "x", AgentID: "claude"})
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrTest)
	require.NotNil(t, exec)

	stored, err := fix.Store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionFailed, stored.Status)
	assert.Contains(t, stored.Error, "enqueue failed")

	detail, err := svc.Get(ctx, fix.Owner.ID, task.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 1)
	assert.Equal(t, core.ExecutionFailed, detail.Executions[0].Status)
}

func TestRerun_CreatesNewExecution(t *testing.T) {
	svc, fix, q, _ := setup(t, nil)
	ctx := context.Background()

	task, first, err := svc.Create(ctx, fix.Owner.ID, fix.Project.ID, CreateInput{Body: "x", AgentID: "claude"})
	require.NoError(t, err)

	second, err := svc.Rerun(ctx, fix.Owner.ID, task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)

	detail, err := svc.Get(ctx, fix.Owner.ID, task.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Executions, 2)

	_, err = svc.Rerun(ctx, fix.Owner.ID, "missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestReads_RequireMembership(t *testing.T) {
	svc, fix, _, _ := setup(t, nil)
	ctx := context.Background()

	task, exec, err := svc.Create(ctx, fix.Owner.ID, fix.Project.ID, CreateInput{Body: "x", AgentID: "claude"})
	require.NoError(t, err)

	list, err := svc.List(ctx, fix.Owner.ID, fix.Project.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	got, err := svc.Execution(ctx, fix.Owner.ID, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.TaskID)

	outsider, _ := testutil.SeedUser(t, fix.Store, "outsider")
	_, err = svc.Get(ctx, outsider.ID, task.ID)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
	_, err = svc.Execution(ctx, outsider.ID, exec.ID)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
	_, err = svc.List(ctx, outsider.ID, fix.Project.ID)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}
