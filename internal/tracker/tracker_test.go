package tracker

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/testutil"
)

type call struct {
	op        Op
	sessionID string
	status    core.PresenceStatus
}

type fakeTransport struct {
	mu       sync.Mutex
	calls    []call
	failBeat error
	failLeft error
	block    chan struct{}
}

func (f *fakeTransport) Heartbeat(_ context.Context, sessionID string, status core.PresenceStatus) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{OpHeartbeat, sessionID, status})
	return f.failBeat
}

func (f *fakeTransport) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: OpLeave})
	return f.failLeft
}

func (f *fakeTransport) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    core.PresenceStatus
	}{
		{0, core.PresenceActive},
		{29999 * time.Millisecond, core.PresenceActive},
		{30000 * time.Millisecond, core.PresenceViewing},
		{119999 * time.Millisecond, core.PresenceViewing},
		{120000 * time.Millisecond, core.PresenceInactive},
		{time.Hour, core.PresenceInactive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.elapsed), "elapsed %v", tt.elapsed)
	}
}

func TestEnter_ImmediateThenInterval(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{}
	tr := New(transport, WithClock(fake))

	tr.Enter("s1")
	tr.Wait()
	require.Len(t, transport.snapshot(), 1)

	fake.Advance(14 * time.Second)
	tr.Wait()
	assert.Len(t, transport.snapshot(), 1)

	fake.Advance(time.Second)
	tr.Wait()
	calls := transport.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, call{OpHeartbeat, "s1", core.PresenceActive}, calls[1])
}

func TestHeartbeat_CarriesClassifiedStatus(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{}
	tr := New(transport, WithClock(fake))

	tr.Enter("s1")
	for i := 0; i < 2; i++ {
		fake.Advance(15 * time.Second)
	}
	tr.Wait()
	calls := transport.snapshot()
	assert.Equal(t, core.PresenceViewing, calls[len(calls)-1].status, "30s idle is viewing")

	for i := 0; i < 6; i++ {
		fake.Advance(15 * time.Second)
	}
	tr.Wait()
	calls = transport.snapshot()
	assert.Equal(t, core.PresenceInactive, calls[len(calls)-1].status, "120s idle is inactive")

	tr.RecordInteraction()
	assert.Equal(t, core.PresenceActive, tr.Status())
	fake.Advance(15 * time.Second)
	tr.Wait()
	calls = transport.snapshot()
	assert.Equal(t, core.PresenceActive, calls[len(calls)-1].status)
}

func TestRecordInteraction_SendsNothing(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{}
	tr := New(transport, WithClock(fake))

	tr.RecordInteraction()
	tr.RecordInteraction()
	tr.Wait()
	assert.Empty(t, transport.snapshot())
}

func TestEnter_SwitchWithoutLeave(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{}
	tr := New(transport, WithClock(fake))

	tr.Enter("s1")
	fake.Advance(5 * time.Second)
	tr.Enter("s2")
	tr.Wait()

	fake.Advance(10 * time.Second) // old loop would have fired here
	tr.Wait()
	calls := transport.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "s1", calls[0].sessionID)
	assert.Equal(t, "s2", calls[1].sessionID)
	for _, c := range calls {
		assert.NotEqual(t, OpLeave, c.op)
	}

	fake.Advance(5 * time.Second)
	tr.Wait()
	calls = transport.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "s2", calls[2].sessionID)
	assert.Equal(t, 1, fake.Pending(), "no stacked timers")
}

func TestEnter_SameSessionIsNoop(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{}
	tr := New(transport, WithClock(fake))

	tr.Enter("s1")
	tr.Enter("s1")
	tr.Wait()
	assert.Len(t, transport.snapshot(), 1)
	assert.Equal(t, "s1", tr.SessionID())
}

func TestClose_StopsLoopAndLeaves(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{}
	var outcomes []Outcome
	var mu sync.Mutex
	tr := New(transport, WithClock(fake), OnOutcome(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}))

	tr.Enter("s1")
	tr.Wait()

	o := tr.Close()
	assert.True(t, o.OK())
	assert.Equal(t, OpLeave, o.Op)
	assert.Equal(t, "s1", o.SessionID)

	fake.Advance(time.Minute)
	tr.Wait()
	calls := transport.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, OpLeave, calls[1].op)
	assert.Equal(t, 0, fake.Pending())

	again := tr.Close()
	assert.Equal(t, Outcome{}, again, "close is idempotent")
	assert.Len(t, transport.snapshot(), 2)

	tr.Enter("s2")
	tr.Wait()
	assert.Len(t, transport.snapshot(), 2, "closed tracker ignores enter")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 2)
	assert.Equal(t, OpHeartbeat, outcomes[0].Op)
	assert.Equal(t, OpLeave, outcomes[1].Op)
}

func TestClose_WithoutEnterSendsNothing(t *testing.T) {
	transport := &fakeTransport{}
	tr := New(transport, WithClock(clock.NewFake(start)))

	o := tr.Close()
	assert.True(t, o.OK())
	assert.Empty(t, transport.snapshot())
}

func TestFailuresAreOutcomesNotPanics(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{failBeat: testutil.ErrTest, failLeft: testutil.ErrTest}

	var beats []Outcome
	var mu sync.Mutex
	tr := New(transport, WithClock(fake), OnHeartbeat(func(o Outcome) {
		mu.Lock()
		beats = append(beats, o)
		mu.Unlock()
	}))

	tr.Enter("s1")
	fake.Advance(15 * time.Second)
	tr.Wait()

	mu.Lock()
	require.Len(t, beats, 2, "OnHeartbeat runs after failed heartbeats too")
	assert.ErrorIs(t, beats[0].Err, testutil.ErrTest)
	assert.False(t, beats[0].OK())
	mu.Unlock()

	fake.Advance(15 * time.Second)
	tr.Wait()
	assert.Len(t, transport.snapshot(), 3, "loop keeps running after failures")

	o := tr.Close()
	assert.ErrorIs(t, o.Err, testutil.ErrTest)
}

func TestClose_DoesNotCancelInflightHeartbeat(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &fakeTransport{block: make(chan struct{})}
	tr := New(transport, WithClock(fake))

	tr.Enter("s1")
	o := tr.Close()
	assert.True(t, o.OK())

	close(transport.block)
	tr.Wait()

	calls := transport.snapshot()
	require.Len(t, calls, 2)
	ops := []Op{calls[0].op, calls[1].op}
	assert.ElementsMatch(t, []Op{OpHeartbeat, OpLeave}, ops)
}

// lastWriteTransport keeps only the most recent heartbeat, like the
// server's single presence row per user.
type lastWriteTransport struct {
	mu      sync.Mutex
	session string
	status  core.PresenceStatus
	sent    []string
}

func (l *lastWriteTransport) Heartbeat(_ context.Context, sessionID string, status core.PresenceStatus) error {
	runtime.Gosched()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = sessionID
	l.status = status
	l.sent = append(l.sent, sessionID)
	return nil
}

func (l *lastWriteTransport) Leave(context.Context) error { return nil }

func TestEnter_SwitchRelocatesToNewestSession(t *testing.T) {
	for i := 0; i < 50; i++ {
		transport := &lastWriteTransport{}
		tr := New(transport, WithClock(clock.NewFake(start)))

		tr.Enter("a")
		tr.Enter("b")
		tr.Wait()

		transport.mu.Lock()
		assert.Equal(t, "b", transport.session, "run %d", i)
		assert.Equal(t, []string{"a", "b"}, transport.sent, "run %d", i)
		transport.mu.Unlock()
	}
}

func TestHeartbeats_SentInDispatchOrder(t *testing.T) {
	fake := clock.NewFake(start)
	transport := &lastWriteTransport{}
	tr := New(transport, WithClock(fake))

	want := []string{"s1", "s2", "s3", "s1", "s2"}
	for _, id := range want {
		tr.Enter(id)
	}
	fake.Advance(core.ViewingWindow)
	tr.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.GreaterOrEqual(t, len(transport.sent), len(want))
	assert.Equal(t, want, transport.sent[:len(want)])
	for _, id := range transport.sent[len(want):] {
		assert.Equal(t, "s2", id, "ticks stay on the current session")
	}
	assert.Equal(t, "s2", transport.session)
	assert.Equal(t, core.PresenceInactive, transport.status, "newest status wins")
}
