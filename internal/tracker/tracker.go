// Package tracker is the client half of presence: it classifies the local
// user's engagement and heartbeats it to the server while a session is open.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
)

// Classify maps time since the last interaction to a presence status.
// A value exactly on a threshold belongs to the less engaged state.
func Classify(elapsed time.Duration) core.PresenceStatus {
	switch {
	case elapsed < core.ActiveWindow:
		return core.PresenceActive
	case elapsed < core.ViewingWindow:
		return core.PresenceViewing
	default:
		return core.PresenceInactive
	}
}

// Transport carries heartbeats and leaves to the server.
type Transport interface {
	Heartbeat(ctx context.Context, sessionID string, status core.PresenceStatus) error
	Leave(ctx context.Context) error
}

// Op names a best-effort call.
type Op string

const (
	OpHeartbeat Op = "heartbeat"
	OpLeave     Op = "leave"
)

// Outcome is the result of a best-effort call. Callers may ignore it.
type Outcome struct {
	Op        Op
	SessionID string
	Status    core.PresenceStatus
	Err       error
	At        time.Time
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Tracker runs the heartbeat loop for one user.
type Tracker struct {
	transport Transport
	clock     clock.Clock
	logger    *logging.Logger
	interval  time.Duration
	timeout   time.Duration

	onOutcome   func(Outcome)
	onHeartbeat func(Outcome)

	mu              sync.Mutex
	lastInteraction time.Time
	sessionID       string
	timer           clock.Timer
	generation      uint64
	closed          bool

	// Heartbeats go out one at a time in dispatch order, so a later
	// heartbeat never lands before an earlier one.
	pending  []beat
	draining bool
	inflight sync.WaitGroup
}

type beat struct {
	sessionID string
	status    core.PresenceStatus
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock driving heartbeats and classification.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the tracker logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithInterval overrides the heartbeat interval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithRequestTimeout bounds each transport call.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// OnOutcome registers a hook that sees every heartbeat and leave result.
func OnOutcome(fn func(Outcome)) Option {
	return func(t *Tracker) { t.onOutcome = fn }
}

// OnHeartbeat registers a hook run after every heartbeat, successful or not.
func OnHeartbeat(fn func(Outcome)) Option {
	return func(t *Tracker) { t.onHeartbeat = fn }
}

// New creates a tracker. The user counts as freshly active at creation.
func New(transport Transport, opts ...Option) *Tracker {
	t := &Tracker{
		transport: transport,
		clock:     clock.Real(),
		logger:    logging.NewNop(),
		interval:  core.HeartbeatInterval,
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastInteraction = t.clock.Now()
	return t
}

// RecordInteraction marks the user as active now. It never sends anything.
func (t *Tracker) RecordInteraction() {
	now := t.clock.Now()
	t.mu.Lock()
	t.lastInteraction = now
	t.mu.Unlock()
}

// Status classifies the user's current engagement.
func (t *Tracker) Status() core.PresenceStatus {
	t.mu.Lock()
	last := t.lastInteraction
	t.mu.Unlock()
	return Classify(t.clock.Now().Sub(last))
}

// SessionID returns the session currently being heartbeated.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Enter starts heartbeating sessionID: one heartbeat immediately, then one
// per interval. Entering another session while one is open moves the loop
// to the new session without sending a leave; the next heartbeat relocates
// the user server-side. Entering the current session again is a no-op.
func (t *Tracker) Enter(sessionID string) {
	t.mu.Lock()
	if t.closed || sessionID == "" || sessionID == t.sessionID {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation
	t.sessionID = sessionID
	t.timer = t.clock.AfterFunc(t.interval, func() { t.tick(gen) })
	start := t.enqueueLocked(sessionID)
	t.mu.Unlock()

	t.logger.Debug("entered session", "session_id", sessionID)
	if start {
		go t.drain()
	}
}

// tick sends one heartbeat and schedules the next, unless the loop it
// belongs to was replaced or closed.
func (t *Tracker) tick(gen uint64) {
	t.mu.Lock()
	if t.closed || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, func() { t.tick(gen) })
	start := t.enqueueLocked(t.sessionID)
	t.mu.Unlock()

	if start {
		go t.drain()
	}
}

// enqueueLocked queues a heartbeat classified now. It reports whether the
// caller must start a drain goroutine. t.mu must be held.
func (t *Tracker) enqueueLocked(sessionID string) bool {
	status := Classify(t.clock.Now().Sub(t.lastInteraction))
	t.pending = append(t.pending, beat{sessionID: sessionID, status: status})
	if t.draining {
		return false
	}
	t.draining = true
	t.inflight.Add(1)
	return true
}

// drain sends queued heartbeats in order until the queue is empty.
func (t *Tracker) drain() {
	defer t.inflight.Done()
	for {
		t.mu.Lock()
		if len(t.pending) == 0 {
			t.draining = false
			t.mu.Unlock()
			return
		}
		b := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()

		t.heartbeat(b)
	}
}

func (t *Tracker) heartbeat(b beat) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.transport.Heartbeat(ctx, b.sessionID, b.status)
	o := Outcome{Op: OpHeartbeat, SessionID: b.sessionID, Status: b.status, Err: err, At: t.clock.Now()}
	if err != nil {
		t.logger.Warn("presence heartbeat failed", "session_id", b.sessionID, "error", err)
	}
	t.report(o)
	if t.onHeartbeat != nil {
		t.onHeartbeat(o)
	}
}

func (t *Tracker) report(o Outcome) {
	if t.onOutcome != nil {
		t.onOutcome(o)
	}
}

// Close stops future heartbeats and sends a best-effort leave if a session
// was entered. A heartbeat already in flight is not cancelled. Close is
// idempotent; later calls return a zero Outcome.
func (t *Tracker) Close() Outcome {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Outcome{}
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	sessionID := t.sessionID
	t.mu.Unlock()

	if sessionID == "" {
		return Outcome{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.transport.Leave(ctx)
	o := Outcome{Op: OpLeave, SessionID: sessionID, Err: err, At: t.clock.Now()}
	if err != nil {
		t.logger.Warn("presence leave failed", "session_id", sessionID, "error", err)
	}
	t.report(o)
	return o
}

// Wait blocks until in-flight and queued heartbeats finish.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}
