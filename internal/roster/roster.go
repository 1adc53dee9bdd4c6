// Package roster turns successive presence snapshots into a visible member
// list with short-lived entering and leaving states for animation.
package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
)

// Default transition durations.
const (
	EnterDuration = 500 * time.Millisecond
	LeaveDuration = 300 * time.Millisecond
)

// State is a member's transition state.
type State string

const (
	Steady   State = "steady"
	Entering State = "entering"
	Leaving  State = "leaving"
)

// Member is one visible roster row.
type Member struct {
	Entry core.PresenceEntry
	State State
}

// Roster diffs presence snapshots. It is safe for concurrent use.
type Roster struct {
	clock     clock.Clock
	enterFor  time.Duration
	leaveFor  time.Duration
	onChange  func()
	mu        sync.Mutex
	seen      bool
	current   map[string]core.PresenceEntry
	entering  map[string]bool
	leaving   map[string]core.PresenceEntry
	enterTime clock.Timer
	leaveTime clock.Timer
	enterGen  uint64
	leaveGen  uint64
}

// Option configures a Roster.
type Option func(*Roster)

// WithClock sets the clock that drives transition timers.
func WithClock(c clock.Clock) Option {
	return func(r *Roster) { r.clock = c }
}

// WithDurations overrides the enter and leave durations.
func WithDurations(enter, leave time.Duration) Option {
	return func(r *Roster) {
		r.enterFor = enter
		r.leaveFor = leave
	}
}

// OnChange registers a hook run whenever a transition timer fires.
func OnChange(fn func()) Option {
	return func(r *Roster) { r.onChange = fn }
}

// New creates an empty roster.
func New(opts ...Option) *Roster {
	r := &Roster{
		clock:    clock.Real(),
		enterFor: EnterDuration,
		leaveFor: LeaveDuration,
		current:  map[string]core.PresenceEntry{},
		entering: map[string]bool{},
		leaving:  map[string]core.PresenceEntry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Update records a new snapshot and returns the IDs that entered and left.
// The first snapshot only establishes membership and reports nothing.
func (r *Roster) Update(members []core.PresenceEntry) (entered, left []string) {
	next := make(map[string]core.PresenceEntry, len(members))
	for _, m := range members {
		next[m.UserID] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seen {
		r.seen = true
		r.current = next
		return nil, nil
	}

	for id := range next {
		if _, ok := r.current[id]; !ok {
			entered = append(entered, id)
		}
	}
	for id := range r.current {
		if _, ok := next[id]; !ok {
			left = append(left, id)
		}
	}
	sort.Strings(entered)
	sort.Strings(left)

	if len(entered) > 0 {
		if r.enterTime != nil {
			r.enterTime.Stop()
		}
		r.entering = make(map[string]bool, len(entered))
		for _, id := range entered {
			r.entering[id] = true
		}
		r.enterGen++
		gen := r.enterGen
		r.enterTime = r.clock.AfterFunc(r.enterFor, func() { r.finishEntering(gen) })
	}

	if len(left) > 0 {
		if r.leaveTime != nil {
			r.leaveTime.Stop()
		}
		r.leaving = make(map[string]core.PresenceEntry, len(left))
		for _, id := range left {
			r.leaving[id] = r.current[id]
		}
		r.leaveGen++
		gen := r.leaveGen
		r.leaveTime = r.clock.AfterFunc(r.leaveFor, func() { r.finishLeaving(gen) })
	}

	// A member who comes back before their leave finished is simply present.
	for id := range next {
		delete(r.leaving, id)
	}

	r.current = next
	return entered, left
}

// finishEntering clears the entering batch unless a newer batch replaced it.
func (r *Roster) finishEntering(gen uint64) {
	r.mu.Lock()
	if gen != r.enterGen {
		r.mu.Unlock()
		return
	}
	r.entering = map[string]bool{}
	r.enterTime = nil
	r.mu.Unlock()
	r.changed()
}

func (r *Roster) finishLeaving(gen uint64) {
	r.mu.Lock()
	if gen != r.leaveGen {
		r.mu.Unlock()
		return
	}
	r.leaving = map[string]core.PresenceEntry{}
	r.leaveTime = nil
	r.mu.Unlock()
	r.changed()
}

func (r *Roster) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// Visible returns current members plus members still leaving, ordered by
// display name.
func (r *Roster) Visible() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Member, 0, len(r.current)+len(r.leaving))
	for id, e := range r.current {
		state := Steady
		if r.entering[id] {
			state = Entering
		}
		out = append(out, Member{Entry: e, State: state})
	}
	for _, e := range r.leaving {
		out = append(out, Member{Entry: e, State: Leaving})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Entry, out[j].Entry
		if a.User.Name != b.User.Name {
			return a.User.Name < b.User.Name
		}
		return a.UserID < b.UserID
	})
	return out
}

// Reset forgets all members and cancels pending timers, so the next Update
// is treated as a first observation. Used when switching sessions.
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enterTime != nil {
		r.enterTime.Stop()
		r.enterTime = nil
	}
	if r.leaveTime != nil {
		r.leaveTime.Stop()
		r.leaveTime = nil
	}
	r.enterGen++
	r.leaveGen++
	r.seen = false
	r.current = map[string]core.PresenceEntry{}
	r.entering = map[string]bool{}
	r.leaving = map[string]core.PresenceEntry{}
}
