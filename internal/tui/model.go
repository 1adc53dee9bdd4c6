package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/opencommander/commander/internal/clip"
	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
	"github.com/opencommander/commander/internal/roster"
	"github.com/opencommander/commander/internal/tracker"
)

// DefaultPollInterval is how often the roster is refreshed.
const DefaultPollInterval = 3 * time.Second

const fetchTimeout = 10 * time.Second

// PresenceSource lists who is in a session.
type PresenceSource interface {
	SessionPresence(ctx context.Context, sessionID string) ([]core.PresenceEntry, error)
}

// Config wires a watch model.
type Config struct {
	Project      core.Project
	Sessions     []core.Session
	Start        int
	Self         core.User
	Source       PresenceSource
	Transport    tracker.Transport
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *logging.Logger
	// Copy defaults to clip.WriteAll.
	Copy func(text string) (clip.Result, error)
}

// Messages
type (
	presenceMsg struct {
		sessionID string
		entries   []core.PresenceEntry
		err       error
	}
	pollMsg      struct{}
	rosterMsg    struct{}
	heartbeatMsg tracker.Outcome
	copiedMsg    struct {
		result clip.Result
		err    error
	}
)

// Model is the bubbletea model behind commander watch.
type Model struct {
	cfg     Config
	tracker *tracker.Tracker
	roster  *roster.Roster
	signals chan tea.Msg

	index    int
	loading  bool
	err      error
	notice   string
	lastBeat tracker.Outcome
	width    int
	spinner  spinner.Model
	quitting bool
}

// New creates a watch model. Nothing is sent until Init runs.
func New(cfg Config) Model {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Copy == nil {
		cfg.Copy = clip.WriteAll
	}
	if cfg.Start < 0 || cfg.Start >= len(cfg.Sessions) {
		cfg.Start = 0
	}

	signals := make(chan tea.Msg, 16)
	notify := func(msg tea.Msg) {
		select {
		case signals <- msg:
		default:
		}
	}

	m := Model{
		cfg:     cfg,
		signals: signals,
		index:   cfg.Start,
		loading: true,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(NoticeStyle),
		),
	}
	m.roster = roster.New(
		roster.WithClock(cfg.Clock),
		roster.OnChange(func() { notify(rosterMsg{}) }),
	)
	m.tracker = tracker.New(cfg.Transport,
		tracker.WithClock(cfg.Clock),
		tracker.WithLogger(cfg.Logger),
		tracker.OnHeartbeat(func(o tracker.Outcome) { notify(heartbeatMsg(o)) }),
	)
	return m
}

// Tracker exposes the heartbeat loop, mainly for Close.
func (m Model) Tracker() *tracker.Tracker { return m.tracker }

// Session returns the session being watched.
func (m Model) Session() core.Session {
	if len(m.cfg.Sessions) == 0 {
		return core.Session{}
	}
	return m.cfg.Sessions[m.index]
}

// Close stops heartbeating and sends a best-effort leave.
func (m Model) Close() tracker.Outcome {
	out := m.tracker.Close()
	m.tracker.Wait()
	return out
}

// Init enters the starting session.
func (m Model) Init() tea.Cmd {
	s := m.Session()
	m.tracker.Enter(s.ID)
	return tea.Batch(
		m.spinner.Tick,
		m.fetch(s.ID),
		m.poll(),
		m.waitForSignal(),
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.tracker.RecordInteraction()
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.tracker.RecordInteraction()
		return m, nil

	case tea.WindowSizeMsg:
		m.tracker.RecordInteraction()
		m.width = msg.Width
		return m, nil

	case presenceMsg:
		if msg.sessionID != m.Session().ID {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.roster.Update(msg.entries)
		}
		return m, nil

	case pollMsg:
		return m, tea.Batch(m.fetch(m.Session().ID), m.poll())

	case rosterMsg:
		return m, m.waitForSignal()

	case heartbeatMsg:
		// Refresh after every heartbeat, failed ones included.
		m.lastBeat = tracker.Outcome(msg)
		return m, tea.Batch(m.waitForSignal(), m.fetch(m.Session().ID))

	case copiedMsg:
		switch {
		case msg.err != nil:
			m.notice = ""
			m.err = fmt.Errorf("copy session ID: %w", msg.err)
		case msg.result.Method == clip.MethodFile:
			m.notice = "session ID written to " + msg.result.FilePath
		default:
			m.notice = fmt.Sprintf("session ID copied (%s)", msg.result.Method)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "y":
		id := m.Session().ID
		copyFn := m.cfg.Copy
		return m, func() tea.Msg {
			res, err := copyFn(id)
			return copiedMsg{result: res, err: err}
		}
	case "n", "right", "tab":
		return m.switchSession(1)
	case "p", "left", "shift+tab":
		return m.switchSession(-1)
	}
	return m, nil
}

// switchSession moves to a neighbouring session. The tracker relocates on
// its next heartbeat, so no leave is sent for the old session.
func (m Model) switchSession(step int) (tea.Model, tea.Cmd) {
	n := len(m.cfg.Sessions)
	if n < 2 {
		m.notice = "no other sessions in this project"
		return m, nil
	}
	m.index = ((m.index+step)%n + n) % n
	m.roster.Reset()
	m.loading = true
	m.err = nil
	m.notice = ""

	id := m.Session().ID
	m.tracker.Enter(id)
	return m, m.fetch(id)
}

func (m Model) fetch(sessionID string) tea.Cmd {
	source := m.cfg.Source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		entries, err := source.SessionPresence(ctx, sessionID)
		return presenceMsg{sessionID: sessionID, entries: entries, err: err}
	}
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(m.cfg.PollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m Model) waitForSignal() tea.Cmd {
	ch := m.signals
	return func() tea.Msg { return <-ch }
}

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.Session()

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Open Commander · " + m.cfg.Project.Name))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Session %s %s\n",
		s.Name,
		SubtleStyle.Render(fmt.Sprintf("(%d/%d)  %s", m.index+1, len(m.cfg.Sessions), s.ID)))

	status := m.tracker.Status()
	fmt.Fprintf(&b, "You     %s %s", StatusStyle(status).Render(StatusIcon(status)), StatusStyle(status).Render(string(status)))
	if !m.lastBeat.At.IsZero() {
		if m.lastBeat.OK() {
			b.WriteString(SubtleStyle.Render("  heartbeat " + m.lastBeat.At.Format("15:04:05")))
		} else {
			b.WriteString(ErrorStyle.Render("  heartbeat failing"))
		}
	}
	b.WriteString("\n\n")

	b.WriteString(BoxStyle.Render(m.renderRoster()))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(NoticeStyle.Render(m.notice))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(FooterStyle.Render("y copy session ID · n/p switch session · q quit"))
	return b.String()
}

func (m Model) renderRoster() string {
	members := m.roster.Visible()
	if len(members) == 0 {
		if m.loading {
			return m.spinner.View() + " loading presence"
		}
		return SubtleStyle.Render("nobody here yet")
	}

	lines := make([]string, 0, len(members))
	for _, mem := range members {
		style, mark := rowStyle(mem.State)
		name := mem.Entry.User.Name
		if name == "" {
			name = mem.Entry.UserID
		}
		if mem.Entry.UserID == m.cfg.Self.ID {
			name += " (you)"
		}
		st := mem.Entry.Status
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			mark,
			StatusStyle(st).Render(StatusIcon(st)),
			style.Render(name),
			SubtleStyle.Render(string(st)),
		))
	}
	return strings.Join(lines, "\n")
}

// Run starts the program and blocks until the user quits or ctx ends. The
// leave outcome is returned so callers can report it.
func Run(ctx context.Context, cfg Config, opts ...tea.ProgramOption) (tracker.Outcome, error) {
	if len(cfg.Sessions) == 0 {
		return tracker.Outcome{}, core.ErrValidation(core.CodeEmptySessionID, "project has no sessions")
	}
	m := New(cfg)
	opts = append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts...)

	_, err := tea.NewProgram(m, opts...).Run()
	out := m.Close()
	if ctx.Err() != nil {
		err = nil
	}
	return out, err
}
