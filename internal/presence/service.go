// Package presence implements the server side of presence tracking:
// heartbeat upserts, roster queries, leave and stale cleanup.
package presence

import (
	"context"
	"strings"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/logging"
)

// Publisher receives presence change notifications.
type Publisher interface {
	Publish(event events.Event)
}

// Service validates and authorizes presence operations.
type Service struct {
	store  core.PresenceStore
	access core.AccessChecker
	bus    Publisher
	clock  clock.Clock
	logger *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for last-seen times.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPublisher sets where presence_changed events go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a presence service.
func NewService(store core.PresenceStore, access core.AccessChecker, opts ...Option) *Service {
	s := &Service{
		store:  store,
		access: access,
		clock:  clock.Real(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Heartbeat records that userID is in sessionID with the given status.
// Stale records of every user are swept in the same transaction. Moving to
// a different session relocates the single record in place.
func (s *Service) Heartbeat(ctx context.Context, userID, sessionID, status string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return core.ErrValidation(core.CodeEmptySessionID, "sessionId is required")
	}
	st, err := core.ParsePresenceStatus(status)
	if err != nil {
		return err
	}

	session, err := s.visibleSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	previous, err := s.store.GetPresence(ctx, userID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	rec := core.PresenceRecord{
		UserID:    userID,
		SessionID: sessionID,
		Status:    st,
		LastSeen:  now,
	}
	if err := s.store.UpsertPresence(ctx, rec, core.StaleCutoff(now)); err != nil {
		return err
	}

	if previous != nil && previous.SessionID != sessionID {
		s.publishDeparture(ctx, userID, previous.SessionID, session.ProjectID)
	}
	s.publish(events.NewPresenceChangedEvent(session.ProjectID, sessionID, userID, string(st)))
	return nil
}

// ListByProject returns non-stale presence across all sessions of a project.
func (s *Service) ListByProject(ctx context.Context, userID, projectID string) ([]core.PresenceEntry, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, core.ErrValidation(core.CodeEmptyProjectID, "projectId is required")
	}
	ok, err := s.access.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound("project", projectID)
	}
	return s.store.ListPresenceByProject(ctx, projectID, core.StaleCutoff(s.clock.Now()))
}

// ListBySession returns non-stale presence in one session.
func (s *Service) ListBySession(ctx context.Context, userID, sessionID string) ([]core.PresenceEntry, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, core.ErrValidation(core.CodeEmptySessionID, "sessionId is required")
	}
	if _, err := s.visibleSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListPresenceBySession(ctx, sessionID, core.StaleCutoff(s.clock.Now()))
}

// Leave deletes the caller's presence record. Having none is not an error.
func (s *Service) Leave(ctx context.Context, userID string) error {
	previous, err := s.store.GetPresence(ctx, userID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeletePresence(ctx, userID)
	if err != nil {
		return err
	}
	if deleted && previous != nil {
		s.publishDeparture(ctx, userID, previous.SessionID, "")
	}
	return nil
}

// PruneStale deletes every record older than the staleness threshold.
func (s *Service) PruneStale(ctx context.Context) (int64, error) {
	n, err := s.store.PruneStalePresence(ctx, core.StaleCutoff(s.clock.Now()))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("pruned stale presence", "count", n)
	}
	return n, nil
}

// visibleSession loads a session the user may see. Missing sessions and
// sessions of foreign projects produce the same not-found error.
func (s *Service) visibleSession(ctx context.Context, userID, sessionID string) (*core.Session, error) {
	session, err := s.access.GetSession(ctx, sessionID)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return nil, core.ErrNotFound("session", sessionID)
		}
		return nil, err
	}
	ok, err := s.access.IsProjectMember(ctx, session.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound("session", sessionID)
	}
	return session, nil
}

// publishDeparture tells viewers of the session the user left. The event
// is skipped when the session is gone or in skipProject, which already got
// a fresher event.
func (s *Service) publishDeparture(ctx context.Context, userID, sessionID, skipProject string) {
	session, err := s.access.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	if session.ProjectID == skipProject {
		return
	}
	s.publish(events.NewPresenceChangedEvent(session.ProjectID, sessionID, userID, ""))
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
