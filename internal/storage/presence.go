package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencommander/commander/internal/core"
)

// UpsertPresence deletes every presence row last seen before cutoff and
// then writes rec keyed by user, in a single transaction. The caller must
// pass a cutoff earlier than rec.LastSeen so the new row always survives.
func (s *Store) UpsertPresence(ctx context.Context, rec core.PresenceRecord, cutoff time.Time) error {
	return s.withTx(ctx, "upsert presence", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM presence WHERE last_seen < ?`, toMillis(cutoff)); err != nil {
			return fmt.Errorf("sweeping stale presence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO presence (user_id, session_id, status, last_seen) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				session_id = excluded.session_id,
				status = excluded.status,
				last_seen = excluded.last_seen`,
			rec.UserID, rec.SessionID, string(rec.Status), toMillis(rec.LastSeen)); err != nil {
			return fmt.Errorf("upserting presence: %w", err)
		}
		return nil
	})
}

const presenceSelect = `
	SELECT p.user_id, p.session_id, p.status, u.id, u.name, u.image, u.avatar_image_url
	FROM presence p
	JOIN sessions s ON s.id = p.session_id
	JOIN users u ON u.id = p.user_id`

// ListPresenceByProject returns non-stale presence in every session of a project.
func (s *Store) ListPresenceByProject(ctx context.Context, projectID string, cutoff time.Time) ([]core.PresenceEntry, error) {
	return s.queryPresence(ctx, presenceSelect+`
		WHERE s.project_id = ? AND p.last_seen >= ?
		ORDER BY p.session_id, u.name, p.user_id`, projectID, toMillis(cutoff))
}

// ListPresenceBySession returns non-stale presence in one session.
func (s *Store) ListPresenceBySession(ctx context.Context, sessionID string, cutoff time.Time) ([]core.PresenceEntry, error) {
	return s.queryPresence(ctx, presenceSelect+`
		WHERE p.session_id = ? AND p.last_seen >= ?
		ORDER BY u.name, p.user_id`, sessionID, toMillis(cutoff))
}

func (s *Store) queryPresence(ctx context.Context, query string, args ...any) ([]core.PresenceEntry, error) {
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing presence: %w", err)
	}
	defer rows.Close()

	entries := []core.PresenceEntry{}
	for rows.Next() {
		var (
			e      core.PresenceEntry
			status string
		)
		if err := rows.Scan(&e.UserID, &e.SessionID, &status,
			&e.User.ID, &e.User.Name, &e.User.Image, &e.User.AvatarImageURL); err != nil {
			return nil, fmt.Errorf("scanning presence: %w", err)
		}
		e.Status = core.PresenceStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetPresence returns the user's current record, or nil when there is none.
func (s *Store) GetPresence(ctx context.Context, userID string) (*core.PresenceRecord, error) {
	var (
		rec      core.PresenceRecord
		status   string
		lastSeen int64
	)
	err := s.readDB.QueryRowContext(ctx, `
		SELECT user_id, session_id, status, last_seen FROM presence WHERE user_id = ?`, userID).
		Scan(&rec.UserID, &rec.SessionID, &status, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting presence: %w", err)
	}
	rec.Status = core.PresenceStatus(status)
	rec.LastSeen = fromMillis(lastSeen)
	return &rec, nil
}

// DeletePresence removes the user's record and reports whether one existed.
func (s *Store) DeletePresence(ctx context.Context, userID string) (bool, error) {
	var deleted bool
	err := s.retryWrite(ctx, "delete presence", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM presence WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("deleting presence: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// PruneStalePresence deletes records last seen before cutoff.
func (s *Store) PruneStalePresence(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	err := s.retryWrite(ctx, "prune presence", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM presence WHERE last_seen < ?`, toMillis(cutoff))
		if err != nil {
			return fmt.Errorf("pruning presence: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	return pruned, err
}
