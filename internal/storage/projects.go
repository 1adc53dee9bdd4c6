package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opencommander/commander/internal/core"
)

// CreateProject inserts a project and makes its owner a member.
func (s *Store) CreateProject(ctx context.Context, p *core.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	return s.withTx(ctx, "create project", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.Name, p.OwnerID, toMillis(p.CreatedAt)); err != nil {
			return fmt.Errorf("inserting project: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)`,
			p.ID, p.OwnerID, toMillis(p.CreatedAt)); err != nil {
			return fmt.Errorf("inserting owner membership: %w", err)
		}
		return nil
	})
}

// AddProjectMember grants userID access to projectID. Adding an existing
// member is a no-op.
func (s *Store) AddProjectMember(ctx context.Context, projectID, userID string) error {
	return s.retryWrite(ctx, "add project member", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)
			ON CONFLICT (project_id, user_id) DO NOTHING`,
			projectID, userID, toMillis(s.now()))
		if err != nil {
			return fmt.Errorf("adding project member: %w", err)
		}
		return nil
	})
}

// IsProjectMember reports whether userID belongs to projectID.
func (s *Store) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var one int
	err := s.readDB.QueryRowContext(ctx, `
		SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// GetProject returns the project with id, or a not-found error.
func (s *Store) GetProject(ctx context.Context, id string) (*core.Project, error) {
	var (
		p       core.Project
		created int64
	)
	err := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.OwnerID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// ListProjectsForUser returns the projects userID is a member of.
func (s *Store) ListProjectsForUser(ctx context.Context, userID string) ([]core.Project, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT p.id, p.name, p.owner_id, p.created_at
		FROM projects p
		JOIN project_members m ON m.project_id = p.id
		WHERE m.user_id = ?
		ORDER BY p.created_at, p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	projects := []core.Project{}
	for rows.Next() {
		var (
			p       core.Project
			created int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &created); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.CreatedAt = fromMillis(created)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CreateSession inserts a terminal session.
func (s *Store) CreateSession(ctx context.Context, sess *core.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	return s.retryWrite(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, project_id, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			sess.ID, sess.ProjectID, sess.Name, sess.CreatedBy, toMillis(sess.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		return nil
	})
}

// GetSession returns the session with id, or a not-found error.
func (s *Store) GetSession(ctx context.Context, id string) (*core.Session, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, project_id, name, created_by, created_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("session", id)
	}
	return sess, err
}

// ListSessions returns the sessions of a project, oldest first.
func (s *Store) ListSessions(ctx context.Context, projectID string) ([]core.Session, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, project_id, name, created_by, created_at FROM sessions
		WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []core.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session; presence rows pointing at it cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.retryWrite(ctx, "delete session", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrNotFound("session", id)
		}
		return nil
	})
}

func scanSession(row scanner) (*core.Session, error) {
	var (
		sess    core.Session
		created int64
	)
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Name, &sess.CreatedBy, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.CreatedAt = fromMillis(created)
	return &sess, nil
}
