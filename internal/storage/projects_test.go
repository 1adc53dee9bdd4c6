package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencommander/commander/internal/core"
)

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &core.User{Name: "ada", Image: "i", AvatarImageURL: "a"}
	require.NoError(t, s.CreateUser(ctx, u, "digest"))
	assert.NotEmpty(t, u.ID)
	assert.True(t, u.CreatedAt.Equal(testNow))

	got, err := s.GetUserByTokenHash(ctx, "digest")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "ada", got.Name)
	assert.Equal(t, "a", got.AvatarImageURL)
	assert.True(t, got.CreatedAt.Equal(u.CreatedAt))

	_, err = s.GetUserByTokenHash(ctx, "nope")
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	_, err = s.GetUser(ctx, "missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	assert.Error(t, s.CreateUser(ctx, &core.User{Name: "dup"}, "digest"), "token hash is unique")

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestProjectsAndMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ownerID, projectID, _ := seed(t, s)

	ok, err := s.IsProjectMember(ctx, projectID, ownerID)
	require.NoError(t, err)
	assert.True(t, ok, "owner is a member")

	guest := &core.User{Name: "guest"}
	require.NoError(t, s.CreateUser(ctx, guest, "hash-guest"))

	ok, err = s.IsProjectMember(ctx, projectID, guest.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	projects, err := s.ListProjectsForUser(ctx, guest.ID)
	require.NoError(t, err)
	assert.Empty(t, projects)

	require.NoError(t, s.AddProjectMember(ctx, projectID, guest.ID))
	require.NoError(t, s.AddProjectMember(ctx, projectID, guest.ID))

	projects, err = s.ListProjectsForUser(ctx, guest.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, projectID, projects[0].ID)

	p, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, p.OwnerID)

	_, err = s.GetProject(ctx, "missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ownerID, projectID, sessionID := seed(t, s)

	sess, err := s.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, projectID, sess.ProjectID)
	assert.Equal(t, "main", sess.Name)

	second := &core.Session{ProjectID: projectID, Name: "second", CreatedBy: ownerID}
	require.NoError(t, s.CreateSession(ctx, second))

	sessions, err := s.ListSessions(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	_, err = s.GetSession(ctx, "missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	err = s.CreateSession(ctx, &core.Session{ProjectID: "missing", Name: "x", CreatedBy: ownerID})
	assert.Error(t, err, "foreign key on project")
}
