package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencommander/commander/internal/core"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "commander.db"), WithNow(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed creates an owner, a project and a session and returns their IDs.
func seed(t *testing.T, s *Store) (userID, projectID, sessionID string) {
	t.Helper()
	ctx := context.Background()
	u := &core.User{Name: "owner"}
	require.NoError(t, s.CreateUser(ctx, u, "hash-owner"))
	p := &core.Project{Name: "demo", OwnerID: u.ID}
	require.NoError(t, s.CreateProject(ctx, p))
	sess := &core.Session{ProjectID: p.ID, Name: "main", CreatedBy: u.ID}
	require.NoError(t, s.CreateSession(ctx, sess))
	return u.ID, p.ID, sess.ID
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commander.db")

	s, err := Open(path)
	require.NoError(t, err)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, err = s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, path, s.Path())
}

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (id INTEGER);
  -- another
CREATE INDEX i ON a(id);

`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE INDEX i"))
}

func TestIsSQLiteBusy(t *testing.T) {
	assert.False(t, isSQLiteBusy(nil))
	assert.False(t, isSQLiteBusy(assert.AnError))
	assert.True(t, isSQLiteBusy(errString("database is locked (5) (SQLITE_BUSY)")))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestRetryWrite_StopsOnNonBusyError(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	err := s.retryWrite(context.Background(), "op", func() error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestRetryWrite_RetriesBusy(t *testing.T) {
	s := newTestStore(t)
	s.baseRetryWait = time.Millisecond
	calls := 0
	err := s.retryWrite(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errString("SQLITE_BUSY")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWrite_GivesUp(t *testing.T) {
	s := newTestStore(t)
	s.maxRetries = 2
	s.baseRetryWait = time.Millisecond
	err := s.retryWrite(context.Background(), "op", func() error {
		return errString("database is locked")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op failed after 2 retries")
}

func TestLogsCompression(t *testing.T) {
	short := "hello"
	data, enc := encodeLogs(short)
	assert.Equal(t, encodingNone, enc)
	out, err := decodeLogs(data, enc)
	require.NoError(t, err)
	assert.Equal(t, short, out)

	long := strings.Repeat("line of agent output\n", 200)
	data, enc = encodeLogs(long)
	assert.Equal(t, encodingZstd, enc)
	assert.Less(t, len(data), len(long))
	out, err = decodeLogs(data, enc)
	require.NoError(t, err)
	assert.Equal(t, long, out)

	_, err = decodeLogs(data, "lz4")
	assert.Error(t, err)
}
