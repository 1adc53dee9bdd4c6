package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opencommander/commander/internal/auth"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/storage"
)

// NewStore opens a fresh SQLite store under t.TempDir and closes it on cleanup.
func NewStore(t *testing.T, opts ...storage.Option) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "commander.db"), opts...)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Fixture is a seeded workspace: one owner, one project and one session.
type Fixture struct {
	Store   *storage.Store
	Owner   *core.User
	Token   string
	Project *core.Project
	Session *core.Session
}

// NewFixture seeds a store with an owner (token "cmdr_owner"), a project and
// a session.
func NewFixture(t *testing.T, store *storage.Store) *Fixture {
	t.Helper()
	f := &Fixture{Store: store}
	f.Owner, f.Token = SeedUser(t, store, "owner")
	f.Project = SeedProject(t, store, f.Owner.ID, "demo")
	f.Session = SeedSession(t, store, f.Project.ID, f.Owner.ID, "main")
	return f
}

// SeedUser creates a user named name whose bearer token is "cmdr_"+name.
func SeedUser(t *testing.T, store *storage.Store, name string) (*core.User, string) {
	t.Helper()
	token := "cmdr_" + name
	u := &core.User{
		Name:           name,
		Image:          "https://img.example/" + name + ".png",
		AvatarImageURL: "https://avatars.example/" + name,
	}
	if err := store.CreateUser(context.Background(), u, auth.HashToken(token)); err != nil {
		t.Fatalf("seeding user %s: %v", name, err)
	}
	return u, token
}

// SeedProject creates a project owned by ownerID.
func SeedProject(t *testing.T, store *storage.Store, ownerID, name string) *core.Project {
	t.Helper()
	p := &core.Project{Name: name, OwnerID: ownerID}
	if err := store.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("seeding project %s: %v", name, err)
	}
	return p
}

// SeedSession creates a session in projectID.
func SeedSession(t *testing.T, store *storage.Store, projectID, userID, name string) *core.Session {
	t.Helper()
	s := &core.Session{ProjectID: projectID, Name: name, CreatedBy: userID}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("seeding session %s: %v", name, err)
	}
	return s
}
