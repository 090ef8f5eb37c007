package session

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	s, err := store.Load("nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil session for unknown key, got %+v", s)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	s := New("char-7")
	s.AppendUser("X")
	s.AppendAssistant("Y")

	if err := store.Save(s.Key, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("char-7")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a session")
	}
	if len(loaded.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(loaded.Turns))
	}
	if loaded.Turns[0].Content != "X" || loaded.Turns[0].Role != RoleUser {
		t.Errorf("turn 0 = %+v", loaded.Turns[0])
	}
	if loaded.Turns[1].Content != "Y" || loaded.Turns[1].Role != RoleAssistant {
		t.Errorf("turn 1 = %+v", loaded.Turns[1])
	}
	if loaded.Preferred != nil {
		t.Errorf("preferred = %+v, want nil", loaded.Preferred)
	}

	// New appends after a reload must stay monotonic.
	next := loaded.AppendUser("Z")
	if next.TS <= loaded.Turns[1].TS {
		t.Errorf("timestamp after reload not monotonic: %d <= %d", next.TS, loaded.Turns[1].TS)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	s := New("k")
	s.AppendUser("one")
	if err := store.Save("k", s); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.AppendAssistant("two")
	if err := store.Save("k", s); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.Load("k")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Turns) != 2 {
		t.Errorf("got %d turns, want 2", len(loaded.Turns))
	}
}

// failingStore always errors, to prove the manager swallows persistence
// failures and keeps the in-memory state authoritative.
type failingStore struct{}

func (failingStore) Save(string, *Session) error   { return errors.New("disk full") }
func (failingStore) Load(string) (*Session, error) { return nil, errors.New("disk on fire") }
func (failingStore) Close() error                  { return nil }

func TestManager_SwallowsPersistenceFailures(t *testing.T) {
	m := NewManager(failingStore{}, slog.Default())

	m.AppendUser("c", "hello")
	m.AppendAssistant("c", "hi")

	snap := m.Snapshot("c")
	if len(snap.Turns) != 2 {
		t.Errorf("in-memory state lost: %d turns, want 2", len(snap.Turns))
	}
}

func TestManager_SessionsIsolatedByKey(t *testing.T) {
	m := NewManager(nil, nil)

	m.AppendUser("char-a", "for a")
	m.AppendUser("char-b", "for b")

	if n := len(m.Snapshot("char-a").Turns); n != 1 {
		t.Errorf("char-a has %d turns, want 1", n)
	}
	if got := m.Snapshot("char-b").Turns[0].Content; got != "for b" {
		t.Errorf("char-b content = %q", got)
	}
}

func TestManager_PersistEveryMutation(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, nil)

	u := m.AppendUser("c", "hello")
	a := m.AppendAssistant("c", "hi")
	if err := m.TogglePreferred("c", a.TS); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := m.Edit("c", u.TS, "hello edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// A second manager over the same store sees the final state.
	m2 := NewManager(store, nil)
	snap := m2.Snapshot("c")
	if len(snap.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(snap.Turns))
	}
	if snap.Turns[0].Content != "hello edited" {
		t.Errorf("edit not persisted: %q", snap.Turns[0].Content)
	}
	if snap.Preferred == nil || snap.Preferred.TS != a.TS {
		t.Errorf("pin not persisted: %+v", snap.Preferred)
	}
}

func TestManager_Clear(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, nil)

	m.AppendUser("c", "hello")
	m.Clear("c")

	if n := len(m.Snapshot("c").Turns); n != 0 {
		t.Errorf("cleared session has %d turns", n)
	}

	m2 := NewManager(store, nil)
	if n := len(m2.Snapshot("c").Turns); n != 0 {
		t.Errorf("clear not persisted: %d turns", n)
	}
}
