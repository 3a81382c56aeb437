package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sprucelab/bookmarksync/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *SQLite {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return st
}

func TestSQLiteSeedsWellKnownNodes(t *testing.T) {
	st := setupTestDB(t)

	tx, err := st.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	for _, id := range append([]string{model.RootID}, model.FavoritesRoots()...) {
		if _, ok := tx.Node(id); !ok {
			t.Errorf("well-known node %s missing", id)
		}
	}
}

func TestSQLitePersistRoundTrip(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := tx.AddFolder(model.RootID, "F", "Work", now); err != nil {
		t.Fatalf("failed to add folder: %v", err)
	}
	if _, err := tx.AddBookmark("F", "B1", "One", "https://one.example", now); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}
	if _, err := tx.AddBookmark("F", "B2", "Two", "https://two.example", now); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}
	if err := tx.Favorite("B2", []string{model.FavoritesRootID, model.MobileFavoritesRootID}, now); err != nil {
		t.Fatalf("failed to favorite: %v", err)
	}
	f, _ := tx.Node("F")
	f.LastAckedChildren = []string{"B1"}
	tx.Cursor = "cursor-42"
	if err := st.Commit(ctx, tx); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	view, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if view.Cursor != "cursor-42" {
		t.Errorf("cursor not persisted: %q", view.Cursor)
	}

	f, ok := view.Node("F")
	if !ok {
		t.Fatalf("folder not persisted")
	}
	if f.Title != "Work" || f.ParentID != model.RootID {
		t.Errorf("folder fields wrong: title=%q parent=%q", f.Title, f.ParentID)
	}
	if len(f.Children) != 2 || f.Children[0] != "B1" || f.Children[1] != "B2" {
		t.Errorf("child order not preserved: %v", f.Children)
	}
	if len(f.LastAckedChildren) != 1 || f.LastAckedChildren[0] != "B1" {
		t.Errorf("acknowledged snapshot not preserved: %v", f.LastAckedChildren)
	}

	b1, _ := view.Node("B1")
	if b1.URL != "https://one.example" || b1.Modified == nil || !b1.Modified.Equal(now) {
		t.Errorf("bookmark fields wrong: url=%q modified=%v", b1.URL, b1.Modified)
	}

	b2, _ := view.Node("B2")
	if !b2.InFavorites(model.FavoritesRootID) || !b2.InFavorites(model.MobileFavoritesRootID) {
		t.Errorf("favorites membership lost: %v", b2.Favorites)
	}
	fav, _ := view.Node(model.FavoritesRootID)
	if len(fav.Children) != 1 || fav.Children[0] != "B2" {
		t.Errorf("favorites order lost: %v", fav.Children)
	}
}

func TestSQLiteNilVersusEmptySnapshot(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	if _, err := tx.AddFolder(model.RootID, "F-synced", "Synced", time.Now()); err != nil {
		t.Fatalf("failed to add folder: %v", err)
	}
	if _, err := tx.AddFolder(model.RootID, "F-never", "Never", time.Now()); err != nil {
		t.Fatalf("failed to add folder: %v", err)
	}
	synced, _ := tx.Node("F-synced")
	synced.LastAckedChildren = []string{}
	if err := st.Commit(ctx, tx); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	view, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	synced, _ = view.Node("F-synced")
	if synced.LastAckedChildren == nil {
		t.Errorf("empty snapshot must survive as empty, not nil")
	}
	never, _ := view.Node("F-never")
	if never.LastAckedChildren != nil {
		t.Errorf("never-synced folder must keep a nil snapshot, got %v", never.LastAckedChildren)
	}
}

func TestSQLiteCommitConflict(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()

	tx1, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin tx1: %v", err)
	}
	tx2, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin tx2: %v", err)
	}

	if _, err := tx1.AddBookmark(model.RootID, "B1", "One", "https://one.example", time.Now()); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}
	if err := st.Commit(ctx, tx1); err != nil {
		t.Fatalf("first commit should succeed: %v", err)
	}

	if err := st.Commit(ctx, tx2); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale view must conflict, got %v", err)
	}

	tx3, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin tx3: %v", err)
	}
	if _, ok := tx3.Node("B1"); !ok {
		t.Errorf("committed bookmark missing from fresh view")
	}
	if err := st.Commit(ctx, tx3); err != nil {
		t.Fatalf("fresh view should commit: %v", err)
	}
}

func TestSQLiteReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	if _, err := tx.AddBookmark(model.RootID, "B1", "One", "https://one.example", time.Now()); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}
	if err := st.Commit(ctx, tx); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	st2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer st2.Close()
	if err := st2.InitSchema(); err != nil {
		t.Fatalf("failed to re-init schema: %v", err)
	}
	view, err := st2.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin after reopen: %v", err)
	}
	if _, ok := view.Node("B1"); !ok {
		t.Errorf("data lost across reopen")
	}
}
