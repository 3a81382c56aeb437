package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sprucelab/bookmarksync/internal/model"
)

func beginMemory(t *testing.T) (*Memory, *Tx) {
	t.Helper()
	m := NewMemory()
	tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	return m, tx
}

func TestWellKnownNodesSeeded(t *testing.T) {
	_, tx := beginMemory(t)
	for _, id := range append([]string{model.RootID}, model.FavoritesRoots()...) {
		n, ok := tx.Node(id)
		if !ok {
			t.Fatalf("well-known node %s missing", id)
		}
		if !n.IsFolder() {
			t.Errorf("%s should be a folder", id)
		}
	}
}

func TestAttachDetach(t *testing.T) {
	_, tx := beginMemory(t)

	if _, err := tx.Create("F", model.KindFolder); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if err := tx.Attach(model.RootID, "F"); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}

	root, _ := tx.Node(model.RootID)
	if len(root.Children) != 1 || root.Children[0] != "F" {
		t.Errorf("unexpected root children: %v", root.Children)
	}
	f, _ := tx.Node("F")
	if f.ParentID != model.RootID {
		t.Errorf("back-reference not set: %q", f.ParentID)
	}

	tx.Detach("F")
	root, _ = tx.Node(model.RootID)
	if len(root.Children) != 0 {
		t.Errorf("detach left children: %v", root.Children)
	}
	if f.ParentID != "" {
		t.Errorf("back-reference not cleared: %q", f.ParentID)
	}
}

func TestAttachRejectsCycle(t *testing.T) {
	_, tx := beginMemory(t)

	mustCreate(t, tx, "A", model.KindFolder)
	mustCreate(t, tx, "B", model.KindFolder)
	mustAttach(t, tx, model.RootID, "A")
	mustAttach(t, tx, "A", "B")

	tx.Detach("A")
	err := tx.Attach("B", "A")
	var serr *StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("expected a StructuralError, got %v", err)
	}
}

func TestAttachRequiresDetachedChild(t *testing.T) {
	_, tx := beginMemory(t)

	mustCreate(t, tx, "A", model.KindFolder)
	mustCreate(t, tx, "B", model.KindBookmark)
	mustAttach(t, tx, model.RootID, "A")
	mustAttach(t, tx, "A", "B")

	if err := tx.Attach(model.RootID, "B"); err == nil {
		t.Fatalf("attaching an attached node must fail")
	}
}

func TestDeleteDetachesChildren(t *testing.T) {
	_, tx := beginMemory(t)

	mustCreate(t, tx, "F", model.KindFolder)
	mustCreate(t, tx, "B", model.KindBookmark)
	mustAttach(t, tx, model.RootID, "F")
	mustAttach(t, tx, "F", "B")

	tx.Delete("F")
	if _, ok := tx.Node("F"); ok {
		t.Errorf("F should be gone")
	}
	b, ok := tx.Node("B")
	if !ok {
		t.Fatalf("children must survive their parent's deletion")
	}
	if b.ParentID != "" {
		t.Errorf("child should be detached, got parent %q", b.ParentID)
	}
	root, _ := tx.Node(model.RootID)
	if len(root.Children) != 0 {
		t.Errorf("root still references deleted folder: %v", root.Children)
	}
}

func TestRekey(t *testing.T) {
	_, tx := beginMemory(t)

	mustCreate(t, tx, "F", model.KindFolder)
	mustCreate(t, tx, "B", model.KindBookmark)
	mustAttach(t, tx, model.RootID, "F")
	mustAttach(t, tx, "F", "B")
	if err := tx.AddFavorite(model.FavoritesRootID, "B"); err != nil {
		t.Fatalf("failed to add favorite: %v", err)
	}

	if err := tx.Rekey("B", "remote-B"); err != nil {
		t.Fatalf("failed to rekey: %v", err)
	}

	if _, ok := tx.Node("B"); ok {
		t.Errorf("old id should be gone")
	}
	b, ok := tx.Node("remote-B")
	if !ok {
		t.Fatalf("new id missing")
	}
	if b.ParentID != "F" {
		t.Errorf("parent lost: %q", b.ParentID)
	}
	f, _ := tx.Node("F")
	if f.Children[0] != "remote-B" {
		t.Errorf("parent child list not rewritten: %v", f.Children)
	}
	fav, _ := tx.Node(model.FavoritesRootID)
	if fav.Children[0] != "remote-B" {
		t.Errorf("favorites order not rewritten: %v", fav.Children)
	}
}

func TestRekeyRejectsWellKnown(t *testing.T) {
	_, tx := beginMemory(t)
	if err := tx.Rekey(model.RootID, "other"); err == nil {
		t.Fatalf("rekeying the root must fail")
	}
}

func TestFavoritesMembership(t *testing.T) {
	_, tx := beginMemory(t)

	mustCreate(t, tx, "B", model.KindBookmark)
	mustAttach(t, tx, model.RootID, "B")

	if err := tx.AddFavorite(model.FavoritesRootID, "B"); err != nil {
		t.Fatalf("failed to add favorite: %v", err)
	}
	// Adding twice keeps a single entry.
	if err := tx.AddFavorite(model.FavoritesRootID, "B"); err != nil {
		t.Fatalf("failed to re-add favorite: %v", err)
	}

	fav, _ := tx.Node(model.FavoritesRootID)
	if len(fav.Children) != 1 {
		t.Errorf("expected a single membership entry, got %v", fav.Children)
	}
	b, _ := tx.Node("B")
	if !b.InFavorites(model.FavoritesRootID) {
		t.Errorf("membership back-reference missing")
	}
	if b.ParentID != model.RootID {
		t.Errorf("favorites must not change the tree parent, got %q", b.ParentID)
	}

	tx.RemoveFavorite(model.FavoritesRootID, "B")
	fav, _ = tx.Node(model.FavoritesRootID)
	if len(fav.Children) != 0 {
		t.Errorf("membership not removed: %v", fav.Children)
	}
	if b.InFavorites(model.FavoritesRootID) {
		t.Errorf("back-reference not removed")
	}
}

func TestAddFavoriteRejectsNonContainer(t *testing.T) {
	_, tx := beginMemory(t)
	mustCreate(t, tx, "B", model.KindBookmark)
	if err := tx.AddFavorite(model.RootID, "B"); err == nil {
		t.Fatalf("the bookmarks root is not a favorites container")
	}
}

func TestMemoryCommitConflict(t *testing.T) {
	m := NewMemory()

	tx1, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx1: %v", err)
	}
	tx2, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx2: %v", err)
	}

	if _, err := tx1.AddBookmark(model.RootID, "B1", "One", "https://one.example", time.Now()); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}
	if err := m.Commit(context.Background(), tx1); err != nil {
		t.Fatalf("first commit should succeed: %v", err)
	}

	if err := m.Commit(context.Background(), tx2); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale view must conflict, got %v", err)
	}

	// A fresh view commits fine.
	tx3, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx3: %v", err)
	}
	if err := m.Commit(context.Background(), tx3); err != nil {
		t.Fatalf("fresh view should commit: %v", err)
	}
}

func TestTxIsolation(t *testing.T) {
	m := NewMemory()
	tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	if _, err := tx.AddBookmark(model.RootID, "B1", "One", "https://one.example", time.Now()); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}

	// Uncommitted work must not be visible to a new view.
	view, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin view: %v", err)
	}
	if _, ok := view.Node("B1"); ok {
		t.Errorf("uncommitted node leaked into a fresh view")
	}
}

func TestMarkDeletedSubtree(t *testing.T) {
	m := NewMemory()
	tx, err := m.Begin(context.Background())
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	now := time.Now()
	if _, err := tx.AddFolder(model.RootID, "F", "Work", now); err != nil {
		t.Fatalf("failed to add folder: %v", err)
	}
	if _, err := tx.AddBookmark("F", "B", "One", "https://one.example", now); err != nil {
		t.Fatalf("failed to add bookmark: %v", err)
	}
	if err := tx.Favorite("B", []string{model.FavoritesRootID}, now); err != nil {
		t.Fatalf("failed to favorite: %v", err)
	}

	if err := tx.MarkDeleted("F", now); err != nil {
		t.Fatalf("failed to mark deleted: %v", err)
	}

	for _, id := range []string{"F", "B"} {
		n, ok := tx.Node(id)
		if !ok {
			t.Fatalf("%s must stay in the store until the deletion round-trips", id)
		}
		if !n.PendingDeletion || !n.Dirty() {
			t.Errorf("%s should be pending deletion and dirty", id)
		}
		if n.ParentID != "" {
			t.Errorf("%s should be detached, got parent %q", id, n.ParentID)
		}
	}
	fav, _ := tx.Node(model.FavoritesRootID)
	if len(fav.Children) != 0 {
		t.Errorf("favorites membership should be dropped: %v", fav.Children)
	}
	root, _ := tx.Node(model.RootID)
	if !root.Dirty() {
		t.Errorf("the old parent's child order changed; it should be dirty")
	}
}

func mustCreate(t *testing.T, tx *Tx, id string, kind model.Kind) {
	t.Helper()
	if _, err := tx.Create(id, kind); err != nil {
		t.Fatalf("failed to create %s: %v", id, err)
	}
}

func mustAttach(t *testing.T, tx *Tx, parentID, childID string) {
	t.Helper()
	if err := tx.Attach(parentID, childID); err != nil {
		t.Fatalf("failed to attach %s under %s: %v", childID, parentID, err)
	}
}
