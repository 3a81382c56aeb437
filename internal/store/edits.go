package store

import (
	"time"

	"github.com/sprucelab/bookmarksync/internal/model"
)

// Local edits. Every mutation here stamps the dirty marker so the next
// outgoing batch picks the change up; the sync engine's own mutations go
// through the structural methods in store.go and never touch markers.

// AddBookmark creates a bookmark under the given folder.
func (tx *Tx) AddBookmark(parentID, id, title, url string, now time.Time) (*model.Node, error) {
	n, err := tx.Create(id, model.KindBookmark)
	if err != nil {
		return nil, err
	}
	n.Title = title
	n.URL = url
	n.MarkDirty(now)
	if err := tx.Attach(parentID, id); err != nil {
		tx.Delete(id)
		return nil, err
	}
	tx.touch(parentID, now)
	return n, nil
}

// AddFolder creates a folder under the given folder.
func (tx *Tx) AddFolder(parentID, id, title string, now time.Time) (*model.Node, error) {
	n, err := tx.Create(id, model.KindFolder)
	if err != nil {
		return nil, err
	}
	n.Title = title
	n.MarkDirty(now)
	if err := tx.Attach(parentID, id); err != nil {
		tx.Delete(id)
		return nil, err
	}
	tx.touch(parentID, now)
	return n, nil
}

// MarkDeleted flags a node (and, for folders, its whole subtree) for
// deletion. The nodes stay in the store until the deletion round-trips
// through a sync; they are detached immediately so the tree no longer
// shows them.
func (tx *Tx) MarkDeleted(id string, now time.Time) error {
	n, ok := tx.nodes[id]
	if !ok {
		return &StructuralError{Op: "delete", ID: id, Reason: "node not found"}
	}
	if model.IsWellKnown(id) {
		return &StructuralError{Op: "delete", ID: id, Reason: "cannot delete a well-known node"}
	}
	parentID := n.ParentID
	tx.markDeletedSubtree(n, now)
	tx.touch(parentID, now)
	return nil
}

func (tx *Tx) markDeletedSubtree(n *model.Node, now time.Time) {
	for _, childID := range append([]string(nil), n.Children...) {
		if child, ok := tx.nodes[childID]; ok {
			tx.markDeletedSubtree(child, now)
		}
	}
	tx.Detach(n.ID)
	for _, containerID := range append([]string(nil), n.Favorites...) {
		tx.RemoveFavorite(containerID, n.ID)
		tx.touch(containerID, now)
	}
	n.PendingDeletion = true
	n.MarkDirty(now)
}

// Favorite adds the node to the given favorites containers, stamping the
// containers dirty so the new membership order is pushed.
func (tx *Tx) Favorite(nodeID string, containerIDs []string, now time.Time) error {
	for _, containerID := range containerIDs {
		if err := tx.AddFavorite(containerID, nodeID); err != nil {
			return err
		}
		tx.touch(containerID, now)
	}
	return nil
}

// touch stamps a node's dirty marker if it exists. Used for parents and
// containers whose child order changed as a side effect of an edit.
func (tx *Tx) touch(id string, now time.Time) {
	if id == "" {
		return
	}
	if n, ok := tx.nodes[id]; ok {
		n.MarkDirty(now)
	}
}
