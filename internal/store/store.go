// Package store persists the bookmark tree and provides the transactional
// working view the sync engine mutates.
//
// A sync round runs entirely inside one Tx: Begin produces an in-memory
// snapshot of the tree, the engine mutates it, and Commit writes the whole
// view back atomically. Commit detects concurrent local writes through an
// optimistic version check and reports them as ErrConflict so the caller
// can retry against a fresh view.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sprucelab/bookmarksync/internal/model"
)

// ErrConflict is returned by Commit when the store changed underneath the
// transaction. The in-memory view must be discarded and the work repeated
// against a fresh Begin.
var ErrConflict = errors.New("store: commit conflict")

// StructuralError reports a tree-contract violation: a cycle, or an
// attempt to recreate the root. These are fatal and never expected from a
// correct remote payload.
type StructuralError struct {
	Op     string
	ID     string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in %s(%s): %s", e.Op, e.ID, e.Reason)
}

// Store is the persistence boundary. Implementations must seed the
// well-known root and favorites-container nodes before the first Begin.
type Store interface {
	// Begin snapshots the tree into a fresh working view.
	Begin(ctx context.Context) (*Tx, error)

	// Commit atomically persists the view. Returns ErrConflict if the
	// store was written since Begin; any other error is a storage I/O
	// failure and is not retryable.
	Commit(ctx context.Context, tx *Tx) error

	Close() error
}

// Tx is an in-memory working view of the whole tree. It is not safe for
// concurrent use; a sync round is single-threaded by design.
type Tx struct {
	nodes   map[string]*model.Node
	version int64

	// Cursor is the server change cursor, persisted on commit.
	Cursor string

	// LastSyncedAt is the local completion time of the last round that
	// carried no new cursor.
	LastSyncedAt *time.Time
}

// newTx builds a view from cloned nodes. Used by store implementations.
func newTx(nodes map[string]*model.Node, version int64, cursor string, lastSynced *time.Time) *Tx {
	return &Tx{nodes: nodes, version: version, Cursor: cursor, LastSyncedAt: lastSynced}
}

// Node returns the node with the given id, if present.
func (tx *Tx) Node(id string) (*model.Node, bool) {
	n, ok := tx.nodes[id]
	return n, ok
}

// Nodes returns every node in the view, sorted by id for deterministic
// iteration.
func (tx *Tx) Nodes() []*model.Node {
	out := make([]*model.Node, 0, len(tx.nodes))
	for _, n := range tx.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of nodes in the view.
func (tx *Tx) Len() int {
	return len(tx.nodes)
}

// Create adds a new detached node of the given kind. Returns a
// StructuralError if the id already exists.
func (tx *Tx) Create(id string, kind model.Kind) (*model.Node, error) {
	if _, ok := tx.nodes[id]; ok {
		return nil, &StructuralError{Op: "create", ID: id, Reason: "id already exists"}
	}
	n := &model.Node{ID: id, Kind: kind}
	tx.nodes[id] = n
	return n, nil
}

// Delete removes a node from the view: it is detached from its parent,
// dropped from every favorites container, and its children are left
// detached (a later pass may reattach or sweep them). Deleting an unknown
// id is a no-op.
func (tx *Tx) Delete(id string) {
	n, ok := tx.nodes[id]
	if !ok {
		return
	}
	tx.Detach(id)
	for _, containerID := range append([]string(nil), n.Favorites...) {
		tx.RemoveFavorite(containerID, id)
	}
	for _, childID := range n.Children {
		if child, ok := tx.nodes[childID]; ok && child.ParentID == id {
			child.ParentID = ""
		}
	}
	delete(tx.nodes, id)
}

// Attach appends child to parent's child list and sets the back-reference.
// The child must be detached first; attaching a node onto its own subtree
// is a StructuralError.
func (tx *Tx) Attach(parentID, childID string) error {
	parent, ok := tx.nodes[parentID]
	if !ok {
		return &StructuralError{Op: "attach", ID: childID, Reason: fmt.Sprintf("parent %s not found", parentID)}
	}
	child, ok := tx.nodes[childID]
	if !ok {
		return &StructuralError{Op: "attach", ID: childID, Reason: "child not found"}
	}
	if child.ParentID != "" {
		return &StructuralError{Op: "attach", ID: childID, Reason: "child still attached; detach first"}
	}
	// Walk up from the parent; reaching the child means a cycle.
	for cur := parent; cur != nil; {
		if cur.ID == childID {
			return &StructuralError{Op: "attach", ID: childID, Reason: "attach would create a cycle"}
		}
		if cur.ParentID == "" {
			break
		}
		cur = tx.nodes[cur.ParentID]
	}
	parent.Children = append(parent.Children, childID)
	child.ParentID = parentID
	return nil
}

// Detach removes the node from its parent's child list and clears the
// back-reference. Detaching an already-detached or unknown node is a
// no-op.
func (tx *Tx) Detach(childID string) {
	child, ok := tx.nodes[childID]
	if !ok || child.ParentID == "" {
		return
	}
	if parent, ok := tx.nodes[child.ParentID]; ok {
		parent.Children = removeID(parent.Children, childID)
	}
	child.ParentID = ""
}

// Rekey renames a node, updating the parent's child list, favorites
// container orders, and children back-references. Used by first-sync
// deduplication to unify a local node with its remote identity.
func (tx *Tx) Rekey(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	n, ok := tx.nodes[oldID]
	if !ok {
		return &StructuralError{Op: "rekey", ID: oldID, Reason: "node not found"}
	}
	if _, ok := tx.nodes[newID]; ok {
		return &StructuralError{Op: "rekey", ID: oldID, Reason: fmt.Sprintf("target id %s already exists", newID)}
	}
	if model.IsWellKnown(oldID) {
		return &StructuralError{Op: "rekey", ID: oldID, Reason: "cannot rekey a well-known node"}
	}
	delete(tx.nodes, oldID)
	n.ID = newID
	tx.nodes[newID] = n
	if parent, ok := tx.nodes[n.ParentID]; ok {
		replaceID(parent.Children, oldID, newID)
	}
	for _, containerID := range n.Favorites {
		if container, ok := tx.nodes[containerID]; ok {
			replaceID(container.Children, oldID, newID)
		}
	}
	for _, childID := range n.Children {
		if child, ok := tx.nodes[childID]; ok && child.ParentID == oldID {
			child.ParentID = newID
		}
	}
	return nil
}

// AddFavorite appends the node to the container's membership order. A
// node already present keeps its position.
func (tx *Tx) AddFavorite(containerID, nodeID string) error {
	container, ok := tx.nodes[containerID]
	if !ok || !model.IsFavoritesRoot(containerID) {
		return &StructuralError{Op: "favorite", ID: nodeID, Reason: fmt.Sprintf("%s is not a favorites container", containerID)}
	}
	n, ok := tx.nodes[nodeID]
	if !ok {
		return &StructuralError{Op: "favorite", ID: nodeID, Reason: "node not found"}
	}
	for _, id := range container.Children {
		if id == nodeID {
			return nil
		}
	}
	container.Children = append(container.Children, nodeID)
	n.Favorites = append(n.Favorites, containerID)
	return nil
}

// RemoveFavorite drops the node from the container's membership. Unknown
// pairs are a no-op.
func (tx *Tx) RemoveFavorite(containerID, nodeID string) {
	if container, ok := tx.nodes[containerID]; ok {
		container.Children = removeID(container.Children, nodeID)
	}
	if n, ok := tx.nodes[nodeID]; ok {
		n.Favorites = removeID(n.Favorites, containerID)
	}
}

// ClearFavorites empties a container's membership.
func (tx *Tx) ClearFavorites(containerID string) {
	container, ok := tx.nodes[containerID]
	if !ok {
		return
	}
	for _, nodeID := range append([]string(nil), container.Children...) {
		tx.RemoveFavorite(containerID, nodeID)
	}
}

// seedWellKnown ensures the root and favorites containers exist in a node
// map. Shared by store implementations.
func seedWellKnown(nodes map[string]*model.Node) {
	for _, id := range append([]string{model.RootID}, model.FavoritesRoots()...) {
		if _, ok := nodes[id]; !ok {
			nodes[id] = &model.Node{ID: id, Kind: model.KindFolder}
		}
	}
}

func cloneNodes(nodes map[string]*model.Node) map[string]*model.Node {
	out := make(map[string]*model.Node, len(nodes))
	for id, n := range nodes {
		out[id] = n.Clone()
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func replaceID(ids []string, oldID, newID string) {
	for i, v := range ids {
		if v == oldID {
			ids[i] = newID
		}
	}
}
