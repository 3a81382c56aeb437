// Package model defines the bookmark entity model shared by the store,
// the wire adapter, and the sync engine.
package model

import (
	"fmt"
	"time"
)

// Kind distinguishes the two entity types in the tree.
type Kind string

const (
	KindBookmark Kind = "bookmark"
	KindFolder   Kind = "folder"
)

// Well-known entity IDs fixed by the sync protocol. The root folder is
// never recreated; the favorites roots are excluded from generic folder
// traversal and carry display membership rather than tree structure.
const (
	RootID                 = "bookmarks_root"
	FavoritesRootID        = "favorites_root"
	DesktopFavoritesRootID = "desktop_favorites_root"
	MobileFavoritesRootID  = "mobile_favorites_root"
)

// FavoritesRoots returns the favorites-container IDs in a fixed order.
func FavoritesRoots() []string {
	return []string{FavoritesRootID, DesktopFavoritesRootID, MobileFavoritesRootID}
}

// IsFavoritesRoot reports whether id names a favorites container.
func IsFavoritesRoot(id string) bool {
	switch id {
	case FavoritesRootID, DesktopFavoritesRootID, MobileFavoritesRootID:
		return true
	}
	return false
}

// IsWellKnown reports whether id is one of the protocol-fixed IDs.
func IsWellKnown(id string) bool {
	return id == RootID || IsFavoritesRoot(id)
}

// Node is a single bookmark or folder in the local tree.
//
// The structure is CRDT-friendly: flat fields, a Modified timestamp acting
// as the dirty marker for unsynced local edits, and a LastAckedChildren
// snapshot used to compute minimal child-order diffs for the next push.
type Node struct {
	// ===== Identity =====
	ID   string
	Kind Kind

	// ===== Content =====
	Title string
	URL   string // bookmarks only

	// ===== Tree structure =====
	ParentID string   // empty for the root and detached nodes
	Children []string // ordered child IDs, folders only

	// ===== Sync bookkeeping =====
	Modified          *time.Time // dirty marker; nil means acknowledged
	PendingDeletion   bool       // deleted locally, removal not yet round-tripped
	Stub              bool       // created on forward reference, content pending
	Favorites         []string   // favorites-container IDs this node belongs to
	LastAckedChildren []string   // child order last acknowledged by the server; nil = never synced
}

// IsFolder reports whether the node can carry children.
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// Dirty reports whether the node has local edits awaiting sync.
func (n *Node) Dirty() bool {
	return n.Modified != nil
}

// MarkDirty stamps the dirty marker with the given time.
func (n *Node) MarkDirty(now time.Time) {
	t := now
	n.Modified = &t
}

// InFavorites reports whether the node is a member of the given container.
func (n *Node) InFavorites(containerID string) bool {
	for _, id := range n.Favorites {
		if id == containerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Transaction views clone nodes so that a
// discarded attempt never leaks mutations into the committed state.
func (n *Node) Clone() *Node {
	c := *n
	if n.Modified != nil {
		t := *n.Modified
		c.Modified = &t
	}
	c.Children = append([]string(nil), n.Children...)
	c.Favorites = append([]string(nil), n.Favorites...)
	if n.LastAckedChildren != nil {
		c.LastAckedChildren = append([]string{}, n.LastAckedChildren...)
	}
	return &c
}

// Validate checks structural field consistency.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch n.Kind {
	case KindBookmark:
		if len(n.Children) > 0 {
			return fmt.Errorf("bookmark %s must not have children", n.ID)
		}
	case KindFolder:
		if n.URL != "" {
			return fmt.Errorf("folder %s must not have a url", n.ID)
		}
	default:
		return fmt.Errorf("unknown kind %q for %s", n.Kind, n.ID)
	}
	if n.Stub && (n.Title != "" || n.URL != "") {
		return fmt.Errorf("stub %s must not carry content", n.ID)
	}
	return nil
}
