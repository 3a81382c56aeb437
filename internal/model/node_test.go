package model

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		node    Node
		wantErr bool
	}{
		{"bookmark", Node{ID: "b", Kind: KindBookmark, Title: "x", URL: "https://x"}, false},
		{"folder", Node{ID: "f", Kind: KindFolder, Title: "x", Children: []string{"b"}}, false},
		{"missing id", Node{Kind: KindBookmark}, true},
		{"unknown kind", Node{ID: "n", Kind: "note"}, true},
		{"bookmark with children", Node{ID: "b", Kind: KindBookmark, Children: []string{"c"}}, true},
		{"folder with url", Node{ID: "f", Kind: KindFolder, URL: "https://x"}, true},
		{"stub with content", Node{ID: "s", Kind: KindBookmark, Stub: true, Title: "x"}, true},
		{"bare stub", Node{ID: "s", Kind: KindBookmark, Stub: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.node.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	mod := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	n := &Node{
		ID:                "f",
		Kind:              KindFolder,
		Title:             "Work",
		Children:          []string{"a", "b"},
		Favorites:         []string{FavoritesRootID},
		Modified:          &mod,
		LastAckedChildren: []string{"a"},
	}

	c := n.Clone()
	c.Children[0] = "z"
	c.Favorites[0] = "z"
	c.LastAckedChildren[0] = "z"
	*c.Modified = c.Modified.Add(time.Hour)

	if n.Children[0] != "a" || n.Favorites[0] != FavoritesRootID || n.LastAckedChildren[0] != "a" {
		t.Errorf("clone shares slices with the original")
	}
	if !n.Modified.Equal(mod) {
		t.Errorf("clone shares the modified timestamp")
	}
}

func TestCloneKeepsNilSnapshot(t *testing.T) {
	n := &Node{ID: "f", Kind: KindFolder}
	if c := n.Clone(); c.LastAckedChildren != nil {
		t.Errorf("a never-synced folder must clone with a nil snapshot")
	}

	n.LastAckedChildren = []string{}
	if c := n.Clone(); c.LastAckedChildren == nil {
		t.Errorf("an empty snapshot must clone as empty, not nil")
	}
}

func TestDirtyMarker(t *testing.T) {
	n := &Node{ID: "b", Kind: KindBookmark}
	if n.Dirty() {
		t.Errorf("new node should start clean")
	}
	n.MarkDirty(time.Now())
	if !n.Dirty() {
		t.Errorf("marker not set")
	}
}

func TestWellKnownIDs(t *testing.T) {
	for _, id := range FavoritesRoots() {
		if !IsFavoritesRoot(id) || !IsWellKnown(id) {
			t.Errorf("%s should be a well-known favorites root", id)
		}
	}
	if IsFavoritesRoot(RootID) {
		t.Errorf("the bookmarks root is not a favorites container")
	}
	if !IsWellKnown(RootID) {
		t.Errorf("the bookmarks root is well known")
	}
	if IsWellKnown("random") {
		t.Errorf("random ids are not well known")
	}
}
