// Package wire defines the sync wire format and the adapter that
// translates between wire records and bookmark nodes.
//
// A change record describes one entity's new state. The shape is a
// tagged variant validated at decode time: a record is a deletion
// (deleted marker present), a folder (folder object present), or a
// bookmark (page object present). Title and URL values travel encrypted.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Change is one entity's state on the wire.
type Change struct {
	ID string `json:"id"`

	// Deleted marks the record as a deletion when non-nil. The protocol
	// sends it as an empty string.
	Deleted *string `json:"deleted,omitempty"`

	// Title is the encrypted title, folders and bookmarks alike.
	Title *string `json:"title,omitempty"`

	// Page is present on bookmark records.
	Page *Page `json:"page,omitempty"`

	// Folder is present on folder records.
	Folder *Folder `json:"folder,omitempty"`

	// ClientLastModified echoes the client's dirty-marker time, ISO8601.
	ClientLastModified string `json:"client_last_modified,omitempty"`
}

// IsDeletion reports whether the record is a deletion marker.
func (c Change) IsDeletion() bool {
	return c.Deleted != nil
}

// Page carries the bookmark-only fields.
type Page struct {
	URL string `json:"url"` // encrypted
}

// Folder carries the folder-only fields.
type Folder struct {
	Children Children `json:"children"`
}

// Children is a folder's child list on the wire: either a flat ordered
// list, or an insert/remove delta carrying an authoritative current
// list. Readers always use Current; Insert and Remove exist so the
// server can apply minimal edits.
type Children struct {
	Current []string
	Insert  []string
	Remove  []string

	// delta records which JSON form the value had (or should take).
	delta bool
}

// FullList builds a non-delta child list.
func FullList(ids []string) Children {
	return Children{Current: ids}
}

// DeltaList builds a delta child list.
func DeltaList(current, insert, remove []string) Children {
	return Children{Current: current, Insert: insert, Remove: remove, delta: true}
}

// IsDelta reports whether the value uses the delta form.
func (ch Children) IsDelta() bool {
	return ch.delta
}

// childrenDelta is the JSON object form of Children.
type childrenDelta struct {
	Current []string `json:"current"`
	Insert  []string `json:"insert,omitempty"`
	Remove  []string `json:"remove,omitempty"`
}

// UnmarshalJSON accepts either a JSON array or a delta object.
func (ch *Children) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var flat []string
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return fmt.Errorf("failed to parse children list: %w", err)
		}
		*ch = Children{Current: flat}
		return nil
	}
	var delta childrenDelta
	if err := json.Unmarshal(trimmed, &delta); err != nil {
		return fmt.Errorf("failed to parse children delta: %w", err)
	}
	*ch = Children{
		Current: delta.Current,
		Insert:  delta.Insert,
		Remove:  delta.Remove,
		delta:   true,
	}
	return nil
}

// MarshalJSON emits the same form the value was built with.
func (ch Children) MarshalJSON() ([]byte, error) {
	if !ch.delta {
		if ch.Current == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(ch.Current)
	}
	return json.Marshal(childrenDelta{
		Current: ch.Current,
		Insert:  ch.Insert,
		Remove:  ch.Remove,
	})
}
