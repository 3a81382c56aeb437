package wire

import (
	"fmt"
	"time"

	"github.com/sprucelab/bookmarksync/internal/crypto"
	"github.com/sprucelab/bookmarksync/internal/model"
)

// Payload size caps, measured on the encrypted value. An oversized field
// is a validation failure for that single item only; the surrounding
// batch is unaffected.
const (
	MaxFolderTitleSize   = 2000
	MaxBookmarkFieldSize = 3000
)

// ValidationError reports one outgoing item that cannot be serialized.
type ValidationError struct {
	ID    string
	Field string
	Size  int
	Limit int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("encrypted %s of %s is %d bytes, limit %d", e.Field, e.ID, e.Size, e.Limit)
}

// Parsed is the semantic view of one incoming change record. Title and
// URL are still encrypted; the engine decrypts them per item so that a
// single malformed value never aborts the batch.
type Parsed struct {
	ID        string
	IsDeleted bool
	Title     *string // encrypted
	URL       *string // encrypted
	IsFolder  bool
	Children  []string
}

// Parse translates a raw wire record into its semantic view. A delta
// children object yields its authoritative current list.
func Parse(ch Change) Parsed {
	p := Parsed{
		ID:        ch.ID,
		IsDeleted: ch.IsDeletion(),
		Title:     ch.Title,
	}
	if ch.Page != nil {
		url := ch.Page.URL
		p.URL = &url
	}
	if ch.Folder != nil {
		p.IsFolder = true
		p.Children = append([]string(nil), ch.Folder.Children.Current...)
	}
	return p
}

// Build serializes a local node into a wire record, encrypting field
// values with the given crypter.
//
// A node flagged for deletion yields a bare deletion marker. Folder
// children are emitted as an insert/remove diff against the last
// acknowledged child order once a prior snapshot exists, else as a full
// list. Oversized encrypted values return a ValidationError.
func Build(n *model.Node, c crypto.Crypter) (Change, error) {
	ch := Change{ID: n.ID}

	if n.PendingDeletion {
		empty := ""
		ch.Deleted = &empty
		return ch, nil
	}

	title, err := c.Encrypt(n.Title)
	if err != nil {
		return Change{}, fmt.Errorf("failed to encrypt title of %s: %w", n.ID, err)
	}

	if n.IsFolder() {
		if len(title) > MaxFolderTitleSize {
			return Change{}, &ValidationError{ID: n.ID, Field: "title", Size: len(title), Limit: MaxFolderTitleSize}
		}
		ch.Title = &title
		ch.Folder = &Folder{Children: childrenPayload(n)}
	} else {
		if len(title) > MaxBookmarkFieldSize {
			return Change{}, &ValidationError{ID: n.ID, Field: "title", Size: len(title), Limit: MaxBookmarkFieldSize}
		}
		url, err := c.Encrypt(n.URL)
		if err != nil {
			return Change{}, fmt.Errorf("failed to encrypt url of %s: %w", n.ID, err)
		}
		if len(url) > MaxBookmarkFieldSize {
			return Change{}, &ValidationError{ID: n.ID, Field: "url", Size: len(url), Limit: MaxBookmarkFieldSize}
		}
		ch.Title = &title
		ch.Page = &Page{URL: url}
	}

	if n.Modified != nil {
		ch.ClientLastModified = n.Modified.UTC().Format(time.RFC3339)
	}
	return ch, nil
}

// childrenPayload emits a diff against the last acknowledged order when
// one exists, else the full list. A nil LastAckedChildren means the
// folder has never round-tripped.
func childrenPayload(n *model.Node) Children {
	if n.LastAckedChildren == nil {
		return FullList(append([]string{}, n.Children...))
	}
	insert, remove := diffChildren(n.LastAckedChildren, n.Children)
	return DeltaList(append([]string{}, n.Children...), insert, remove)
}

// diffChildren computes the set difference in both directions, keeping
// the order of the slice each element came from.
func diffChildren(acked, current []string) (insert, remove []string) {
	inAcked := make(map[string]bool, len(acked))
	for _, id := range acked {
		inAcked[id] = true
	}
	inCurrent := make(map[string]bool, len(current))
	for _, id := range current {
		inCurrent[id] = true
	}
	for _, id := range current {
		if !inAcked[id] {
			insert = append(insert, id)
		}
	}
	for _, id := range acked {
		if !inCurrent[id] {
			remove = append(remove, id)
		}
	}
	return insert, remove
}
