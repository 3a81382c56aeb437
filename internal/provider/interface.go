package provider

import (
	"context"
	"time"

	"github.com/sprucelab/bookmarksync/internal/wire"
)

// BookmarksProvider is the surface the external sync engine drives, one
// round at a time. The engine owns scheduling, transport, and backoff;
// the provider owns transaction boundaries and the reconciliation
// algorithm.
//
// Mutual exclusion between concurrent rounds is the caller's
// responsibility. A round runs to completion or fails as a whole; a
// failed round never partially applies.
type BookmarksProvider interface {
	// PrepareForFirstSync stamps every local node's dirty marker and
	// clears every last-acknowledged child snapshot, forcing the next
	// push to carry the full tree without diffs.
	PrepareForFirstSync(ctx context.Context) error

	// FetchChangedObjects serializes every dirty node into wire records
	// for the next outgoing batch. A node that fails validation or
	// encryption is excluded; the rest of the batch is unaffected.
	FetchChangedObjects(ctx context.Context) ([]wire.Change, error)

	// HandleInitialSyncResponse processes the first-ever response from
	// the server. Nothing was sent yet, and deduplication merges remote
	// entities with matching local ones instead of duplicating them.
	HandleInitialSyncResponse(ctx context.Context, received []wire.Change, clientTime *time.Time, serverCursor string) (*RoundResult, error)

	// HandleSyncResponse processes one regular sync response: cleans up
	// the previously sent batch, reconciles the received batch into the
	// store, clears acknowledged dirty markers, and commits. A commit
	// conflict (a local write raced the round) retries the whole
	// computation against a fresh view, up to a fixed budget.
	//
	// clientTime marks the instant the outgoing batch was computed:
	// local edits at or before it are accounted for, newer ones win over
	// incoming content. serverCursor, when non-empty, is persisted on
	// success and announced through the DataChanged callback.
	HandleSyncResponse(ctx context.Context, sent, received []wire.Change, clientTime *time.Time, serverCursor string, strategy MergeStrategy) (*RoundResult, error)
}

// RoundResult reports the outcome of one committed round.
type RoundResult struct {
	// ModifiedIDs lists bookmarks whose URL changed, for the favicon
	// refresh subsystem.
	ModifiedIDs []string

	// DeletedIDs lists bookmarks removed by the server.
	DeletedIDs []string

	// Cursor is the server cursor the round persisted, if any.
	Cursor string
}
