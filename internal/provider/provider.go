package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sprucelab/bookmarksync/internal/crypto"
	"github.com/sprucelab/bookmarksync/internal/store"
	"github.com/sprucelab/bookmarksync/internal/wire"
)

// DefaultCommitAttempts bounds the conflict-retry loop. Conflicts come
// from local writes racing a round, so retrying immediately against a
// fresh view resolves them; this is conflict resolution, not backoff.
const DefaultCommitAttempts = 5

// Provider implements BookmarksProvider over a Store and a Crypter.
type Provider struct {
	store   store.Store
	crypter crypto.Crypter
	logger  *log.Logger

	// Clock supplies the current time. Defaults to time.Now; tests
	// override it for deterministic dirty markers.
	Clock func() time.Time

	// Metrics is the optional sink for validation failures, decryption
	// failures, and local-wins resolutions. Nil means no-op.
	Metrics Metrics

	// DataChanged fires once per successful commit that carried a new
	// server cursor.
	DataChanged func(cursor string)

	// CommitAttempts bounds the conflict-retry loop. Zero means
	// DefaultCommitAttempts.
	CommitAttempts int
}

var _ BookmarksProvider = (*Provider)(nil)

// New creates a Provider. If logger is nil, a default logger writing to
// stderr is used.
//
// Example:
//
//	st, err := store.Open(".bmsync/bookmarks.db")
//	if err != nil {
//	    return err
//	}
//	p := provider.New(st, crypter, nil)
func New(st store.Store, crypter crypto.Crypter, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(os.Stderr, "[bookmarks] ", log.LstdFlags)
	}
	return &Provider{
		store:   st,
		crypter: crypter,
		logger:  logger,
		Clock:   time.Now,
	}
}

func (p *Provider) metrics() Metrics {
	if p.Metrics == nil {
		return NopMetrics{}
	}
	return p.Metrics
}

func (p *Provider) attempts() int {
	if p.CommitAttempts <= 0 {
		return DefaultCommitAttempts
	}
	return p.CommitAttempts
}

// PrepareForFirstSync implements BookmarksProvider.PrepareForFirstSync.
func (p *Provider) PrepareForFirstSync(ctx context.Context) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin first-sync preparation: %w", err)
	}
	now := p.Clock()
	for _, n := range tx.Nodes() {
		if n.Stub {
			continue
		}
		n.MarkDirty(now)
		n.LastAckedChildren = nil
	}
	if err := p.store.Commit(ctx, tx); err != nil {
		return fmt.Errorf("failed to commit first-sync preparation: %w", err)
	}
	p.logger.Printf("prepared %d nodes for first sync", tx.Len())
	return nil
}

// FetchChangedObjects implements BookmarksProvider.FetchChangedObjects.
// The read view is discarded; fetching never mutates the store.
func (p *Provider) FetchChangedObjects(ctx context.Context) ([]wire.Change, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read changed objects: %w", err)
	}
	var out []wire.Change
	for _, n := range tx.Nodes() {
		if !n.Dirty() || n.Stub {
			continue
		}
		ch, err := wire.Build(n, p.crypter)
		if err != nil {
			var verr *wire.ValidationError
			if errors.As(err, &verr) {
				p.metrics().ValidationFailure(n.ID)
			}
			p.logger.Printf("WARNING: excluding %s from batch: %v", n.ID, err)
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

// HandleInitialSyncResponse implements
// BookmarksProvider.HandleInitialSyncResponse. It is a first-sync round
// with an empty sent batch and additive merge.
func (p *Provider) HandleInitialSyncResponse(ctx context.Context, received []wire.Change, clientTime *time.Time, serverCursor string) (*RoundResult, error) {
	return p.HandleSyncResponse(ctx, nil, received, clientTime, serverCursor, MergeAdditive)
}

// HandleSyncResponse implements BookmarksProvider.HandleSyncResponse.
func (p *Provider) HandleSyncResponse(ctx context.Context, sent, received []wire.Change, clientTime *time.Time, serverCursor string, strategy MergeStrategy) (*RoundResult, error) {
	receivedIDs := make(map[string]bool, len(received))
	for _, ch := range received {
		receivedIDs[ch.ID] = true
	}

	attempts := p.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		tx, err := p.store.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin sync round: %w", err)
		}

		clearable := p.cleanUpSentItems(tx, sent, receivedIDs, clientTime)

		res, err := p.processReceived(tx, received, clientTime, strategy)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile received batch: %w", err)
		}

		for _, id := range clearable {
			p.clearMarker(tx, id, clientTime)
		}
		for id := range receivedIDs {
			if _, keep := res.retained[id]; keep {
				continue
			}
			p.clearMarker(tx, id, clientTime)
		}

		if serverCursor != "" {
			tx.Cursor = serverCursor
		} else {
			now := p.Clock()
			tx.LastSyncedAt = &now
		}

		err = p.store.Commit(ctx, tx)
		if errors.Is(err, store.ErrConflict) {
			p.logger.Printf("commit conflict on attempt %d/%d, retrying with a fresh view", attempt, attempts)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to commit sync round: %w", err)
		}

		if serverCursor != "" && p.DataChanged != nil {
			p.DataChanged(serverCursor)
		}
		p.logger.Printf("sync round complete: received=%d deleted=%d url_changed=%d retained=%d",
			len(received), len(res.deletedIDs), len(res.urlChangedIDs), len(res.retained))
		return &RoundResult{
			ModifiedIDs: res.urlChangedIDs,
			DeletedIDs:  res.deletedIDs,
			Cursor:      serverCursor,
		}, nil
	}

	return nil, fmt.Errorf("commit conflict persisted after %d attempts: %w", attempts, store.ErrConflict)
}

// cleanUpSentItems settles the previously sent batch before the received
// batch is reconciled. A node whose dirty marker is newer than the
// round's clientTime raced a local edit and is left untouched so it is
// resent. Acknowledged pending deletions the server did not oppose are
// removed permanently. Folders the server did not supersede get their
// last-acknowledged child snapshot refreshed.
func (p *Provider) cleanUpSentItems(tx *store.Tx, sent []wire.Change, receivedIDs map[string]bool, clientTime *time.Time) []string {
	var clearable []string
	for _, s := range sent {
		node, ok := tx.Node(s.ID)
		if !ok {
			continue
		}
		if clientTime != nil && node.Modified != nil && node.Modified.After(*clientTime) {
			continue
		}
		if node.PendingDeletion {
			if !receivedIDs[s.ID] {
				tx.Delete(s.ID)
			}
			continue
		}
		if node.IsFolder() && !receivedIDs[s.ID] {
			node.LastAckedChildren = append([]string{}, node.Children...)
		}
		clearable = append(clearable, s.ID)
	}
	return clearable
}

// clearMarker clears a node's dirty marker unless a newer local edit
// landed inside this same transaction window.
func (p *Provider) clearMarker(tx *store.Tx, id string, clientTime *time.Time) {
	node, ok := tx.Node(id)
	if !ok {
		return
	}
	if clientTime != nil && node.Modified != nil && node.Modified.After(*clientTime) {
		return
	}
	node.Modified = nil
}
