package provider

import (
	"log"
	"time"

	"github.com/sprucelab/bookmarksync/internal/crypto"
	"github.com/sprucelab/bookmarksync/internal/model"
	"github.com/sprucelab/bookmarksync/internal/store"
	"github.com/sprucelab/bookmarksync/internal/wire"
)

// MergeStrategy selects how incoming child lists combine with local ones.
type MergeStrategy int

const (
	// MergeAuthoritative treats the server's child lists as the full
	// truth: a folder's existing children are detached before the
	// incoming list is applied. Used for every round after the first.
	MergeAuthoritative MergeStrategy = iota

	// MergeAdditive unifies incoming entities with matching local ones
	// and never removes existing children. Used for the first sync only,
	// so pre-existing local bookmarks merge with their remote twins
	// instead of being duplicated.
	MergeAdditive
)

// reconcileResult is the bookkeeping a reconciliation pass hands back to
// the orchestrator.
type reconcileResult struct {
	// retained holds IDs whose dirty marker must survive this round so
	// the node is pushed again (local-wins conflicts, dedup-merged
	// folders that still carry local-only children).
	retained map[string]struct{}

	// deletedIDs lists nodes removed because the server said so.
	deletedIDs []string

	// urlChangedIDs lists bookmarks whose URL changed, for the favicon
	// refresh subsystem.
	urlChangedIDs []string
}

// item is one incoming change after parsing and decryption.
type item struct {
	id       string
	deleted  bool
	isFolder bool
	title    *string
	url      *string
	children []string
}

func (it *item) kind() model.Kind {
	if it.isFolder {
		return model.KindFolder
	}
	return model.KindBookmark
}

// reconciler carries the state of one reconciliation pass over a batch.
// A pass is strictly single-threaded: a folder's detach must complete
// before its children reattach, so there is one work queue and no
// parallelism by design.
type reconciler struct {
	tx         *store.Tx
	strategy   MergeStrategy
	clientTime *time.Time
	logger     *log.Logger
	metrics    Metrics

	byID  map[string]*item
	order []string // incoming IDs in batch order

	// claimed marks incoming IDs that unified a local node through
	// first-sync deduplication. Their retained status is rechecked once
	// their final child list is known.
	claimed map[string]bool

	res *reconcileResult
}

// processReceived runs the reconciliation algorithm over one incoming
// batch, mutating the working view. Per-item decryption failures skip
// only that item; structural violations abort the pass.
func (p *Provider) processReceived(tx *store.Tx, received []wire.Change, clientTime *time.Time, strategy MergeStrategy) (*reconcileResult, error) {
	r := &reconciler{
		tx:         tx,
		strategy:   strategy,
		clientTime: clientTime,
		logger:     p.logger,
		metrics:    p.metrics(),
		byID:       make(map[string]*item, len(received)),
		claimed:    make(map[string]bool),
		res: &reconcileResult{
			retained: make(map[string]struct{}),
		},
	}

	r.decode(received, p.crypter)

	topFolders, orphans := r.partition()

	for _, id := range topFolders {
		if err := r.traverseTopFolder(r.byID[id]); err != nil {
			return nil, err
		}
	}
	for _, id := range orphans {
		if err := r.processEntity(r.byID[id], nil); err != nil {
			return nil, err
		}
	}
	if err := r.reconcileFavorites(); err != nil {
		return nil, err
	}
	r.sweepStubs()

	return r.res, nil
}

// decode parses and decrypts the batch. An undecryptable item is logged,
// counted, and dropped; the rest of the batch proceeds.
func (r *reconciler) decode(received []wire.Change, c crypto.Crypter) {
	for _, ch := range received {
		parsed := wire.Parse(ch)
		it := &item{
			id:       parsed.ID,
			deleted:  parsed.IsDeleted,
			isFolder: parsed.IsFolder,
			children: parsed.Children,
		}
		ok := true
		if parsed.Title != nil {
			title, err := c.Decrypt(*parsed.Title)
			if err != nil {
				r.dropItem(parsed.ID, "title", err)
				ok = false
			} else {
				it.title = &title
			}
		}
		if ok && parsed.URL != nil {
			url, err := c.Decrypt(*parsed.URL)
			if err != nil {
				r.dropItem(parsed.ID, "url", err)
				ok = false
			} else {
				it.url = &url
			}
		}
		if !ok {
			continue
		}
		if _, dup := r.byID[it.id]; !dup {
			r.order = append(r.order, it.id)
		}
		r.byID[it.id] = it
	}
}

func (r *reconciler) dropItem(id, field string, err error) {
	r.logger.Printf("WARNING: skipping %s: failed to decrypt %s: %v", id, field, err)
	r.metrics.DecryptionFailure(id)
}

// partition splits the batch into top-level folders (folders no other
// incoming folder references) and orphans (non-folder records with no
// incoming parent that are not favorites entries). Favorites containers
// are excluded from both and handled by their own pass.
func (r *reconciler) partition() (topFolders, orphans []string) {
	referenced := make(map[string]bool)
	favoriteMember := make(map[string]bool)
	for _, it := range r.byID {
		if !it.isFolder {
			continue
		}
		if model.IsFavoritesRoot(it.id) {
			for _, childID := range it.children {
				favoriteMember[childID] = true
			}
			continue
		}
		for _, childID := range it.children {
			referenced[childID] = true
		}
	}
	for _, id := range r.order {
		it := r.byID[id]
		if model.IsFavoritesRoot(id) {
			continue
		}
		switch {
		case it.isFolder && !referenced[id]:
			topFolders = append(topFolders, id)
		case !it.isFolder && !referenced[id] && !favoriteMember[id]:
			orphans = append(orphans, id)
		}
	}
	return topFolders, orphans
}

// queueEntry is one unit of the breadth-first folder traversal.
type queueEntry struct {
	parentID string
	children []string
}

// traverseTopFolder reconciles a top-level incoming folder and then walks
// its subtree breadth-first, placing every referenced child.
func (r *reconciler) traverseTopFolder(top *item) error {
	if err := r.processEntity(top, nil); err != nil {
		return err
	}
	if top.deleted {
		return nil
	}

	queue := []queueEntry{{parentID: top.id, children: top.children}}
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		parent, ok := r.tx.Node(entry.parentID)
		if !ok {
			continue
		}

		// The server's list is the whole truth outside of first-sync
		// deduplication: existing children are detached first and only
		// the listed ones come back.
		if r.strategy == MergeAuthoritative {
			for _, childID := range append([]string(nil), parent.Children...) {
				r.tx.Detach(childID)
			}
		}

		for _, childID := range entry.children {
			if childID == model.RootID {
				return &store.StructuralError{Op: "reparent", ID: childID, Reason: "root cannot be a child"}
			}
			if it, inBatch := r.byID[childID]; inBatch {
				if err := r.processEntity(it, parent); err != nil {
					return err
				}
				if it.isFolder && !it.deleted && len(it.children) > 0 {
					queue = append(queue, queueEntry{parentID: it.id, children: it.children})
				}
				continue
			}
			if _, known := r.tx.Node(childID); known {
				// A move: the server placed an existing node here.
				r.tx.Detach(childID)
				if err := r.tx.Attach(parent.ID, childID); err != nil {
					return err
				}
				continue
			}
			// Forward reference: the defining record has not arrived yet.
			stub, err := r.tx.Create(childID, model.KindBookmark)
			if err != nil {
				return err
			}
			stub.Stub = true
			if err := r.tx.Attach(parent.ID, childID); err != nil {
				return err
			}
		}

		parent.LastAckedChildren = append([]string{}, parent.Children...)

		// A dedup-merged folder that still holds local-only children must
		// keep its dirty marker so those children are pushed.
		if r.claimed[parent.ID] && len(parent.Children) > 0 {
			r.res.retained[parent.ID] = struct{}{}
		}
	}
	return nil
}

// processEntity reconciles a single incoming record against the store,
// optionally placing the node under the given parent.
func (r *reconciler) processEntity(it *item, parent *model.Node) error {
	if r.strategy == MergeAdditive && !it.deleted {
		if _, exists := r.tx.Node(it.id); !exists {
			if local := r.findDedupMatch(it, parent); local != nil {
				return r.unify(local, it, parent)
			}
		}
	}

	node, ok := r.tx.Node(it.id)
	if !ok {
		return r.createFromItem(it, parent)
	}

	if r.clientTime != nil && node.Modified != nil && node.Modified.After(*r.clientTime) {
		// The node raced a local edit during this round. Local content
		// wins; the server's placement still applies.
		r.metrics.LocalOverride(it.id)
		r.res.retained[it.id] = struct{}{}
		if parent != nil && !node.PendingDeletion {
			return r.moveUnder(parent.ID, it.id)
		}
		return nil
	}

	if it.deleted {
		if model.IsWellKnown(it.id) {
			r.logger.Printf("WARNING: ignoring remote deletion of well-known node %s", it.id)
			return nil
		}
		r.tx.Delete(it.id)
		r.res.deletedIDs = append(r.res.deletedIDs, it.id)
		return nil
	}

	if node.Stub {
		node.Stub = false
		node.Kind = it.kind()
	}
	if it.title != nil {
		node.Title = *it.title
	}
	if it.url != nil && node.URL != *it.url {
		node.URL = *it.url
		r.res.urlChangedIDs = append(r.res.urlChangedIDs, it.id)
	}
	// A server-side update opposes any local pending deletion.
	node.PendingDeletion = false

	if parent != nil {
		return r.moveUnder(parent.ID, it.id)
	}
	return nil
}

// createFromItem materializes a record the store has never seen.
func (r *reconciler) createFromItem(it *item, parent *model.Node) error {
	if it.deleted {
		return nil
	}
	if it.id == model.RootID {
		return &store.StructuralError{Op: "create", ID: it.id, Reason: "root must never be recreated"}
	}
	node, err := r.tx.Create(it.id, it.kind())
	if err != nil {
		return err
	}
	if it.title != nil {
		node.Title = *it.title
	}
	if it.url != nil {
		node.URL = *it.url
	}
	parentID := model.RootID
	if parent != nil {
		parentID = parent.ID
	}
	return r.tx.Attach(parentID, it.id)
}

// unify re-keys a dedup-matched local node to its remote identity.
func (r *reconciler) unify(local *model.Node, it *item, parent *model.Node) error {
	if err := r.tx.Rekey(local.ID, it.id); err != nil {
		return err
	}
	r.claimed[it.id] = true
	if local.IsFolder() && len(local.Children) > 0 {
		r.res.retained[it.id] = struct{}{}
	}
	if parent != nil {
		return r.moveUnder(parent.ID, it.id)
	}
	return nil
}

func (r *reconciler) moveUnder(parentID, id string) error {
	r.tx.Detach(id)
	return r.tx.Attach(parentID, id)
}

// findDedupMatch looks for a pre-existing local node representing the
// same logical entity: equal kind and decrypted title, plus equal URL for
// bookmarks. Candidates come from the prospective parent's child order;
// with no parent context, all local nodes of the kind are considered in
// ID order. First match wins, which makes the tie-break deterministic.
func (r *reconciler) findDedupMatch(it *item, parent *model.Node) *model.Node {
	var candidates []*model.Node
	if parent != nil {
		for _, childID := range parent.Children {
			if n, ok := r.tx.Node(childID); ok {
				candidates = append(candidates, n)
			}
		}
	} else {
		candidates = r.tx.Nodes()
	}

	wantTitle := ""
	if it.title != nil {
		wantTitle = *it.title
	}
	wantURL := ""
	if it.url != nil {
		wantURL = *it.url
	}

	for _, n := range candidates {
		if n.Kind != it.kind() || n.Stub || n.PendingDeletion || model.IsWellKnown(n.ID) {
			continue
		}
		// A node that already has a remote identity in this batch keeps it.
		if _, inBatch := r.byID[n.ID]; inBatch {
			continue
		}
		if n.Title != wantTitle {
			continue
		}
		if !it.isFolder && n.URL != wantURL {
			continue
		}
		return n
	}
	return nil
}

// reconcileFavorites applies the membership lists of any favorites
// containers present in the batch. Containers are display state: members
// keep their tree parent, and ordering comes solely from the incoming
// list.
func (r *reconciler) reconcileFavorites() error {
	for _, containerID := range model.FavoritesRoots() {
		it, ok := r.byID[containerID]
		if !ok {
			continue
		}
		container, ok := r.tx.Node(containerID)
		if !ok {
			continue
		}

		if r.strategy == MergeAuthoritative {
			r.tx.ClearFavorites(containerID)
		} else if len(container.Children) > 0 {
			r.res.retained[containerID] = struct{}{}
		}

		for _, memberID := range it.children {
			if mit, inBatch := r.byID[memberID]; inBatch {
				if err := r.processEntity(mit, nil); err != nil {
					return err
				}
				if mit.deleted {
					continue
				}
			}
			if _, known := r.tx.Node(memberID); known {
				// Remove and re-add to establish the incoming order.
				r.tx.RemoveFavorite(containerID, memberID)
				if err := r.tx.AddFavorite(containerID, memberID); err != nil {
					return err
				}
				continue
			}
			stub, err := r.tx.Create(memberID, model.KindBookmark)
			if err != nil {
				return err
			}
			stub.Stub = true
			if err := r.tx.AddFavorite(containerID, memberID); err != nil {
				return err
			}
		}

		container.LastAckedChildren = append([]string{}, container.Children...)
	}
	return nil
}

// sweepStubs removes placeholders nothing references anymore.
func (r *reconciler) sweepStubs() {
	for _, n := range r.tx.Nodes() {
		if n.Stub && n.ParentID == "" && len(n.Favorites) == 0 {
			r.tx.Delete(n.ID)
		}
	}
}
