// Package provider implements the bookmark sync provider: the
// reconciliation algorithm that merges incoming remote change batches
// into the local bookmark tree, and the orchestrator that drives one
// sync round end to end.
//
// Overview
//
// The external sync engine exchanges raw change batches with the remote
// service and calls the provider once per round. The provider computes
// the outgoing batch from dirty nodes, reconciles the received batch
// into the store inside a single transaction, and commits with conflict
// retry:
//
//	Sync Engine (transport, scheduling, backoff)
//	     ↓ received batch            ↑ outgoing batch
//	  Provider (transaction boundaries, retry, bookkeeping)
//	     ↓                           ↑
//	  reconciler (partition, traverse, processEntity, favorites, sweep)
//	     ↓                           ↑
//	  store.Tx (in-memory working view of the tree)
//
// Reconciliation
//
// A received batch is partitioned into top-level folders, orphaned
// bookmarks, and favorites membership lists. Each top-level folder is
// walked breadth-first: the server's child list is applied in order,
// records present in the batch are reconciled in place, known nodes are
// moved, and unknown references become stub placeholders that a later
// batch fills in or a sweep removes. Conflicts between a remote update
// and a newer local edit resolve in favor of the local edit, which stays
// dirty and is pushed again next round.
//
// The first sync runs with MergeAdditive, which unifies remote entities
// with pre-existing local ones by decrypted content instead of
// duplicating them. Every later round runs with MergeAuthoritative,
// which trusts the server's child lists completely.
//
// Usage
//
//	st, err := store.Open(".bmsync/bookmarks.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	p := provider.New(st, crypter, nil)
//	p.DataChanged = func(cursor string) {
//	    // persist happened; kick consumers
//	}
//
//	sent, err := p.FetchChangedObjects(ctx)
//	if err != nil {
//	    return err
//	}
//	// ... exchange sent for received + cursor over the transport ...
//	result, err := p.HandleSyncResponse(ctx, sent, received, &clientTime, cursor, provider.MergeAuthoritative)
//
// A round either commits whole or leaves the tree at its last committed
// state; partial application is impossible by construction.
package provider
