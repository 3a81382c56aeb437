package store

import (
	"context"
	"sync"
	"time"

	"github.com/sprucelab/bookmarksync/internal/model"
)

// Memory is an in-memory Store. It backs tests and acts as the reference
// implementation of the commit-conflict contract: any committed write
// bumps the version, and a Tx begun before that write fails its commit
// with ErrConflict.
type Memory struct {
	mu         sync.Mutex
	nodes      map[string]*model.Node
	version    int64
	cursor     string
	lastSynced *time.Time
}

// NewMemory creates an empty in-memory store seeded with the well-known
// root and favorites containers.
func NewMemory() *Memory {
	nodes := make(map[string]*model.Node)
	seedWellKnown(nodes)
	return &Memory{nodes: nodes}
}

// Begin implements Store.Begin.
func (m *Memory) Begin(ctx context.Context) (*Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newTx(cloneNodes(m.nodes), m.version, m.cursor, m.lastSynced), nil
}

// Commit implements Store.Commit.
func (m *Memory) Commit(ctx context.Context, tx *Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.version != m.version {
		return ErrConflict
	}
	m.nodes = cloneNodes(tx.nodes)
	m.version++
	m.cursor = tx.Cursor
	m.lastSynced = tx.LastSyncedAt
	return nil
}

// Close implements Store.Close.
func (m *Memory) Close() error {
	return nil
}
