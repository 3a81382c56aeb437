package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sprucelab/bookmarksync/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is the persistent Store, an embedded SQLite database in WAL
// mode. One process owns the file; concurrent sync rounds are excluded
// by the caller, but local edits racing a round are detected through the
// version row in sync_meta and surface as ErrConflict.
type SQLite struct {
	conn *sql.DB
	path string
}

// Open creates or opens the bookmark database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	st, err := store.Open(".bmsync/bookmarks.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &SQLite{conn: conn, path: path}

	// WAL for concurrent reads during a round's commit.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return st, nil
}

// Close closes the database connection after a WAL checkpoint.
func (st *SQLite) Close() error {
	if st.conn == nil {
		return nil
	}
	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	st.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist and seeds
// the well-known nodes. Idempotent - safe to call multiple times.
func (st *SQLite) InitSchema() error {
	return st.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (st *SQLite) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		parent_id TEXT,
		position INTEGER NOT NULL DEFAULT 0,
		modified_at TEXT,          -- dirty marker; NULL = acknowledged
		pending_deletion INTEGER NOT NULL DEFAULT 0,
		stub INTEGER NOT NULL DEFAULT 0,
		last_acked_children TEXT   -- JSON array; NULL = never synced
	);

	-- Favorites membership is display state, separate from tree structure.
	CREATE TABLE IF NOT EXISTS favorites (
		container_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (container_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id, position);
	CREATE INDEX IF NOT EXISTS idx_nodes_modified ON nodes(modified_at);
	CREATE INDEX IF NOT EXISTS idx_favorites_container ON favorites(container_id, position);
	`

	if _, err := st.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if _, err := st.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_meta (key, value) VALUES ('version', '0'), ('cursor', '')`); err != nil {
		return fmt.Errorf("failed to seed sync metadata: %w", err)
	}

	for _, id := range append([]string{model.RootID}, model.FavoritesRoots()...) {
		if _, err := st.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO nodes (id, kind) VALUES (?, ?)`, id, string(model.KindFolder)); err != nil {
			return fmt.Errorf("failed to seed well-known node %s: %w", id, err)
		}
	}
	return nil
}

// Begin implements Store.Begin by loading the whole tree into a working
// view. Bookmark trees are small; a full snapshot keeps the engine free
// of query plumbing and makes conflict retry a pure re-read.
func (st *SQLite) Begin(ctx context.Context) (*Tx, error) {
	version, cursor, lastSynced, err := st.readMeta(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*model.Node)
	var ordered []*model.Node

	rows, err := st.conn.QueryContext(ctx, `
		SELECT id, kind, title, url, parent_id, modified_at,
		       pending_deletion, stub, last_acked_children
		FROM nodes
		ORDER BY parent_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n         model.Node
			kind      string
			parentID  sql.NullString
			modified  sql.NullString
			pending   int
			stub      int
			lastAcked sql.NullString
		)
		if err := rows.Scan(&n.ID, &kind, &n.Title, &n.URL, &parentID, &modified, &pending, &stub, &lastAcked); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Kind = model.Kind(kind)
		n.ParentID = parentID.String
		n.PendingDeletion = pending != 0
		n.Stub = stub != 0
		if modified.Valid {
			t, err := time.Parse(time.RFC3339Nano, modified.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse modified_at of %s: %w", n.ID, err)
			}
			n.Modified = &t
		}
		if lastAcked.Valid {
			if err := json.Unmarshal([]byte(lastAcked.String), &n.LastAckedChildren); err != nil {
				return nil, fmt.Errorf("failed to parse last_acked_children of %s: %w", n.ID, err)
			}
			if n.LastAckedChildren == nil {
				n.LastAckedChildren = []string{}
			}
		}
		node := n
		nodes[node.ID] = &node
		ordered = append(ordered, &node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	// Rebuild child orders from the position column. The SELECT above is
	// ordered by (parent_id, position), so walking rows in query order
	// preserves each folder's child order.
	for _, n := range ordered {
		if n.ParentID == "" {
			continue
		}
		if parent, ok := nodes[n.ParentID]; ok {
			parent.Children = append(parent.Children, n.ID)
		}
	}

	favRows, err := st.conn.QueryContext(ctx,
		`SELECT container_id, node_id FROM favorites ORDER BY container_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	defer favRows.Close()

	for favRows.Next() {
		var containerID, nodeID string
		if err := favRows.Scan(&containerID, &nodeID); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		container, ok := nodes[containerID]
		if !ok {
			continue
		}
		member, ok := nodes[nodeID]
		if !ok {
			continue
		}
		container.Children = append(container.Children, nodeID)
		member.Favorites = append(member.Favorites, containerID)
	}
	if err := favRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate favorites: %w", err)
	}

	seedWellKnown(nodes)
	return newTx(nodes, version, cursor, lastSynced), nil
}

// Commit implements Store.Commit. The whole view is written back in one
// SQL transaction guarded by the version row; a version mismatch means a
// local write landed since Begin and yields ErrConflict.
func (st *SQLite) Commit(ctx context.Context, tx *Tx) error {
	sqlTx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var current string
	if err := sqlTx.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = 'version'`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}
	if current != strconv.FormatInt(tx.version, 10) {
		return ErrConflict
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM favorites`); err != nil {
		return fmt.Errorf("failed to clear favorites: %w", err)
	}

	// Positions come from each parent's in-memory child order. Favorites
	// containers carry membership, not tree children, so their lists go
	// to the favorites table instead.
	positions := make(map[string]int)
	for _, n := range tx.nodes {
		if !n.IsFolder() || model.IsFavoritesRoot(n.ID) {
			continue
		}
		for i, childID := range n.Children {
			positions[childID] = i
		}
	}

	insertNode := `
	INSERT INTO nodes (
		id, kind, title, url, parent_id, position,
		modified_at, pending_deletion, stub, last_acked_children
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, n := range tx.Nodes() {
		var parentID, modified, lastAcked sql.NullString
		if n.ParentID != "" {
			parentID = sql.NullString{String: n.ParentID, Valid: true}
		}
		if n.Modified != nil {
			modified = sql.NullString{String: n.Modified.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		if n.LastAckedChildren != nil {
			raw, err := json.Marshal(n.LastAckedChildren)
			if err != nil {
				return fmt.Errorf("failed to marshal last_acked_children of %s: %w", n.ID, err)
			}
			lastAcked = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := sqlTx.ExecContext(ctx, insertNode,
			n.ID, string(n.Kind), n.Title, n.URL, parentID, positions[n.ID],
			modified, boolToInt(n.PendingDeletion), boolToInt(n.Stub), lastAcked); err != nil {
			return fmt.Errorf("failed to write node %s: %w", n.ID, err)
		}
	}

	for _, containerID := range model.FavoritesRoots() {
		container, ok := tx.nodes[containerID]
		if !ok {
			continue
		}
		for i, nodeID := range container.Children {
			if _, err := sqlTx.ExecContext(ctx,
				`INSERT INTO favorites (container_id, node_id, position) VALUES (?, ?, ?)`,
				containerID, nodeID, i); err != nil {
				return fmt.Errorf("failed to write favorite %s/%s: %w", containerID, nodeID, err)
			}
		}
	}

	if err := st.writeMeta(ctx, sqlTx, tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (st *SQLite) readMeta(ctx context.Context) (version int64, cursor string, lastSynced *time.Time, err error) {
	rows, err := st.conn.QueryContext(ctx, `SELECT key, value FROM sync_meta`)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read sync metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return 0, "", nil, fmt.Errorf("failed to scan sync metadata: %w", err)
		}
		switch key {
		case "version":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", nil, fmt.Errorf("failed to parse store version: %w", err)
			}
			version = v
		case "cursor":
			cursor = value
		case "last_synced_at":
			if value != "" {
				t, err := time.Parse(time.RFC3339Nano, value)
				if err != nil {
					return 0, "", nil, fmt.Errorf("failed to parse last_synced_at: %w", err)
				}
				lastSynced = &t
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, "", nil, fmt.Errorf("failed to iterate sync metadata: %w", err)
	}
	return version, cursor, lastSynced, nil
}

func (st *SQLite) writeMeta(ctx context.Context, sqlTx *sql.Tx, tx *Tx) error {
	upsert := `INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	next := strconv.FormatInt(tx.version+1, 10)
	if _, err := sqlTx.ExecContext(ctx, upsert, "version", next); err != nil {
		return fmt.Errorf("failed to bump store version: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, upsert, "cursor", tx.Cursor); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	last := ""
	if tx.LastSyncedAt != nil {
		last = tx.LastSyncedAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := sqlTx.ExecContext(ctx, upsert, "last_synced_at", last); err != nil {
		return fmt.Errorf("failed to write last_synced_at: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
