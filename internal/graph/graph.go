// Package graph implements the Obsidian vault extension's link graph:
// nodes keyed by canonical vault path, edges typed wikilink/backlink/
// tag/header, and bounded breadth-first neighbor traversal.
//
// Storage follows the same SQLite setup as store.SQLiteBM25Index (own
// database file, WAL mode, single writer connection) rather than adding
// tables to the metadata store directly, so the graph can be rebuilt or
// dropped independently of document metadata.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// EdgeType classifies a graph edge.
type EdgeType string

const (
	Wikilink EdgeType = "wikilink"
	Backlink EdgeType = "backlink"
	Tag      EdgeType = "tag"
	Header   EdgeType = "header"
)

// Node is a vault note (or a placeholder standing in for one that has
// not been indexed yet).
type Node struct {
	Path        string
	Title       string
	Content     string
	Frontmatter map[string]any
	Placeholder bool
}

// Edge connects two nodes by path. Both endpoints are guaranteed to
// have a Node row, real or placeholder, so traversal never dangles.
type Edge struct {
	Source string
	Target string
	Type   EdgeType
}

// Store persists the note graph in its own SQLite database.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// New opens or creates the graph database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create graph db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS graph_nodes (
		path TEXT PRIMARY KEY,
		title TEXT,
		content TEXT,
		frontmatter TEXT,
		placeholder INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS graph_edges (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		type TEXT NOT NULL,
		PRIMARY KEY (source, target, type),
		FOREIGN KEY (source) REFERENCES graph_nodes(path) ON DELETE CASCADE,
		FOREIGN KEY (target) REFERENCES graph_nodes(path) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to init graph schema: %w", err)
	}
	return nil
}

// Close flushes the WAL and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	s.db = nil
	return err
}

// ensureNode inserts a placeholder row for path if one does not already
// exist. Called while holding s.mu for writing.
func (s *Store) ensureNode(ctx context.Context, tx *sql.Tx, path string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO graph_nodes (path, title, content, frontmatter, placeholder)
		VALUES (?, '', '', '{}', 1)
		ON CONFLICT(path) DO NOTHING
	`, path)
	return err
}

// UpsertNode writes a real (non-placeholder) node, replacing any
// placeholder previously created for it by an inbound edge.
func (s *Store) UpsertNode(ctx context.Context, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fm := n.Frontmatter
	if fm == nil {
		fm = map[string]any{}
	}
	fmJSON, err := json.Marshal(fm)
	if err != nil {
		return fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (path, title, content, frontmatter, placeholder)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			frontmatter = excluded.frontmatter,
			placeholder = 0
	`, n.Path, n.Title, n.Content, string(fmJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	var n Node
	var fmJSON string
	var placeholder int
	if err := row.Scan(&n.Path, &n.Title, &n.Content, &fmJSON, &placeholder); err != nil {
		return nil, err
	}
	n.Placeholder = placeholder != 0
	if fmJSON != "" {
		if err := json.Unmarshal([]byte(fmJSON), &n.Frontmatter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal frontmatter for %s: %w", n.Path, err)
		}
	}
	return &n, nil
}

// GetNode returns the node at path, or nil if no node (real or
// placeholder) exists for it.
func (s *Store) GetNode(ctx context.Context, path string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT path, title, content, frontmatter, placeholder FROM graph_nodes WHERE path = ?
	`, path)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return n, nil
}

// DeleteNode removes a node and every edge touching it.
func (s *Store) DeleteNode(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM graph_nodes WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

// AddEdge records source -> target with the given type, creating
// placeholder nodes for either endpoint if it has not been indexed
// yet. Adding a Wikilink edge also materializes the reverse Backlink
// edge so callers never need to query in both directions by hand.
func (s *Store) AddEdge(ctx context.Context, e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureNode(ctx, tx, e.Source); err != nil {
		return fmt.Errorf("failed to ensure source node: %w", err)
	}
	if err := s.ensureNode(ctx, tx, e.Target); err != nil {
		return fmt.Errorf("failed to ensure target node: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_edges (source, target, type) VALUES (?, ?, ?)
		ON CONFLICT(source, target, type) DO NOTHING
	`, e.Source, e.Target, string(e.Type)); err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}

	if e.Type == Wikilink {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (source, target, type) VALUES (?, ?, ?)
			ON CONFLICT(source, target, type) DO NOTHING
		`, e.Target, e.Source, string(Backlink)); err != nil {
			return fmt.Errorf("failed to insert reverse backlink edge: %w", err)
		}
	}

	return tx.Commit()
}

// Edges returns every edge whose source is path, optionally filtered
// to the given types (all types if none given).
func (s *Store) Edges(ctx context.Context, path string, types ...EdgeType) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked(ctx, path, types...)
}

func (s *Store) edgesLocked(ctx context.Context, path string, types ...EdgeType) ([]*Edge, error) {
	query := `SELECT source, target, type FROM graph_edges WHERE source = ?`
	args := []any{path}
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		var e Edge
		var typ string
		if err := rows.Scan(&e.Source, &e.Target, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Type = EdgeType(typ)
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

// Neighbors returns every node reachable from path within hops steps,
// following edges of the given types (all types if none given).
// Traversal is breadth-first and bounded by hops; it never builds a
// transitive closure, since the vault graph can contain cycles.
func (s *Store) Neighbors(ctx context.Context, path string, hops int, types ...EdgeType) ([]*Node, error) {
	if hops < 0 {
		return nil, fmt.Errorf("hops must be non-negative, got %d", hops)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{path: true}
	frontier := []string{path}
	var order []string

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, p := range frontier {
			edges, err := s.edgesLocked(ctx, p, types...)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.Target] {
					continue
				}
				visited[e.Target] = true
				next = append(next, e.Target)
				order = append(order, e.Target)
			}
		}
		frontier = next
	}

	nodes := make([]*Node, 0, len(order))
	for _, p := range order {
		row := s.db.QueryRowContext(ctx, `
			SELECT path, title, content, frontmatter, placeholder FROM graph_nodes WHERE path = ?
		`, p)
		n, err := scanNode(row)
		if err != nil {
			return nil, fmt.Errorf("failed to load neighbor %s: %w", p, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
