// Package metastore is the durable SQLite-backed record of every parsed
// file and node, used to rebuild the in-memory Graph Store and Full-Text
// Index on startup without re-parsing every file on disk. It follows the
// teacher's internal/store SQLiteStore shape (database/sql over
// ncruces/go-sqlite3's pure-Go driver, a package-level schema string, one
// struct wrapping *sql.DB) generalized to the outline domain and to
// one-transaction-per-reconciled-file commit semantics.
package metastore

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/outlinegraph/outlined/internal/outlineerr"
	"github.com/outlinegraph/outlined/pkg/outline"
)

const schema = `
CREATE TABLE IF NOT EXISTS file (
	path TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	mod_time_unix INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS node (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	title TEXT NOT NULL,
	parent_id TEXT,
	byte_from INTEGER NOT NULL,
	byte_to INTEGER NOT NULL,
	body TEXT NOT NULL,
	FOREIGN KEY(file_path) REFERENCES file(path) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_node_file ON node(file_path);
CREATE INDEX IF NOT EXISTS idx_node_parent ON node(parent_id);

CREATE TABLE IF NOT EXISTS node_tag (
	node_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (node_id, tag),
	FOREIGN KEY(node_id) REFERENCES node(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_node_tag_tag ON node_tag(tag);

CREATE TABLE IF NOT EXISTS link (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (source_id, position),
	FOREIGN KEY(source_id) REFERENCES node(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_link_target ON link(target_id);

CREATE TABLE IF NOT EXISTS node_source_block (
	node_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	language TEXT NOT NULL,
	content TEXT NOT NULL,
	PRIMARY KEY (node_id, position),
	FOREIGN KEY(node_id) REFERENCES node(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS node_custom_block (
	node_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	keyword TEXT NOT NULL,
	content TEXT NOT NULL,
	PRIMARY KEY (node_id, position),
	FOREIGN KEY(node_id) REFERENCES node(id) ON DELETE CASCADE
);
`

// Store is the metadata database described by spec §4.5. Every mutating
// call comes from the single reconciler goroutine; reads may run from any
// goroutine because database/sql pools its own connections.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dsn and ensures
// its schema exists. Pass ":memory:" for a scratch store in tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.Open", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.Open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.Open", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// FileRecord captures what the store persists about one source file.
type FileRecord struct {
	Path        string
	ContentHash string
	ModTimeUnix int64
}

// FileHash returns the last-committed content hash for path, or ("",
// false) if the file has never been committed.
func (s *Store) FileHash(path string) (string, bool, error) {
	var hash string
	err := s.db.QueryRow(`SELECT content_hash FROM file WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, outlineerr.New(outlineerr.KindStoreError, "metastore.FileHash", err)
	}
	return hash, true, nil
}

// CommitFile atomically replaces every node and link this file previously
// contributed with nodes, in a single transaction. Spec §4.8 calls this
// once per reconciled file, with one caller-side retry on failure.
func (s *Store) CommitFile(rec FileRecord, nodes []*outline.Node) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM node WHERE file_path = ?`, rec.Path); err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
	}
	if _, err = tx.Exec(`
		INSERT INTO file (path, content_hash, mod_time_unix) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content_hash = excluded.content_hash, mod_time_unix = excluded.mod_time_unix
	`, rec.Path, rec.ContentHash, rec.ModTimeUnix); err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
	}

	for _, n := range nodes {
		var parentID any
		if n.ParentID != nil {
			parentID = string(*n.ParentID)
		}
		if _, err = tx.Exec(`
			INSERT INTO node (id, file_path, title, parent_id, byte_from, byte_to, body)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(n.ID), rec.Path, n.Title, parentID, n.ByteFrom, n.ByteTo, n.Body); err != nil {
			return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
		}
		for _, tag := range n.Tags {
			if _, err = tx.Exec(`INSERT OR IGNORE INTO node_tag (node_id, tag) VALUES (?, ?)`, string(n.ID), tag); err != nil {
				return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
			}
		}
		for pos, target := range n.Outgoing {
			if _, err = tx.Exec(`INSERT INTO link (source_id, target_id, position) VALUES (?, ?, ?)`,
				string(n.ID), string(target), pos); err != nil {
				return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
			}
		}
		for pos, src := range n.Source {
			if _, err = tx.Exec(`INSERT INTO node_source_block (node_id, position, language, content) VALUES (?, ?, ?, ?)`,
				string(n.ID), pos, src.Language, src.Content); err != nil {
				return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
			}
		}
		for pos, blk := range n.Custom {
			if _, err = tx.Exec(`INSERT INTO node_custom_block (node_id, position, keyword, content) VALUES (?, ?, ?, ?)`,
				string(n.ID), pos, blk.Keyword, blk.Content); err != nil {
				return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "metastore.CommitFile", err)
	}
	return nil
}

// RemoveFile deletes a file and every node/link/tag it owned, in one
// transaction — used when the watcher observes a file was deleted.
func (s *Store) RemoveFile(path string) error {
	_, err := s.db.Exec(`DELETE FROM file WHERE path = ?`, path)
	if err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "metastore.RemoveFile", err)
	}
	return nil
}

// RemoveNode deletes a single node row (and, via cascade, its tags and
// outgoing links) without touching the rest of its owning file — used by
// the reconciler's cross-file duplicate-id policy when an earlier path
// reclaims an id a later file had been the sole owner of.
func (s *Store) RemoveNode(id outline.NodeID) error {
	_, err := s.db.Exec(`DELETE FROM node WHERE id = ?`, string(id))
	if err != nil {
		return outlineerr.New(outlineerr.KindStoreError, "metastore.RemoveNode", err)
	}
	return nil
}

// PersistedNode is the row shape returned by LoadAll, used to rebuild the
// Graph Store and Full-Text Index at startup.
type PersistedNode struct {
	ID       outline.NodeID
	File     string
	Title    string
	ParentID *outline.NodeID
	Body     string
	Tags     []string
	Outgoing []outline.NodeID
	Source   []outline.SourceBlock
	Custom   []outline.CustomBlock
}

// LoadAll returns every persisted node, ordered by id, for reconstructing
// in-memory state without re-parsing the filesystem.
func (s *Store) LoadAll() ([]PersistedNode, error) {
	rows, err := s.db.Query(`SELECT id, file_path, title, parent_id, body FROM node ORDER BY id`)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
	}
	defer rows.Close()

	byID := map[outline.NodeID]*PersistedNode{}
	var order []outline.NodeID
	for rows.Next() {
		var id, file, title string
		var parentID sql.NullString
		var body string
		if err := rows.Scan(&id, &file, &title, &parentID, &body); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
		}
		pn := &PersistedNode{ID: outline.NodeID(id), File: file, Title: title, Body: body}
		if parentID.Valid {
			pid := outline.NodeID(parentID.String)
			pn.ParentID = &pid
		}
		byID[pn.ID] = pn
		order = append(order, pn.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
	}

	tagRows, err := s.db.Query(`SELECT node_id, tag FROM node_tag`)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var id, tag string
		if err := tagRows.Scan(&id, &tag); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
		}
		if pn, ok := byID[outline.NodeID(id)]; ok {
			pn.Tags = append(pn.Tags, tag)
		}
	}

	linkRows, err := s.db.Query(`SELECT source_id, target_id FROM link ORDER BY source_id, position`)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var src, dst string
		if err := linkRows.Scan(&src, &dst); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
		}
		if pn, ok := byID[outline.NodeID(src)]; ok {
			pn.Outgoing = append(pn.Outgoing, outline.NodeID(dst))
		}
	}

	srcRows, err := s.db.Query(`SELECT node_id, language, content FROM node_source_block ORDER BY node_id, position`)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var id, language, content string
		if err := srcRows.Scan(&id, &language, &content); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
		}
		if pn, ok := byID[outline.NodeID(id)]; ok {
			pn.Source = append(pn.Source, outline.SourceBlock{Language: language, Content: content})
		}
	}

	customRows, err := s.db.Query(`SELECT node_id, keyword, content FROM node_custom_block ORDER BY node_id, position`)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
	}
	defer customRows.Close()
	for customRows.Next() {
		var id, keyword, content string
		if err := customRows.Scan(&id, &keyword, &content); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.LoadAll", err)
		}
		if pn, ok := byID[outline.NodeID(id)]; ok {
			pn.Custom = append(pn.Custom, outline.CustomBlock{Keyword: keyword, Content: content})
		}
	}

	out := make([]PersistedNode, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// FileNodes returns every currently-committed node attributed to path,
// with its full title/tags/body/outgoing — used by the reconciler to
// diff a freshly-parsed file against what was last committed for it.
func (s *Store) FileNodes(path string) ([]PersistedNode, error) {
	rows, err := s.db.Query(`SELECT id, title, parent_id, body FROM node WHERE file_path = ? ORDER BY id`, path)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
	}
	defer rows.Close()

	byID := map[outline.NodeID]*PersistedNode{}
	var order []outline.NodeID
	for rows.Next() {
		var id, title string
		var parentID sql.NullString
		var body string
		if err := rows.Scan(&id, &title, &parentID, &body); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
		}
		pn := &PersistedNode{ID: outline.NodeID(id), File: path, Title: title, Body: body}
		if parentID.Valid {
			pid := outline.NodeID(parentID.String)
			pn.ParentID = &pid
		}
		byID[pn.ID] = pn
		order = append(order, pn.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
	}

	for _, id := range order {
		tagRows, err := s.db.Query(`SELECT tag FROM node_tag WHERE node_id = ? ORDER BY tag`, string(id))
		if err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
		}
		for tagRows.Next() {
			var tag string
			if err := tagRows.Scan(&tag); err != nil {
				tagRows.Close()
				return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
			}
			byID[id].Tags = append(byID[id].Tags, tag)
		}
		tagRows.Close()

		linkRows, err := s.db.Query(`SELECT target_id FROM link WHERE source_id = ? ORDER BY position`, string(id))
		if err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
		}
		for linkRows.Next() {
			var target string
			if err := linkRows.Scan(&target); err != nil {
				linkRows.Close()
				return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
			}
			byID[id].Outgoing = append(byID[id].Outgoing, outline.NodeID(target))
		}
		linkRows.Close()

		srcRows, err := s.db.Query(`SELECT language, content FROM node_source_block WHERE node_id = ? ORDER BY position`, string(id))
		if err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
		}
		for srcRows.Next() {
			var language, content string
			if err := srcRows.Scan(&language, &content); err != nil {
				srcRows.Close()
				return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
			}
			byID[id].Source = append(byID[id].Source, outline.SourceBlock{Language: language, Content: content})
		}
		srcRows.Close()

		customRows, err := s.db.Query(`SELECT keyword, content FROM node_custom_block WHERE node_id = ? ORDER BY position`, string(id))
		if err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
		}
		for customRows.Next() {
			var keyword, content string
			if err := customRows.Scan(&keyword, &content); err != nil {
				customRows.Close()
				return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.FileNodes", err)
			}
			byID[id].Custom = append(byID[id].Custom, outline.CustomBlock{Keyword: keyword, Content: content})
		}
		customRows.Close()
	}

	out := make([]PersistedNode, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// NodeByID returns one node's full record by id, or (_, false, nil) if no
// such node is currently committed. Used by the facade's render_document
// operation.
func (s *Store) NodeByID(id outline.NodeID) (PersistedNode, bool, error) {
	var file, title string
	var parentID sql.NullString
	var body string
	err := s.db.QueryRow(`SELECT file_path, title, parent_id, body FROM node WHERE id = ?`, string(id)).
		Scan(&file, &title, &parentID, &body)
	if err == sql.ErrNoRows {
		return PersistedNode{}, false, nil
	}
	if err != nil {
		return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
	}
	pn := PersistedNode{ID: id, File: file, Title: title, Body: body}
	if parentID.Valid {
		pid := outline.NodeID(parentID.String)
		pn.ParentID = &pid
	}

	tagRows, err := s.db.Query(`SELECT tag FROM node_tag WHERE node_id = ? ORDER BY tag`, string(id))
	if err != nil {
		return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
	}
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			tagRows.Close()
			return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
		}
		pn.Tags = append(pn.Tags, tag)
	}
	tagRows.Close()

	linkRows, err := s.db.Query(`SELECT target_id FROM link WHERE source_id = ? ORDER BY position`, string(id))
	if err != nil {
		return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
	}
	for linkRows.Next() {
		var target string
		if err := linkRows.Scan(&target); err != nil {
			linkRows.Close()
			return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
		}
		pn.Outgoing = append(pn.Outgoing, outline.NodeID(target))
	}
	linkRows.Close()

	srcRows, err := s.db.Query(`SELECT language, content FROM node_source_block WHERE node_id = ? ORDER BY position`, string(id))
	if err != nil {
		return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
	}
	for srcRows.Next() {
		var language, content string
		if err := srcRows.Scan(&language, &content); err != nil {
			srcRows.Close()
			return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
		}
		pn.Source = append(pn.Source, outline.SourceBlock{Language: language, Content: content})
	}
	srcRows.Close()

	customRows, err := s.db.Query(`SELECT keyword, content FROM node_custom_block WHERE node_id = ? ORDER BY position`, string(id))
	if err != nil {
		return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
	}
	for customRows.Next() {
		var keyword, content string
		if err := customRows.Scan(&keyword, &content); err != nil {
			customRows.Close()
			return PersistedNode{}, false, outlineerr.New(outlineerr.KindStoreError, "metastore.NodeByID", err)
		}
		pn.Custom = append(pn.Custom, outline.CustomBlock{Keyword: keyword, Content: content})
	}
	customRows.Close()

	return pn, true, nil
}

// NodesForFile returns the ids of every node currently attributed to path,
// used by the reconciler to compute which ids disappeared after a reparse.
func (s *Store) NodesForFile(path string) ([]outline.NodeID, error) {
	rows, err := s.db.Query(`SELECT id FROM node WHERE file_path = ?`, path)
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.NodesForFile", err)
	}
	defer rows.Close()
	var out []outline.NodeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, outlineerr.New(outlineerr.KindStoreError, "metastore.NodesForFile", err)
		}
		out = append(out, outline.NodeID(id))
	}
	return out, nil
}

// FindNodeFile reports which file currently owns id, for the cross-file
// duplicate-id policy in spec §4.8 (lexicographically earlier path wins).
func (s *Store) FindNodeFile(id outline.NodeID) (string, bool, error) {
	var path string
	err := s.db.QueryRow(`SELECT file_path FROM node WHERE id = ?`, string(id)).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, outlineerr.New(outlineerr.KindStoreError, "metastore.FindNodeFile", fmt.Errorf("lookup %s: %w", id, err))
	}
	return path, true, nil
}
