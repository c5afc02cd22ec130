// Package sqlstore implements the host store contract over a relational
// database through database/sql. Documents live in a single table as JSON
// bodies; index scan semantics are served by the shared scan engine, so
// the store behaves identically to memstore while persisting to SQLite or
// MySQL.
//
// The caller opens the *sql.DB and registers the driver (modernc.org's
// "sqlite" or go-sql-driver's "mysql").
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dorm/host"
)

// Dialect selects the SQL flavor for schema management.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// Store persists documents in one relational table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	indexes map[string][]host.IndexDef

	mu       sync.Mutex
	lastTick int64
}

// Open wraps an opened database, verifies connectivity, and creates the
// documents table when missing.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, indexes map[string][]host.IndexDef) (*Store, error) {
	if dialect != DialectSQLite && dialect != DialectMySQL {
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: failed to ping database: %w", err)
	}
	if indexes == nil {
		indexes = map[string][]host.IndexDef{}
	}
	s := &Store{db: db, dialect: dialect, indexes: indexes}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	var stmts []string
	switch s.dialect {
	case DialectSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				table_name TEXT NOT NULL,
				creation_time REAL NOT NULL,
				body TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_table ON documents (table_name, creation_time)`,
		}
	case DialectMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id VARCHAR(191) PRIMARY KEY,
				table_name VARCHAR(191) NOT NULL,
				creation_time DOUBLE NOT NULL,
				body JSON NOT NULL,
				KEY idx_documents_table (table_name, creation_time)
			)`,
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) nextTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= s.lastTick {
		now = s.lastTick + 1
	}
	s.lastTick = now
	return now
}

// Get returns the document with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id host.ID) (host.Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE id = ?`, string(id)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %s: %w", id, err)
	}
	return decodeBody(id, body)
}

// Insert stores doc and stamps _id and _creationTime.
func (s *Store) Insert(ctx context.Context, table string, doc host.Document) (host.ID, error) {
	if table == "" {
		return "", fmt.Errorf("sqlstore: insert with empty table name")
	}
	id := host.MakeID(table, uuid.NewString())
	ct := float64(s.nextTick())
	stored := make(host.Document, len(doc)+2)
	for k, v := range doc {
		stored[k] = v
	}
	stored[host.FieldID] = id
	stored[host.FieldCreationTime] = ct
	body, err := encodeBody(stored)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, table_name, creation_time, body) VALUES (?, ?, ?, ?)`,
		string(id), table, ct, body)
	if err != nil {
		return "", fmt.Errorf("sqlstore: insert into %q: %w", table, err)
	}
	return id, nil
}

// Patch merges patch into the stored body; Unset values remove the field.
func (s *Store) Patch(ctx context.Context, id host.ID, patch host.Document) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("sqlstore: patch of missing document %s", id)
	}
	for k, v := range patch {
		if k == host.FieldID || k == host.FieldCreationTime {
			continue
		}
		if host.IsUnset(v) {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET body = ? WHERE id = ?`, body, string(id))
	if err != nil {
		return fmt.Errorf("sqlstore: patch %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlstore: patch of missing document %s", id)
	}
	return nil
}

// Delete removes the document; deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, id host.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("sqlstore: delete %s: %w", id, err)
	}
	return nil
}

// Query starts a read over table.
func (s *Store) Query(table string) host.Query {
	return &query{store: s, table: table, order: host.Asc, index: host.IndexByCreationTime}
}

// loadTable reads every document of one table, ordered by creation time
// so downstream sorting starts from a stable base.
func (s *Store) loadTable(ctx context.Context, table string) ([]host.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE table_name = ? ORDER BY creation_time`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan %q: %w", table, err)
	}
	defer rows.Close()

	var docs []host.Document
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("sqlstore: scan %q: %w", table, err)
		}
		doc, err := decodeBody(host.ID(id), body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) indexColumns(table, name string) ([]string, error) {
	switch name {
	case host.IndexByID:
		return []string{host.FieldID}, nil
	case host.IndexByCreationTime:
		return []string{host.FieldCreationTime}, nil
	}
	for _, def := range s.indexes[table] {
		if def.Name == name {
			return def.Columns, nil
		}
	}
	return nil, fmt.Errorf("sqlstore: index %q not found on table %q", name, table)
}

func encodeBody(doc host.Document) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode document: %w", err)
	}
	return body, nil
}

// decodeBody restores a stored body; _id regains its branded type while
// every other value keeps its JSON shape.
func decodeBody(id host.ID, body []byte) (host.Document, error) {
	var doc host.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("sqlstore: decode document %s: %w", id, err)
	}
	doc[host.FieldID] = id
	return doc, nil
}
