// Package memstore is an in-memory implementation of the host store and
// scheduler contracts. It backs the test suite and embedded use; the
// cursor format and split semantics follow the host paginator contract.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dorm/host"
)

// Store keeps every table in process memory. All operations are safe for
// concurrent use; reads observe whatever writes completed before them.
type Store struct {
	mu       sync.Mutex
	indexes  map[string][]host.IndexDef
	tables   map[string]map[host.ID]host.Document
	lastTick int64
}

// New builds an empty store serving the given index catalog (table name to
// index definitions, typically Schema.HostIndexes()).
func New(indexes map[string][]host.IndexDef) *Store {
	if indexes == nil {
		indexes = map[string][]host.IndexDef{}
	}
	return &Store{
		indexes: indexes,
		tables:  make(map[string]map[host.ID]host.Document),
	}
}

// nextTick returns a strictly increasing millisecond timestamp so that
// _creationTime totally orders inserts.
func (s *Store) nextTick() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastTick {
		now = s.lastTick + 1
	}
	s.lastTick = now
	return now
}

// Get returns a copy of the document, or nil when absent.
func (s *Store) Get(_ context.Context, id host.ID) (host.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := id.Table()
	doc, ok := s.tables[table][id]
	if !ok {
		return nil, nil
	}
	return copyDoc(doc), nil
}

// Insert stores a copy of doc and stamps _id and _creationTime.
func (s *Store) Insert(_ context.Context, table string, doc host.Document) (host.ID, error) {
	if table == "" {
		return "", fmt.Errorf("memstore: insert with empty table name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := host.MakeID(table, uuid.NewString())
	stored := copyDoc(doc)
	stored[host.FieldID] = id
	stored[host.FieldCreationTime] = float64(s.nextTick())
	if s.tables[table] == nil {
		s.tables[table] = make(map[host.ID]host.Document)
	}
	s.tables[table][id] = stored
	return id, nil
}

// Patch merges patch into the stored document; Unset values remove the
// field. Patching a missing document is an error.
func (s *Store) Patch(_ context.Context, id host.ID, patch host.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.tables[id.Table()][id]
	if !ok {
		return fmt.Errorf("memstore: patch of missing document %s", id)
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
	return nil
}

// Delete removes the document. Deleting a missing document is a no-op.
func (s *Store) Delete(_ context.Context, id host.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[id.Table()], id)
	return nil
}

// Query starts a read over table.
func (s *Store) Query(table string) host.Query {
	return &query{store: s, table: table, order: host.Asc, index: host.IndexByCreationTime}
}

// Len reports the number of documents currently stored in table.
func (s *Store) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
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
	return nil, fmt.Errorf("memstore: index %q not found on table %q", name, table)
}

// snapshot copies the current contents of a table.
func (s *Store) snapshot(table string) []host.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]host.Document, 0, len(s.tables[table]))
	for _, doc := range s.tables[table] {
		docs = append(docs, copyDoc(doc))
	}
	return docs
}

func copyDoc(doc host.Document) host.Document {
	out := make(host.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
