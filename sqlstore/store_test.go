package sqlstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"dorm/host"
)

// openSQLite gives each test its own in-memory database.
func openSQLite(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping sqlstore test in short mode")
	}
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// A single connection keeps the in-memory database alive across the
	// pool.
	db.SetMaxOpenConns(1)

	s, err := Open(context.Background(), db, DialectSQLite, map[string][]host.IndexDef{
		"users": {{Name: "by_role", Columns: []string{"role"}}},
	})
	require.NoError(t, err)
	return s
}

func TestSQLiteCrud(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	id, err := s.Insert(ctx, "users", host.Document{"name": "Ada", "role": "admin", "age": int64(36)})
	require.NoError(t, err)
	assert.Equal(t, "users", id.Table())

	t.Run("get restores the document", func(t *testing.T) {
		doc, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, id, doc[host.FieldID])
		assert.Equal(t, "Ada", doc["name"])
		// Numbers come back as JSON float64.
		assert.Equal(t, float64(36), doc["age"])
		assert.IsType(t, float64(0), doc[host.FieldCreationTime])
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		doc, err := s.Get(ctx, host.MakeID("users", "ghost"))
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("patch merges and unsets", func(t *testing.T) {
		require.NoError(t, s.Patch(ctx, id, host.Document{"role": "owner", "name": host.Unset}))
		doc, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "owner", doc["role"])
		_, present := doc["name"]
		assert.False(t, present)
	})

	t.Run("patch missing errors", func(t *testing.T) {
		err := s.Patch(ctx, host.MakeID("users", "ghost"), host.Document{"x": 1})
		assert.Error(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, id))
		doc, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, doc)
		assert.NoError(t, s.Delete(ctx, id))
	})
}

func TestSQLiteQueryAndPagination(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	for i := 0; i < 12; i++ {
		role := "member"
		if i%3 == 0 {
			role = "admin"
		}
		_, err := s.Insert(ctx, "users", host.Document{"n": int64(i), "role": role})
		require.NoError(t, err)
	}

	t.Run("index probe", func(t *testing.T) {
		docs, err := s.Query("users").WithIndex("by_role", &host.IndexRange{
			Eq: []host.IndexEq{{Column: "role", Value: "admin"}},
		}).Collect(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 4)
	})

	t.Run("unknown index", func(t *testing.T) {
		_, err := s.Query("users").WithIndex("by_ghost", nil).Collect(ctx)
		require.Error(t, err)
	})

	t.Run("cursor pagination", func(t *testing.T) {
		q := s.Query("users").WithIndex(host.IndexByCreationTime, nil)
		page1, err := q.Paginate(ctx, host.PaginateOptions{NumItems: 5})
		require.NoError(t, err)
		require.Len(t, page1.Docs, 5)
		require.False(t, page1.IsDone)

		page2, err := q.Paginate(ctx, host.PaginateOptions{Cursor: &page1.ContinueCursor, NumItems: 5})
		require.NoError(t, err)
		require.Len(t, page2.Docs, 5)

		page3, err := q.Paginate(ctx, host.PaginateOptions{Cursor: &page2.ContinueCursor, NumItems: 5})
		require.NoError(t, err)
		assert.Len(t, page3.Docs, 2)
		assert.True(t, page3.IsDone)

		seen := map[any]bool{}
		for _, page := range []*host.Page{page1, page2, page3} {
			for _, doc := range page.Docs {
				assert.False(t, seen[doc["n"]])
				seen[doc["n"]] = true
			}
		}
		assert.Len(t, seen, 12)
	})

	t.Run("host filter", func(t *testing.T) {
		docs, err := s.Query("users").
			Filter(host.Gt(host.Field("n"), host.Literal(int64(8)))).
			Collect(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})

	t.Run("first and order", func(t *testing.T) {
		doc, err := s.Query("users").WithIndex(host.IndexByCreationTime, nil).
			Order(host.Desc).First(ctx)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, float64(11), doc["n"])
	})
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sqlstore test in short mode")
	}
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = Open(context.Background(), db, Dialect("oracle"), nil)
	assert.Error(t, err)
}
