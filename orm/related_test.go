package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorm/host"
	"dorm/memstore"
	"dorm/relations"
	"dorm/schema"
)

func relatedEnv(t *testing.T) *testEnv {
	t.Helper()
	tables := map[string]*schema.Table{
		"users": {
			Columns: []*schema.Column{{Name: "name", Kind: schema.KindText}},
		},
		"posts": {
			Columns: []*schema.Column{
				{Name: "title", Kind: schema.KindText},
				{Name: "author_id", Kind: schema.KindID, RefTable: "users"},
			},
			Indexes: []*schema.Index{{Name: "by_author", Columns: []string{"author_id"}}},
		},
	}
	s, err := schema.DefineSchema(tables, schema.DefaultOptions())
	require.NoError(t, err)
	edges, err := relations.Build(s, map[string]map[string]relations.EdgeSpec{
		"posts": {"author": {Target: "users", Cardinality: relations.One}},
		"users": {"posts": {Target: "posts", Cardinality: relations.Many}},
	})
	require.NoError(t, err)

	store := memstore.New(s.HostIndexes())
	o, err := New(s, Config{Store: store, Relations: edges})
	require.NoError(t, err)
	return &testEnv{orm: o, store: store}
}

func TestRelatedTraversesEdges(t *testing.T) {
	ctx := context.Background()
	env := relatedEnv(t)

	users, err := env.orm.Insert("users").Values(host.Document{"name": "Ada"}).Execute(ctx)
	require.NoError(t, err)
	ada := users[0]
	_, err = env.orm.Insert("posts").Values(
		host.Document{"title": "p1", "author_id": ada[host.FieldID]},
		host.Document{"title": "p2", "author_id": ada[host.FieldID]},
	).Execute(ctx)
	require.NoError(t, err)

	t.Run("many edge returns all children", func(t *testing.T) {
		edge := env.orm.EdgeByName("users", "posts")
		require.NotNil(t, edge)
		rows, err := env.orm.Related(ctx, edge, ada)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("one edge returns the parent", func(t *testing.T) {
		edge := env.orm.EdgeByName("posts", "author")
		require.NotNil(t, edge)
		posts, err := env.orm.Query("posts").AllowFullScan().FindMany(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, posts)
		rows, err := env.orm.Related(ctx, edge, posts[0])
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Ada", rows[0]["name"])
	})

	t.Run("null key joins to nothing", func(t *testing.T) {
		edge := env.orm.EdgeByName("posts", "author")
		rows, err := env.orm.Related(ctx, edge, host.Document{"author_id": nil})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("unknown edge", func(t *testing.T) {
		assert.Nil(t, env.orm.EdgeByName("users", "ghost"))
		_, err := env.orm.Related(ctx, nil, ada)
		assert.Error(t, err)
	})
}
