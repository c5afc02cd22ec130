package relations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorm/host"
	"dorm/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	tables := map[string]*schema.Table{
		"users": {
			Columns: []*schema.Column{
				{Name: "name", Kind: schema.KindText},
			},
		},
		"posts": {
			Columns: []*schema.Column{
				{Name: "title", Kind: schema.KindText},
				{Name: "author_id", Kind: schema.KindID, RefTable: "users"},
			},
		},
		"profiles": {
			Columns: []*schema.Column{
				{Name: "bio", Kind: schema.KindText},
				{Name: "user_id", Kind: schema.KindID, RefTable: "users"},
			},
		},
	}
	s, err := schema.DefineSchema(tables, schema.DefaultOptions())
	require.NoError(t, err)
	return s
}

func TestBuildResolvesEdges(t *testing.T) {
	s := testSchema(t)
	edges, err := Build(s, map[string]map[string]EdgeSpec{
		"posts": {
			"author": {Target: "users", Cardinality: One, From: []string{"author_id"}, To: []string{host.FieldID}},
		},
		"users": {
			"posts": {Target: "posts", Cardinality: Many, From: []string{host.FieldID}, To: []string{"author_id"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, edges, 2)

	var author, posts *Edge
	for _, e := range edges {
		switch e.Name {
		case "author":
			author = e
		case "posts":
			posts = e
		}
	}
	require.NotNil(t, author)
	require.NotNil(t, posts)
	assert.Equal(t, "posts", author.Source)
	assert.Equal(t, "users", author.Target)
	assert.Equal(t, One, author.Cardinality)

	t.Run("inverse pairing without alias", func(t *testing.T) {
		assert.Same(t, posts, author.Inverse)
		assert.Same(t, author, posts.Inverse)
	})
}

func TestBuildInfersFieldsFromIdColumns(t *testing.T) {
	s := testSchema(t)
	edges, err := Build(s, map[string]map[string]EdgeSpec{
		"posts": {"author": {Target: "users", Cardinality: One}},
		"users": {"articles": {Target: "posts", Cardinality: Many}},
	})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		switch e.Name {
		case "author":
			assert.Equal(t, []string{"author_id"}, e.SourceFields)
			assert.Equal(t, []string{host.FieldID}, e.TargetFields)
		case "articles":
			assert.Equal(t, []string{host.FieldID}, e.SourceFields)
			assert.Equal(t, []string{"author_id"}, e.TargetFields)
		}
	}
}

func TestBuildAliasPairing(t *testing.T) {
	s := testSchema(t)
	edges, err := Build(s, map[string]map[string]EdgeSpec{
		"posts": {
			"author": {Target: "users", Cardinality: One, From: []string{"author_id"}, To: []string{host.FieldID}, Alias: "authored"},
		},
		"users": {
			"written": {Target: "posts", Cardinality: Many, From: []string{host.FieldID}, To: []string{"author_id"}, Alias: "authored"},
		},
	})
	require.NoError(t, err)
	for _, e := range edges {
		require.NotNil(t, e.Inverse, "edge %s", e.Name)
		assert.NotEqual(t, e.Name, e.Inverse.Name)
	}
}

func TestBuildRejections(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		name    string
		defs    map[string]map[string]EdgeSpec
		wantErr string
	}{
		{
			name: "edge name collides with column",
			defs: map[string]map[string]EdgeSpec{
				"posts": {"title": {Target: "users", Cardinality: One, From: []string{"author_id"}, To: []string{host.FieldID}}},
			},
			wantErr: "relation name collides",
		},
		{
			name: "undefined target table",
			defs: map[string]map[string]EdgeSpec{
				"posts": {"owner": {Target: "ghosts", Cardinality: One, From: []string{"author_id"}, To: []string{host.FieldID}}},
			},
			wantErr: "references undefined table",
		},
		{
			name: "from field not on source",
			defs: map[string]map[string]EdgeSpec{
				"posts": {"owner": {Target: "users", Cardinality: One, From: []string{"ghost_id"}, To: []string{host.FieldID}}},
			},
			wantErr: `"from" columns must belong`,
		},
		{
			name: "to field not on target",
			defs: map[string]map[string]EdgeSpec{
				"posts": {"owner": {Target: "users", Cardinality: One, From: []string{"author_id"}, To: []string{"ghost"}}},
			},
			wantErr: `"to" columns must belong`,
		},
		{
			name: "alias without opposite edge",
			defs: map[string]map[string]EdgeSpec{
				"posts": {"owner": {Target: "users", Cardinality: One, From: []string{"author_id"}, To: []string{host.FieldID}, Alias: "solo"}},
			},
			wantErr: "alias",
		},
		{
			name: "unknown cardinality",
			defs: map[string]map[string]EdgeSpec{
				"posts": {"owner": {Target: "users", Cardinality: "several", From: []string{"author_id"}, To: []string{host.FieldID}}},
			},
			wantErr: "cardinality",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(s, tt.defs)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuildRejectsCycles(t *testing.T) {
	tables := map[string]*schema.Table{
		"a": {Columns: []*schema.Column{{Name: "b_id", Kind: schema.KindID, RefTable: "b"}, {Name: "self_id", Kind: schema.KindID, RefTable: "a"}}},
		"b": {Columns: []*schema.Column{{Name: "a_id", Kind: schema.KindID, RefTable: "a"}}},
	}
	s, err := schema.DefineSchema(tables, schema.DefaultOptions())
	require.NoError(t, err)

	t.Run("self edge fails", func(t *testing.T) {
		_, err := Build(s, map[string]map[string]EdgeSpec{
			"a": {"parent": {Target: "a", Cardinality: One, From: []string{"self_id"}, To: []string{host.FieldID}}},
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, "Circular dependency")
	})

	t.Run("two table cycle fails", func(t *testing.T) {
		_, err := Build(s, map[string]map[string]EdgeSpec{
			"a": {"partner": {Target: "b", Cardinality: One, From: []string{"b_id"}, To: []string{host.FieldID}}},
			"b": {"partner": {Target: "a", Cardinality: One, From: []string{"a_id"}, To: []string{host.FieldID}}},
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, "Circular dependency")
	})

	t.Run("one to many pair is not a cycle", func(t *testing.T) {
		_, err := Build(s, map[string]map[string]EdgeSpec{
			"a": {"partner": {Target: "b", Cardinality: One, From: []string{"b_id"}, To: []string{host.FieldID}}},
			"b": {"children": {Target: "a", Cardinality: Many, From: []string{host.FieldID}, To: []string{"b_id"}}},
		})
		require.NoError(t, err)
	})
}
