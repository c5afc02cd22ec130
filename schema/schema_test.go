package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorm/expr"
	"dorm/host"
)

func usersTable() *Table {
	return &Table{
		Columns: []*Column{
			{Name: "name", Kind: KindText, NotNull: true},
			{Name: "role", Kind: KindText, HasDefault: true, Default: "member"},
			{Name: "email", Kind: KindText, Unique: true},
		},
		Indexes: []*Index{
			{Name: "by_role", Columns: []string{"role"}},
		},
	}
}

func TestDefineSchemaStampsNamesAndFreezes(t *testing.T) {
	s, err := DefineSchema(map[string]*Table{"users": usersTable()}, DefaultOptions())
	require.NoError(t, err)

	u := s.Table("users")
	require.NotNil(t, u)
	assert.Equal(t, "users", u.Name)
	assert.Equal(t, []string{"users"}, s.Tables())
	assert.Nil(t, s.Table("ghosts"))
}

func TestDefineSchemaSynthesizesColumnShortcuts(t *testing.T) {
	tables := map[string]*Table{
		"users": usersTable(),
		"posts": {
			Columns: []*Column{
				{Name: "title", Kind: KindText},
				{Name: "author_id", Kind: KindID, RefTable: "users",
					References: &Reference{Table: "users", OnDelete: ActionCascade}},
			},
		},
	}
	s, err := DefineSchema(tables, DefaultOptions())
	require.NoError(t, err)

	t.Run("unique column produces unique index", func(t *testing.T) {
		uqs := s.GetUniqueIndexes("users")
		require.Len(t, uqs, 1)
		assert.Equal(t, "uq_users_email", uqs[0].Name)
		assert.Equal(t, []string{"email"}, uqs[0].Columns)
	})

	t.Run("references produces foreign key", func(t *testing.T) {
		fks := s.GetForeignKeys("posts")
		require.Len(t, fks, 1)
		assert.Equal(t, []string{"author_id"}, fks[0].Columns)
		assert.Equal(t, "users", fks[0].RefTable)
		assert.Equal(t, []string{host.FieldID}, fks[0].RefColumns)
		assert.Equal(t, ActionCascade, fks[0].OnDelete)
		assert.True(t, fks[0].TargetsID())
	})
}

func TestDefineSchemaValidation(t *testing.T) {
	tests := []struct {
		name    string
		tables  map[string]*Table
		wantErr string
	}{
		{
			name:    "empty schema",
			tables:  map[string]*Table{},
			wantErr: "no tables",
		},
		{
			name: "host managed column",
			tables: map[string]*Table{"users": {
				Columns: []*Column{{Name: "_id", Kind: KindText}},
			}},
			wantErr: "host-managed",
		},
		{
			name: "duplicate column",
			tables: map[string]*Table{"users": {
				Columns: []*Column{{Name: "a", Kind: KindText}, {Name: "a", Kind: KindText}},
			}},
			wantErr: "duplicate column",
		},
		{
			name: "index over unknown column",
			tables: map[string]*Table{"users": {
				Columns: []*Column{{Name: "a", Kind: KindText}},
				Indexes: []*Index{{Name: "by_b", Columns: []string{"b"}}},
			}},
			wantErr: "unknown column",
		},
		{
			name: "fk to undefined table",
			tables: map[string]*Table{"users": {
				Columns: []*Column{{Name: "org", Kind: KindText}},
				ForeignKeys: []*ForeignKey{{
					Name: "fk", Columns: []string{"org"},
					RefTable: "orgs", RefColumns: []string{host.FieldID},
				}},
			}},
			wantErr: "references undefined table",
		},
		{
			name: "fk to non-id target without index",
			tables: map[string]*Table{
				"users": {Columns: []*Column{{Name: "slug", Kind: KindText}}},
				"posts": {
					Columns: []*Column{{Name: "user_slug", Kind: KindText}},
					ForeignKeys: []*ForeignKey{{
						Name: "fk_posts_users", Columns: []string{"user_slug"},
						RefTable: "users", RefColumns: []string{"slug"},
					}},
				},
			},
			wantErr: "requires index",
		},
		{
			name: "check over unknown column",
			tables: map[string]*Table{"users": {
				Columns: []*Column{{Name: "a", Kind: KindText}},
				Checks:  []*Check{{Name: "chk", Expr: expr.Gt(expr.Ref("b"), int64(1))}},
			}},
			wantErr: "unknown column",
		},
		{
			name: "id column without ref table",
			tables: map[string]*Table{"users": {
				Columns: []*Column{{Name: "owner", Kind: KindID}},
			}},
			wantErr: "RefTable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefineSchema(tt.tables, DefaultOptions())
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefineSchemaAcceptsFkTargetWithIndex(t *testing.T) {
	tables := map[string]*Table{
		"users": {
			Columns: []*Column{{Name: "slug", Kind: KindText}},
			Indexes: []*Index{{Name: "by_slug", Columns: []string{"slug"}}},
		},
		"posts": {
			Columns: []*Column{{Name: "user_slug", Kind: KindText}},
			Indexes: []*Index{{Name: "by_user_slug", Columns: []string{"user_slug"}}},
			ForeignKeys: []*ForeignKey{{
				Name: "fk_posts_users", Columns: []string{"user_slug"},
				RefTable: "users", RefColumns: []string{"slug"},
			}},
		},
	}
	_, err := DefineSchema(tables, DefaultOptions())
	require.NoError(t, err)
}

func TestFindColumnAndIndexes(t *testing.T) {
	s, err := DefineSchema(map[string]*Table{"users": usersTable()}, DefaultOptions())
	require.NoError(t, err)
	u := s.Table("users")

	t.Run("host managed columns resolve", func(t *testing.T) {
		require.NotNil(t, u.FindColumn(host.FieldID))
		assert.Equal(t, KindID, u.FindColumn(host.FieldID).Kind)
		require.NotNil(t, u.FindColumn(host.FieldCreationTime))
	})

	t.Run("implicit indexes resolve", func(t *testing.T) {
		require.NotNil(t, u.FindIndex(IndexByID))
		require.NotNil(t, u.FindIndex(IndexByCreationTime))
	})

	t.Run("unique index is scannable", func(t *testing.T) {
		idx := u.FindIndex("uq_users_email")
		require.NotNil(t, idx)
		assert.Equal(t, []string{"email"}, idx.Columns)
	})

	t.Run("index covering", func(t *testing.T) {
		assert.NotNil(t, u.IndexCovering([]string{"role"}))
		assert.Nil(t, u.IndexCovering([]string{"name"}))
	})
}

func TestHostIndexesCatalog(t *testing.T) {
	s, err := DefineSchema(map[string]*Table{"users": usersTable()}, DefaultOptions())
	require.NoError(t, err)

	catalog := s.HostIndexes()
	require.Contains(t, catalog, "users")
	names := make([]string, 0, len(catalog["users"]))
	for _, def := range catalog["users"] {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "by_role")
	assert.Contains(t, names, "uq_users_email")
}

func TestOptionsFillDefaults(t *testing.T) {
	opts := Options{Strict: false}
	opts.fillDefaults()
	base := DefaultOptions().Defaults
	assert.Equal(t, base, opts.Defaults)
	assert.False(t, opts.Strict)

	custom := Options{Defaults: Defaults{MutationMaxRows: 7}}
	custom.fillDefaults()
	assert.Equal(t, 7, custom.Defaults.MutationMaxRows)
	assert.Equal(t, base.MutationBatchSize, custom.Defaults.MutationBatchSize)
}
