package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

func defaultUsersTables() map[string]*schema.Table {
	return map[string]*schema.Table{
		"default_users": {
			Columns: []*schema.Column{
				{Name: "name", Kind: schema.KindText, NotNull: true},
				{Name: "role", Kind: schema.KindText, HasDefault: true, Default: "member"},
				{Name: "nickname", Kind: schema.KindText, HasDefault: true, Default: "anon"},
			},
		},
	}
}

func TestInsertDefaultSubstitution(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultUsersTables(), nil)

	rows, err := env.orm.Insert("default_users").
		Values(host.Document{"name": "Ada"}).
		Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "member", rows[0]["role"])
	assert.Equal(t, "anon", rows[0]["nickname"])
	assert.NotEmpty(t, rows[0][host.FieldID])

	t.Run("explicit null is not overridden", func(t *testing.T) {
		rows, err := env.orm.Insert("default_users").
			Values(host.Document{"name": "Ada", "nickname": nil}).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		v, present := rows[0]["nickname"]
		assert.True(t, present)
		assert.Nil(t, v)
	})
}

func TestInsertCheckConstraint(t *testing.T) {
	ctx := context.Background()
	ageMin, err := expr.ParseSQL("age >= 21")
	require.NoError(t, err)
	tables := map[string]*schema.Table{
		"check_users": {
			Columns: []*schema.Column{
				{Name: "name", Kind: schema.KindText, NotNull: true},
				{Name: "age", Kind: schema.KindInteger},
			},
			Checks: []*schema.Check{{Name: "age_min", Expr: ageMin}},
		},
	}
	env := newTestEnv(t, tables, nil)

	t.Run("false rejects", func(t *testing.T) {
		_, err := env.orm.Insert("check_users").
			Values(host.Document{"name": "Ada", "age": int64(18)}).
			Execute(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "check")
	})

	t.Run("unknown passes", func(t *testing.T) {
		rows, err := env.orm.Insert("check_users").
			Values(host.Document{"name": "Ada", "age": nil}).
			Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("true passes", func(t *testing.T) {
		_, err := env.orm.Insert("check_users").
			Values(host.Document{"name": "Ada", "age": int64(30)}).
			Execute(ctx)
		require.NoError(t, err)
	})
}

func uniqueTables() map[string]*schema.Table {
	return map[string]*schema.Table{
		"unique_users": {
			Columns: []*schema.Column{
				{Name: "email", Kind: schema.KindText, Unique: true},
				{Name: "org", Kind: schema.KindText},
				{Name: "handle", Kind: schema.KindText},
			},
			UniqueIndexes: []*schema.UniqueIndex{
				{Name: "uq_org_handle", Columns: []string{"org", "handle"}},
			},
		},
		"unique_nulls_strict": {
			Columns: []*schema.Column{
				{Name: "code", Kind: schema.KindText, Unique: true, NullsNotDistinct: true},
			},
		},
	}
}

func TestInsertUniqueEnforcement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, uniqueTables(), nil)

	t.Run("column unique conflicts", func(t *testing.T) {
		_, err := env.orm.Insert("unique_users").Values(host.Document{"email": "a@x"}).Execute(ctx)
		require.NoError(t, err)
		_, err = env.orm.Insert("unique_users").Values(host.Document{"email": "a@x"}).Execute(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "unique")
	})

	t.Run("compound unique conflicts", func(t *testing.T) {
		_, err := env.orm.Insert("unique_users").
			Values(host.Document{"email": "b@x", "org": "acme", "handle": "ada"}).
			Execute(ctx)
		require.NoError(t, err)
		_, err = env.orm.Insert("unique_users").
			Values(host.Document{"email": "c@x", "org": "acme", "handle": "ada"}).
			Execute(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "unique")

		// The same handle in another org is fine.
		_, err = env.orm.Insert("unique_users").
			Values(host.Document{"email": "d@x", "org": "globex", "handle": "ada"}).
			Execute(ctx)
		require.NoError(t, err)
	})

	t.Run("nulls distinct by default", func(t *testing.T) {
		_, err := env.orm.Insert("unique_users").Values(host.Document{"email": nil}).Execute(ctx)
		require.NoError(t, err)
		_, err = env.orm.Insert("unique_users").Values(host.Document{"email": nil}).Execute(ctx)
		require.NoError(t, err, "two NULL keys coexist")
	})

	t.Run("nullsNotDistinct collides", func(t *testing.T) {
		_, err := env.orm.Insert("unique_nulls_strict").Values(host.Document{"code": nil}).Execute(ctx)
		require.NoError(t, err)
		_, err = env.orm.Insert("unique_nulls_strict").Values(host.Document{"code": nil}).Execute(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "unique")
	})
}

func TestInsertOnConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("do nothing returns empty", func(t *testing.T) {
		env := newTestEnv(t, uniqueTables(), nil)
		_, err := env.orm.Insert("unique_users").Values(host.Document{"email": "a@x"}).Execute(ctx)
		require.NoError(t, err)

		rows, err := env.orm.Insert("unique_users").
			Values(host.Document{"email": "a@x"}).
			OnConflictDoNothing().
			Execute(ctx)
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.Equal(t, 1, env.store.Len("unique_users"))
	})

	t.Run("do update applies the set", func(t *testing.T) {
		env := newTestEnv(t, uniqueTables(), nil)
		first, err := env.orm.Insert("unique_users").
			Values(host.Document{"email": "a@x", "org": "acme"}).
			Execute(ctx)
		require.NoError(t, err)

		rows, err := env.orm.Insert("unique_users").
			Values(host.Document{"email": "a@x", "org": "ignored"}).
			OnConflictDoUpdate([]string{"email"}, host.Document{"org": "globex"}).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, first[0][host.FieldID], rows[0][host.FieldID], "existing row updated")
		assert.Equal(t, "globex", rows[0]["org"])
		assert.Equal(t, 1, env.store.Len("unique_users"))
	})

	t.Run("do update inserts when no conflict", func(t *testing.T) {
		env := newTestEnv(t, uniqueTables(), nil)
		rows, err := env.orm.Insert("unique_users").
			Values(host.Document{"email": "new@x"}).
			OnConflictDoUpdate([]string{"email"}, host.Document{"org": "acme"}).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Nil(t, rows[0]["org"])
	})

	t.Run("upsert runs pending onUpdate hooks", func(t *testing.T) {
		tables := map[string]*schema.Table{
			"hooked": {
				Columns: []*schema.Column{
					{Name: "key", Kind: schema.KindText, Unique: true},
					{Name: "value", Kind: schema.KindText},
					{Name: "stamp", Kind: schema.KindText, OnUpdateFn: func() any { return "updated" }},
				},
			},
		}
		env := newTestEnv(t, tables, nil)
		_, err := env.orm.Insert("hooked").
			Values(host.Document{"key": "k", "value": "v1", "stamp": "initial"}).
			Execute(ctx)
		require.NoError(t, err)

		rows, err := env.orm.Insert("hooked").
			Values(host.Document{"key": "k"}).
			OnConflictDoUpdate([]string{"key"}, host.Document{"value": "v2"}).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "v2", rows[0]["value"])
		assert.Equal(t, "updated", rows[0]["stamp"])
	})
}

func fkTables() map[string]*schema.Table {
	return map[string]*schema.Table{
		"users": {
			Columns: []*schema.Column{
				{Name: "slug", Kind: schema.KindText},
			},
			Indexes: []*schema.Index{{Name: "by_slug", Columns: []string{"slug"}}},
		},
		"memberships": {
			Columns: []*schema.Column{
				{Name: "user_id", Kind: schema.KindID, RefTable: "users"},
				{Name: "user_slug", Kind: schema.KindText},
			},
			Indexes: []*schema.Index{{Name: "by_user_slug", Columns: []string{"user_slug"}}},
			ForeignKeys: []*schema.ForeignKey{{
				Name:       "fk_memberships_user_slug",
				Columns:    []string{"user_slug"},
				RefTable:   "users",
				RefColumns: []string{"slug"},
			}},
		},
	}
}

func TestInsertForeignKeyEnforcement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, fkTables(), nil)

	users, err := env.orm.Insert("users").Values(host.Document{"slug": "ada"}).Execute(ctx)
	require.NoError(t, err)
	userID := users[0][host.FieldID].(host.ID)

	t.Run("valid id reference", func(t *testing.T) {
		_, err := env.orm.Insert("memberships").
			Values(host.Document{"user_id": userID}).
			Execute(ctx)
		require.NoError(t, err)
	})

	t.Run("missing id reference fails", func(t *testing.T) {
		_, err := env.orm.Insert("memberships").
			Values(host.Document{"user_id": host.MakeID("users", "ghost")}).
			Execute(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "foreign")
	})

	t.Run("null reference is allowed", func(t *testing.T) {
		_, err := env.orm.Insert("memberships").
			Values(host.Document{"user_id": nil}).
			Execute(ctx)
		require.NoError(t, err)
	})

	t.Run("non-id reference probes target index", func(t *testing.T) {
		_, err := env.orm.Insert("memberships").
			Values(host.Document{"user_slug": "ada"}).
			Execute(ctx)
		require.NoError(t, err)

		_, err = env.orm.Insert("memberships").
			Values(host.Document{"user_slug": "ghost"}).
			Execute(ctx)
		require.Error(t, err)
		assert.ErrorContains(t, err, "foreign")
	})
}

func TestInsertReturningProjection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultUsersTables(), nil)

	t.Run("column selection", func(t *testing.T) {
		rows, err := env.orm.Insert("default_users").
			Values(host.Document{"name": "Ada"}).
			Returning("name", "role").
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, host.Document{"name": "Ada", "role": "member"}, rows[0])
	})

	t.Run("alias mapping", func(t *testing.T) {
		rows, err := env.orm.Insert("default_users").
			Values(host.Document{"name": "Bob"}).
			ReturningAs(map[string]string{"who": "name"}).
			Execute(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, host.Document{"who": "Bob"}, rows[0])
	})

	t.Run("multi row insert", func(t *testing.T) {
		rows, err := env.orm.Insert("default_users").
			Values(
				host.Document{"name": "C"},
				host.Document{"name": "D"},
			).
			Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}
