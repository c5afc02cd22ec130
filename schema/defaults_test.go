package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dorm/host"
)

func defaultsTable(t *testing.T) *Table {
	t.Helper()
	calls := 0
	tbl := &Table{
		Columns: []*Column{
			{Name: "name", Kind: KindText, NotNull: true},
			{Name: "role", Kind: KindText, HasDefault: true, Default: "member"},
			{Name: "nickname", Kind: KindText, HasDefault: true, Default: "anon"},
			{Name: "counter", Kind: KindInteger, DefaultFn: func() any { calls++; return int64(calls) }},
			{Name: "touched", Kind: KindText, OnUpdateFn: func() any { return "touched" }},
		},
	}
	_, err := DefineSchema(map[string]*Table{"default_users": tbl}, DefaultOptions())
	require.NoError(t, err)
	return tbl
}

func TestApplyInsertDefaults(t *testing.T) {
	tbl := defaultsTable(t)

	t.Run("missing columns get defaults", func(t *testing.T) {
		row, err := tbl.ApplyInsertDefaults(host.Document{"name": "Ada"})
		require.NoError(t, err)
		assert.Equal(t, "member", row["role"])
		assert.Equal(t, "anon", row["nickname"])
		assert.Equal(t, int64(1), row["counter"], "defaultFn called once")
		assert.Equal(t, "touched", row["touched"], "onUpdateFn is the insert fallback")
	})

	t.Run("explicit null is preserved", func(t *testing.T) {
		row, err := tbl.ApplyInsertDefaults(host.Document{"name": "Ada", "nickname": nil})
		require.NoError(t, err)
		assert.Nil(t, row["nickname"])
	})

	t.Run("explicit value wins over default", func(t *testing.T) {
		row, err := tbl.ApplyInsertDefaults(host.Document{"name": "Ada", "role": "admin"})
		require.NoError(t, err)
		assert.Equal(t, "admin", row["role"])
	})

	t.Run("defaultFn called once per row", func(t *testing.T) {
		first, err := tbl.ApplyInsertDefaults(host.Document{"name": "A"})
		require.NoError(t, err)
		second, err := tbl.ApplyInsertDefaults(host.Document{"name": "B"})
		require.NoError(t, err)
		assert.NotEqual(t, first["counter"], second["counter"])
	})

	t.Run("not null violation", func(t *testing.T) {
		_, err := tbl.ApplyInsertDefaults(host.Document{})
		require.Error(t, err)
		assert.ErrorContains(t, err, "not null")

		_, err = tbl.ApplyInsertDefaults(host.Document{"name": nil})
		require.Error(t, err)
		assert.ErrorContains(t, err, "not null")
	})

	t.Run("unknown column rejected", func(t *testing.T) {
		_, err := tbl.ApplyInsertDefaults(host.Document{"name": "Ada", "ghost": 1})
		require.Error(t, err)
		assert.ErrorContains(t, err, "unknown column")
	})

	t.Run("host managed columns not writable", func(t *testing.T) {
		_, err := tbl.ApplyInsertDefaults(host.Document{"name": "Ada", host.FieldID: "x"})
		require.Error(t, err)
		assert.ErrorContains(t, err, "not writable")
	})
}

func TestNormalizeUpdatePatch(t *testing.T) {
	tbl := defaultsTable(t)

	t.Run("undefined values are dropped", func(t *testing.T) {
		patch, err := tbl.NormalizeUpdatePatch(host.Document{"role": host.Undefined})
		require.NoError(t, err)
		assert.Empty(t, patch, "empty patch is a no-op")
	})

	t.Run("unset token passes for nullable column", func(t *testing.T) {
		patch, err := tbl.NormalizeUpdatePatch(host.Document{"nickname": host.Unset})
		require.NoError(t, err)
		assert.True(t, host.IsUnset(patch["nickname"]))
	})

	t.Run("unset token rejected on not null column", func(t *testing.T) {
		_, err := tbl.NormalizeUpdatePatch(host.Document{"name": host.Unset})
		require.Error(t, err)
		assert.ErrorContains(t, err, "not null")
	})

	t.Run("null rejected on not null column", func(t *testing.T) {
		_, err := tbl.NormalizeUpdatePatch(host.Document{"name": nil})
		require.Error(t, err)
		assert.ErrorContains(t, err, "not null")
	})
}

func TestOnUpdateValues(t *testing.T) {
	tbl := defaultsTable(t)

	t.Run("fires for columns not in the patch", func(t *testing.T) {
		hooks := tbl.OnUpdateValues(host.Document{"role": "admin"})
		assert.Equal(t, host.Document{"touched": "touched"}, hooks)
	})

	t.Run("does not fire for columns the caller set", func(t *testing.T) {
		hooks := tbl.OnUpdateValues(host.Document{"touched": "manual"})
		assert.Nil(t, hooks)
	})
}
