package toml

import (
	"errors"
	"fmt"
	"strings"

	"dorm/schema"
)

// tomlColumn maps [[tables.columns]].
type tomlColumn struct {
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	NotNull bool   `toml:"not_null"`

	// Default accepts string, bool, integer, or float from TOML. An
	// absent key means no default; an explicit value becomes the literal
	// default.
	Default any `toml:"default"`

	Unique           bool `toml:"unique"`
	NullsNotDistinct bool `toml:"nulls_not_distinct"`

	// References is the inline foreign-key shorthand in "table.column"
	// format; "table._id" targets the host primary key.
	References string `toml:"references"`
	OnDelete   string `toml:"on_delete"`
	OnUpdate   string `toml:"on_update"`

	// RefTable names the referenced table for id-kind columns without an
	// inline foreign key.
	RefTable string `toml:"ref_table"`
}

func convertColumn(tc *tomlColumn) (*schema.Column, error) {
	if tc.Name == "" {
		return nil, errors.New("column has no name")
	}
	kind, err := convertKind(tc.Type)
	if err != nil {
		return nil, err
	}
	col := &schema.Column{
		Name:             tc.Name,
		Kind:             kind,
		NotNull:          tc.NotNull,
		Unique:           tc.Unique,
		NullsNotDistinct: tc.NullsNotDistinct,
		RefTable:         tc.RefTable,
	}
	if tc.Default != nil {
		col.HasDefault = true
		col.Default = normalizeDefault(tc.Default)
	}
	if tc.References != "" {
		refTable, refColumn, ok := splitReference(tc.References)
		if !ok {
			return nil, fmt.Errorf("references %q is not in \"table.column\" format", tc.References)
		}
		onDelete, err := convertAction(tc.OnDelete)
		if err != nil {
			return nil, err
		}
		onUpdate, err := convertAction(tc.OnUpdate)
		if err != nil {
			return nil, err
		}
		col.References = &schema.Reference{
			Table:    refTable,
			Column:   refColumn,
			OnDelete: onDelete,
			OnUpdate: onUpdate,
		}
		if kind == schema.KindID && col.RefTable == "" {
			col.RefTable = refTable
		}
	}
	if kind == schema.KindID && col.RefTable == "" {
		return nil, errors.New("id column requires ref_table or references")
	}
	return col, nil
}

func convertKind(raw string) (schema.DataKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text", "string":
		return schema.KindText, nil
	case "integer", "int":
		return schema.KindInteger, nil
	case "number", "float", "double":
		return schema.KindNumber, nil
	case "boolean", "bool":
		return schema.KindBoolean, nil
	case "id":
		return schema.KindID, nil
	case "json":
		return schema.KindJSON, nil
	case "", "unknown":
		return schema.KindUnknown, nil
	default:
		return "", fmt.Errorf("unknown column type %q", raw)
	}
}

func convertAction(raw string) (schema.Action, error) {
	if raw == "" {
		return schema.ActionNone, nil
	}
	if !schema.ValidAction(raw) {
		return "", fmt.Errorf("unknown referential action %q", raw)
	}
	return schema.Action(strings.ToLower(raw)), nil
}

// normalizeDefault maps TOML number types onto the runtime value model.
func normalizeDefault(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}

// splitReference splits a "table.column" reference string into its two
// parts.
func splitReference(ref string) (table, column string, ok bool) {
	ref = strings.TrimSpace(ref)
	dot := strings.LastIndex(ref, ".")
	if dot <= 0 || dot >= len(ref)-1 {
		return "", "", false
	}
	return ref[:dot], ref[dot+1:], true
}
