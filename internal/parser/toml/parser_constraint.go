package toml

import (
	"errors"
	"fmt"

	"dorm/expr"
	"dorm/schema"
)

// tomlCheck maps [[tables.checks]]. The expression is SQL syntax, lowered
// through expr.ParseSQL.
type tomlCheck struct {
	Name string `toml:"name"`
	Expr string `toml:"expr"`
}

// tomlForeignKey maps [[tables.foreign_keys]].
type tomlForeignKey struct {
	Name              string   `toml:"name"`
	Columns           []string `toml:"columns"`
	ReferencedTable   string   `toml:"referenced_table"`
	ReferencedColumns []string `toml:"referenced_columns"`
	OnDelete          string   `toml:"on_delete"`
	OnUpdate          string   `toml:"on_update"`
}

// tomlRlsPolicy maps [[tables.rls_policies]]. Using and with_check are
// SQL expressions evaluated against the row; context-dependent policies
// need the Go API.
type tomlRlsPolicy struct {
	Name      string `toml:"name"`
	For       string `toml:"for"`
	As        string `toml:"as"`
	To        string `toml:"to"`
	Using     string `toml:"using"`
	WithCheck string `toml:"with_check"`
	Link      string `toml:"link"`
}

func convertCheck(tc *tomlCheck) (*schema.Check, error) {
	if tc.Expr == "" {
		return nil, errors.New("check has no expression")
	}
	e, err := expr.ParseSQL(tc.Expr)
	if err != nil {
		return nil, err
	}
	return &schema.Check{Name: tc.Name, Expr: e}, nil
}

func convertForeignKey(tf *tomlForeignKey) (*schema.ForeignKey, error) {
	if len(tf.Columns) == 0 {
		return nil, errors.New("foreign key has no columns")
	}
	if tf.ReferencedTable == "" {
		return nil, errors.New("foreign key has no referenced_table")
	}
	onDelete, err := convertAction(tf.OnDelete)
	if err != nil {
		return nil, err
	}
	onUpdate, err := convertAction(tf.OnUpdate)
	if err != nil {
		return nil, err
	}
	refCols := tf.ReferencedColumns
	if len(refCols) == 0 {
		refCols = []string{"_id"}
	}
	return &schema.ForeignKey{
		Name:       tf.Name,
		Columns:    tf.Columns,
		RefTable:   tf.ReferencedTable,
		RefColumns: refCols,
		OnDelete:   onDelete,
		OnUpdate:   onUpdate,
	}, nil
}

func convertRlsPolicy(tp *tomlRlsPolicy) (*schema.Policy, error) {
	p := &schema.Policy{
		Name:      tp.Name,
		For:       schema.PolicyCommand(tp.For),
		As:        schema.PolicyMode(tp.As),
		To:        tp.To,
		LinkTable: tp.Link,
	}
	if tp.Using != "" {
		e, err := expr.ParseSQL(tp.Using)
		if err != nil {
			return nil, fmt.Errorf("using: %w", err)
		}
		p.Using = staticFilter(e)
	}
	if tp.WithCheck != "" {
		e, err := expr.ParseSQL(tp.WithCheck)
		if err != nil {
			return nil, fmt.Errorf("with_check: %w", err)
		}
		p.WithCheck = staticFilter(e)
	}
	return p, nil
}

func staticFilter(e expr.Expr) schema.PolicyFilter {
	return func(schema.RlsContext, *schema.Table) expr.Expr { return e }
}
