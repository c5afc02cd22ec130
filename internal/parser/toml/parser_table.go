package toml

import (
	"fmt"

	"dorm/schema"
)

// tomlTable maps [[tables]].
type tomlTable struct {
	Name          string            `toml:"name"`
	WithRLS       bool              `toml:"with_rls"`
	Columns       []tomlColumn      `toml:"columns"`
	Indexes       []tomlIndex       `toml:"indexes"`
	UniqueIndexes []tomlUniqueIndex `toml:"unique_indexes"`
	Checks        []tomlCheck       `toml:"checks"`
	ForeignKeys   []tomlForeignKey  `toml:"foreign_keys"`
	SearchIndexes []tomlSearchIndex `toml:"search_indexes"`
	RlsPolicies   []tomlRlsPolicy   `toml:"rls_policies"`
}

func convertTable(tt *tomlTable) (*schema.Table, error) {
	t := &schema.Table{
		Name: tt.Name,
		RLS:  tt.WithRLS,
	}
	for i := range tt.Columns {
		col, err := convertColumn(&tt.Columns[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", tt.Columns[i].Name, err)
		}
		t.Columns = append(t.Columns, col)
	}
	for i := range tt.Indexes {
		t.Indexes = append(t.Indexes, convertIndex(&tt.Indexes[i]))
	}
	for i := range tt.UniqueIndexes {
		t.UniqueIndexes = append(t.UniqueIndexes, convertUniqueIndex(&tt.UniqueIndexes[i]))
	}
	for i := range tt.Checks {
		ch, err := convertCheck(&tt.Checks[i])
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", tt.Checks[i].Name, err)
		}
		t.Checks = append(t.Checks, ch)
	}
	for i := range tt.ForeignKeys {
		fk, err := convertForeignKey(&tt.ForeignKeys[i])
		if err != nil {
			return nil, fmt.Errorf("foreign key %q: %w", tt.ForeignKeys[i].Name, err)
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	for i := range tt.SearchIndexes {
		t.SearchIndexes = append(t.SearchIndexes, convertSearchIndex(&tt.SearchIndexes[i]))
	}
	for i := range tt.RlsPolicies {
		p, err := convertRlsPolicy(&tt.RlsPolicies[i])
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", tt.RlsPolicies[i].Name, err)
		}
		t.Policies = append(t.Policies, p)
	}
	return t, nil
}
