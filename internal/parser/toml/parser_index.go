package toml

import (
	"dorm/schema"
)

// tomlIndex maps [[tables.indexes]].
type tomlIndex struct {
	Name    string   `toml:"name"`
	Columns []string `toml:"columns"`
}

// tomlUniqueIndex maps [[tables.unique_indexes]].
type tomlUniqueIndex struct {
	Name             string   `toml:"name"`
	Columns          []string `toml:"columns"`
	NullsNotDistinct bool     `toml:"nulls_not_distinct"`
}

// tomlSearchIndex maps [[tables.search_indexes]].
type tomlSearchIndex struct {
	Name          string   `toml:"name"`
	SearchColumn  string   `toml:"search_column"`
	FilterColumns []string `toml:"filter_columns"`
}

func convertIndex(ti *tomlIndex) *schema.Index {
	return &schema.Index{Name: ti.Name, Columns: ti.Columns}
}

func convertUniqueIndex(tu *tomlUniqueIndex) *schema.UniqueIndex {
	return &schema.UniqueIndex{
		Name:             tu.Name,
		Columns:          tu.Columns,
		NullsNotDistinct: tu.NullsNotDistinct,
	}
}

func convertSearchIndex(ts *tomlSearchIndex) *schema.SearchIndex {
	return &schema.SearchIndex{
		Name:          ts.Name,
		SearchColumn:  ts.SearchColumn,
		FilterColumns: ts.FilterColumns,
	}
}
