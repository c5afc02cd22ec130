// Package toml provides a parser for the dorm TOML schema format.
// It reads a declarative schema definition from a .toml file and converts
// it into the table mapping and runtime options that schema.DefineSchema
// consumes. Function-valued column config (defaultFn, onUpdateFn) and
// context-dependent RLS filters are declarable only in Go.
package toml

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"dorm/schema"
)

// schemaFile is the top-level TOML document: [orm] plus [[tables]].
type schemaFile struct {
	Orm    tomlOrm     `toml:"orm"`
	Tables []tomlTable `toml:"tables"`
}

// tomlOrm maps [orm].
type tomlOrm struct {
	Strict   *bool        `toml:"strict"`
	Defaults tomlDefaults `toml:"defaults"`
}

// tomlDefaults maps [orm.defaults].
type tomlDefaults struct {
	DefaultLimit             int    `toml:"default_limit"`
	MutationBatchSize        int    `toml:"mutation_batch_size"`
	MutationLeafBatchSize    int    `toml:"mutation_leaf_batch_size"`
	MutationMaxRows          int    `toml:"mutation_max_rows"`
	MutationMaxBytesPerBatch int    `toml:"mutation_max_bytes_per_batch"`
	MutationScheduleCallCap  int    `toml:"mutation_schedule_call_cap"`
	MutationExecutionMode    string `toml:"mutation_execution_mode"`
	MutationAsyncDelayMs     int64  `toml:"mutation_async_delay_ms"`
}

// Parser reads dorm TOML schema files.
type Parser struct{}

// NewParser creates a new TOML schema parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile opens the file at the given path and parses it as a TOML
// schema.
func (p *Parser) ParseFile(path string) (map[string]*schema.Table, schema.Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, schema.Options{}, fmt.Errorf("toml: open file %q: %w", path, err)
	}
	defer f.Close()

	return p.Parse(f)
}

// Parse reads TOML content from reader and returns the table mapping plus
// the runtime options, ready for schema.DefineSchema.
func (p *Parser) Parse(r io.Reader) (map[string]*schema.Table, schema.Options, error) {
	var sf schemaFile
	if _, err := toml.NewDecoder(r).Decode(&sf); err != nil {
		return nil, schema.Options{}, fmt.Errorf("toml: decode error: %w", err)
	}

	opts := convertOptions(&sf.Orm)

	tables := make(map[string]*schema.Table, len(sf.Tables))
	for i := range sf.Tables {
		tt := &sf.Tables[i]
		if tt.Name == "" {
			return nil, schema.Options{}, fmt.Errorf("toml: table %d has no name", i)
		}
		if _, dup := tables[tt.Name]; dup {
			return nil, schema.Options{}, fmt.Errorf("toml: duplicate table %q", tt.Name)
		}
		t, err := convertTable(tt)
		if err != nil {
			return nil, schema.Options{}, fmt.Errorf("toml: table %q: %w", tt.Name, err)
		}
		tables[tt.Name] = t
	}
	return tables, opts, nil
}

func convertOptions(o *tomlOrm) schema.Options {
	opts := schema.DefaultOptions()
	if o.Strict != nil {
		opts.Strict = *o.Strict
	}
	d := o.Defaults
	if d.DefaultLimit > 0 {
		opts.Defaults.DefaultLimit = d.DefaultLimit
	}
	if d.MutationBatchSize > 0 {
		opts.Defaults.MutationBatchSize = d.MutationBatchSize
	}
	if d.MutationLeafBatchSize > 0 {
		opts.Defaults.MutationLeafBatchSize = d.MutationLeafBatchSize
	}
	if d.MutationMaxRows > 0 {
		opts.Defaults.MutationMaxRows = d.MutationMaxRows
	}
	if d.MutationMaxBytesPerBatch > 0 {
		opts.Defaults.MutationMaxBytesPerBatch = d.MutationMaxBytesPerBatch
	}
	if d.MutationScheduleCallCap > 0 {
		opts.Defaults.MutationScheduleCallCap = d.MutationScheduleCallCap
	}
	if d.MutationExecutionMode != "" {
		opts.Defaults.MutationExecutionMode = schema.ExecutionMode(d.MutationExecutionMode)
	}
	if d.MutationAsyncDelayMs > 0 {
		opts.Defaults.MutationAsyncDelayMs = d.MutationAsyncDelayMs
	}
	return opts
}
