// Package orm is the runtime core: it plans index-backed queries with
// cursor pagination, enforces defaults, unique, check, and foreign-key
// constraints on writes, gates reads and writes with row-level security,
// and walks the foreign-key graph applying referential actions within
// row, byte, and schedule budgets.
package orm

import (
	"fmt"
	"io"
	"sort"

	"dorm/host"
	"dorm/relations"
	"dorm/schema"
)

// RoleResolver maps the caller's security context to its role set, for
// role-gated RLS policies.
type RoleResolver func(ctx schema.RlsContext) []string

// Config binds an ORM instance to its collaborators.
type Config struct {
	// Store is the document store all reads and writes go through.
	Store host.Store
	// Scheduler enqueues cascade continuations and deferred deletes.
	// Required only when async mode or scheduled deletes are used.
	Scheduler host.Scheduler
	// Functions names the scheduled functions the engine enqueues.
	Functions host.ScheduledFunctions
	// Relations is the resolved edge list, used by relation-aware
	// sub-queries. Optional.
	Relations []*relations.Edge
	// RlsContext is threaded into policy filters.
	RlsContext schema.RlsContext
	// RoleResolver resolves roles for policies declared with To.
	RoleResolver RoleResolver
	// Warnings receives relaxed-mode planner warnings. Defaults to
	// io.Discard.
	Warnings io.Writer
}

// incomingFK is one edge of the incoming foreign-key graph: a foreign key
// declared on Source that targets the table the edge is registered under.
type incomingFK struct {
	Source string
	FK     *schema.ForeignKey
}

// ORM is one runtime instance bound to a schema and a store. Instances
// are safe for concurrent use; per-mutation state lives in per-call
// contexts.
type ORM struct {
	schema    *schema.Schema
	store     host.Store
	scheduler host.Scheduler
	fns       host.ScheduledFunctions
	edges     []*relations.Edge
	rlsCtx    schema.RlsContext
	roles     RoleResolver
	warnings  io.Writer
	// incoming maps each table to the foreign keys that reference it,
	// computed once per schema.
	incoming map[string][]incomingFK
	// skipRules bypasses RLS for trusted internal work.
	skipRules bool
}

// New builds an ORM instance over the given schema and collaborators.
func New(s *schema.Schema, cfg Config) (*ORM, error) {
	if s == nil {
		return nil, fmt.Errorf("orm: schema is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("orm: store is required")
	}
	w := cfg.Warnings
	if w == nil {
		w = io.Discard
	}
	o := &ORM{
		schema:    s,
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		fns:       cfg.Functions,
		edges:     cfg.Relations,
		rlsCtx:    cfg.RlsContext,
		roles:     cfg.RoleResolver,
		warnings:  w,
	}
	o.incoming = buildIncoming(s)
	return o, nil
}

// buildIncoming inverts the declared foreign keys into the incoming-edge
// map the cascade executor walks.
func buildIncoming(s *schema.Schema) map[string][]incomingFK {
	incoming := make(map[string][]incomingFK)
	for _, name := range s.Tables() {
		for _, fk := range s.GetForeignKeys(name) {
			incoming[fk.RefTable] = append(incoming[fk.RefTable], incomingFK{Source: name, FK: fk})
		}
	}
	for _, edges := range incoming {
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].Source != edges[j].Source {
				return edges[i].Source < edges[j].Source
			}
			return edges[i].FK.Name < edges[j].FK.Name
		})
	}
	return incoming
}

// Schema returns the schema this instance was built with.
func (o *ORM) Schema() *schema.Schema { return o.schema }

// Relations returns the resolved relation edges.
func (o *ORM) Relations() []*relations.Edge { return o.edges }

// SkipRules returns a view of the ORM that bypasses every RLS policy.
// Intended for trusted internal work only.
func (o *ORM) SkipRules() *ORM {
	c := *o
	c.skipRules = true
	return &c
}

// table resolves a table or fails with a schema diagnostic.
func (o *ORM) table(name string) (*schema.Table, error) {
	t := o.schema.Table(name)
	if t == nil {
		return nil, fmt.Errorf("orm: unknown table %q", name)
	}
	return t, nil
}

func (o *ORM) warnf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.warnings, format+"\n", args...)
}

func (o *ORM) defaults() schema.Defaults { return o.schema.Options.Defaults }

func (o *ORM) strict() bool { return o.schema.Options.Strict }

// Selection is a returning-clause projection: nil yields full rows;
// Columns yields those fields; Aliases maps output names to fields.
type Selection struct {
	Columns []string
	Aliases map[string]string
}

func (sel *Selection) project(rows []host.Document) []host.Document {
	if sel == nil || (len(sel.Columns) == 0 && len(sel.Aliases) == 0) {
		return rows
	}
	out := make([]host.Document, len(rows))
	for i, row := range rows {
		p := make(host.Document)
		for _, col := range sel.Columns {
			if v, ok := row[col]; ok {
				p[col] = v
			}
		}
		for alias, field := range sel.Aliases {
			if v, ok := row[field]; ok {
				p[alias] = v
			}
		}
		out[i] = p
	}
	return out
}
