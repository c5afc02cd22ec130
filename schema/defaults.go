package schema

import (
	"fmt"

	"dorm/host"
)

// ApplyInsertDefaults returns the insert candidate for values: unknown
// columns are rejected, missing columns are substituted in order
// defaultFn -> default -> onUpdateFn, and nullability is enforced.
// Explicit nil values are preserved, never overridden by a default.
func (t *Table) ApplyInsertDefaults(values host.Document) (host.Document, error) {
	for key := range values {
		if key == host.FieldID || key == host.FieldCreationTime {
			return nil, fmt.Errorf("schema: column %q is host-managed and not writable", key)
		}
		if t.FindColumn(key) == nil {
			return nil, fmt.Errorf("schema: insert into %q: unknown column %q", t.Name, key)
		}
	}

	candidate := make(host.Document, len(t.Columns))
	for k, v := range values {
		if host.IsUndefined(v) || host.IsUnset(v) {
			continue
		}
		candidate[k] = v
	}

	for _, c := range t.Columns {
		if _, present := candidate[c.Name]; present {
			continue
		}
		switch {
		case c.DefaultFn != nil:
			candidate[c.Name] = c.DefaultFn()
		case c.HasDefault:
			candidate[c.Name] = c.Default
		case c.OnUpdateFn != nil:
			candidate[c.Name] = c.OnUpdateFn()
		}
	}

	for _, c := range t.Columns {
		v, present := candidate[c.Name]
		if c.NotNull && (!present || v == nil) {
			return nil, fmt.Errorf("schema: column %q of %q is not null", c.Name, t.Name)
		}
	}
	return candidate, nil
}

// NormalizeUpdatePatch validates and normalizes an update patch: unknown
// columns are rejected, undefined values are dropped, and the unset token
// is kept (the host removes the field) unless the column is not null.
// An empty result means the update is a no-op.
func (t *Table) NormalizeUpdatePatch(patch host.Document) (host.Document, error) {
	out := make(host.Document, len(patch))
	for key, v := range patch {
		if key == host.FieldID || key == host.FieldCreationTime {
			return nil, fmt.Errorf("schema: column %q is host-managed and not writable", key)
		}
		c := t.FindColumn(key)
		if c == nil {
			return nil, fmt.Errorf("schema: update of %q: unknown column %q", t.Name, key)
		}
		if host.IsUndefined(v) {
			continue
		}
		if host.IsUnset(v) {
			if c.NotNull {
				return nil, fmt.Errorf("schema: cannot unset not null column %q of %q", key, t.Name)
			}
			out[key] = host.Unset
			continue
		}
		if v == nil && c.NotNull {
			return nil, fmt.Errorf("schema: column %q of %q is not null", key, t.Name)
		}
		out[key] = v
	}
	return out, nil
}

// OnUpdateValues computes the onUpdate hook value for every column that
// has one and is not set by the normalized patch.
func (t *Table) OnUpdateValues(patch host.Document) host.Document {
	var out host.Document
	for _, c := range t.Columns {
		if c.OnUpdateFn == nil {
			continue
		}
		if _, present := patch[c.Name]; present {
			continue
		}
		if out == nil {
			out = make(host.Document)
		}
		out[c.Name] = c.OnUpdateFn()
	}
	return out
}

// DefaultFor returns the declared default value for a column, reporting
// whether one exists. DefaultFn takes precedence over the literal.
func (c *Column) DefaultFor() (any, bool) {
	if c.DefaultFn != nil {
		return c.DefaultFn(), true
	}
	if c.HasDefault {
		return c.Default, true
	}
	return nil, false
}
