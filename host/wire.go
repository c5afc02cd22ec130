package host

import (
	"fmt"
)

// UndefinedSentinelKey marks an undefined value crossing the scheduler
// transport, which strips undefined values out of plain JSON. The sentinel
// object {"__betterConvexUndefined": true} stands in at the exact position
// of the undefined value and is applied recursively through arrays and
// objects.
const UndefinedSentinelKey = "__betterConvexUndefined"

// EncodeValue rewrites v for the scheduler transport: every Undefined marker
// becomes the sentinel object, recursively. All other values pass through.
func EncodeValue(v any) any {
	switch t := v.(type) {
	case undefinedType:
		return map[string]any{UndefinedSentinelKey: true}
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = EncodeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = EncodeValue(e)
		}
		return out
	default:
		return v
	}
}

// DecodeValue reverses EncodeValue, turning sentinel objects back into the
// Undefined marker.
func DecodeValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DecodeValue(e)
		}
		return out
	case map[string]any:
		if b, ok := t[UndefinedSentinelKey].(bool); ok && b && len(t) == 1 {
			return Undefined
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = DecodeValue(e)
		}
		return out
	default:
		return v
	}
}

// EncodeValues encodes a slice of values for the transport.
func EncodeValues(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = EncodeValue(v)
	}
	return out
}

// DecodeValues decodes a slice of transported values.
func DecodeValues(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = DecodeValue(v)
	}
	return out
}

// WorkType discriminates cascade continuation batches.
type WorkType string

const (
	WorkCascadeDelete WorkType = "cascade-delete"
	WorkCascadeUpdate WorkType = "cascade-update"
)

// MutationBatchArgs is the wire payload of one scheduled cascade
// continuation.
type MutationBatchArgs struct {
	WorkType             WorkType
	Operation            string // "delete" | "update"
	Table                string
	ForeignIndexName     string
	ForeignSourceColumns []string
	TargetValues         []any
	NewValues            []any
	ForeignAction        string
	DeleteMode           string // "hard" | "soft" | "scheduled"
	CascadeMode          string // "hard" | "soft"
	Cursor               *string
	BatchSize            int
	MaxBytesPerBatch     int
	DelayMs              int64
}

// ToWire flattens the args into the transport map, sentinel-encoding every
// embedded value.
func (a *MutationBatchArgs) ToWire() map[string]any {
	m := map[string]any{
		"workType":             string(a.WorkType),
		"mode":                 "async",
		"operation":            a.Operation,
		"table":                a.Table,
		"foreignIndexName":     a.ForeignIndexName,
		"foreignSourceColumns": toAnySlice(a.ForeignSourceColumns),
		"targetValues":         EncodeValues(a.TargetValues),
		"foreignAction":        a.ForeignAction,
		"batchSize":            int64(a.BatchSize),
		"maxBytesPerBatch":     int64(a.MaxBytesPerBatch),
		"delayMs":              a.DelayMs,
	}
	if a.NewValues != nil {
		m["newValues"] = EncodeValues(a.NewValues)
	}
	if a.DeleteMode != "" {
		m["deleteMode"] = a.DeleteMode
	}
	if a.CascadeMode != "" {
		m["cascadeMode"] = a.CascadeMode
	}
	if a.Cursor != nil {
		m["cursor"] = *a.Cursor
	} else {
		m["cursor"] = nil
	}
	return m
}

// MutationBatchArgsFromWire parses and sentinel-decodes a transport map.
func MutationBatchArgsFromWire(m map[string]any) (*MutationBatchArgs, error) {
	a := &MutationBatchArgs{}
	wt, _ := m["workType"].(string)
	a.WorkType = WorkType(wt)
	if a.WorkType != WorkCascadeDelete && a.WorkType != WorkCascadeUpdate {
		return nil, fmt.Errorf("host: unknown workType %q", wt)
	}
	a.Operation, _ = m["operation"].(string)
	a.Table, _ = m["table"].(string)
	a.ForeignIndexName, _ = m["foreignIndexName"].(string)
	a.ForeignSourceColumns = toStringSlice(m["foreignSourceColumns"])
	if vs, ok := m["targetValues"].([]any); ok {
		a.TargetValues = DecodeValues(vs)
	}
	if vs, ok := m["newValues"].([]any); ok {
		a.NewValues = DecodeValues(vs)
	}
	a.ForeignAction, _ = m["foreignAction"].(string)
	a.DeleteMode, _ = m["deleteMode"].(string)
	a.CascadeMode, _ = m["cascadeMode"].(string)
	if c, ok := m["cursor"].(string); ok {
		a.Cursor = &c
	}
	a.BatchSize = int(toInt64(m["batchSize"]))
	a.MaxBytesPerBatch = int(toInt64(m["maxBytesPerBatch"]))
	a.DelayMs = toInt64(m["delayMs"])
	if a.Table == "" {
		return nil, fmt.Errorf("host: mutation batch args missing table")
	}
	return a, nil
}

// ScheduledDeleteArgs is the wire payload of one deferred root delete.
type ScheduledDeleteArgs struct {
	Table        string
	ID           ID
	CascadeMode  string
	DeletionTime float64
}

// ToWire flattens the args into the transport map.
func (a *ScheduledDeleteArgs) ToWire() map[string]any {
	return map[string]any{
		"table":        a.Table,
		"id":           string(a.ID),
		"cascadeMode":  a.CascadeMode,
		"deletionTime": a.DeletionTime,
	}
}

// ScheduledDeleteArgsFromWire parses a transport map.
func ScheduledDeleteArgsFromWire(m map[string]any) (*ScheduledDeleteArgs, error) {
	a := &ScheduledDeleteArgs{}
	a.Table, _ = m["table"].(string)
	if s, ok := m["id"].(string); ok {
		a.ID = ID(s)
	}
	a.CascadeMode, _ = m["cascadeMode"].(string)
	switch t := m["deletionTime"].(type) {
	case float64:
		a.DeletionTime = t
	case int64:
		a.DeletionTime = float64(t)
	case int:
		a.DeletionTime = float64(t)
	}
	if a.Table == "" || a.ID == "" {
		return nil, fmt.Errorf("host: scheduled delete args missing table or id")
	}
	return a, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}
