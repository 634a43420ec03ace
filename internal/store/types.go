package store

import (
	"encoding/json"
	"reflect"
	"time"
)

// Record is one identified data item in a collection. Fields holds the
// collection-specific payload as JSON-typed values. FieldTimes optionally
// tracks per-field modification times; fields without an entry inherit
// UpdatedAt.
type Record struct {
	ID         string               `json:"id"`
	Synced     bool                 `json:"synced"`
	Owner      string               `json:"ownerId,omitempty"`
	UpdatedAt  time.Time            `json:"updatedAt"`
	Fields     map[string]any       `json:"fields"`
	FieldTimes map[string]time.Time `json:"fieldTimes,omitempty"`
}

// FieldTime returns the modification time of a single field, falling back to
// the record-level UpdatedAt.
func (r *Record) FieldTime(name string) time.Time {
	if t, ok := r.FieldTimes[name]; ok {
		return t
	}
	return r.UpdatedAt
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := &Record{
		ID:        r.ID,
		Synced:    r.Synced,
		Owner:     r.Owner,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Fields != nil {
		clone.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			clone.Fields[k] = NormalizeValue(v)
		}
	}
	if r.FieldTimes != nil {
		clone.FieldTimes = make(map[string]time.Time, len(r.FieldTimes))
		for k, v := range r.FieldTimes {
			clone.FieldTimes[k] = v
		}
	}
	return clone
}

// Schema describes one collection. The engine is collection-agnostic; a schema
// names the partition and declares any payload fields the conflict resolver
// must ignore beyond the built-in set.
type Schema struct {
	Name         string
	IgnoreFields []string
	// Priority assigned to retry operations queued for this collection.
	Priority int
	// Incremental enables the updated-since pull cursor for this collection.
	Incremental bool
}

// Identity and bookkeeping fields never count as conflicts even when payloads
// carry them redundantly.
var baseIgnoreFields = map[string]struct{}{
	"id":        {},
	"synced":    {},
	"ownerId":   {},
	"userId":    {},
	"childId":   {},
	"updatedAt": {},
}

// Ignored reports whether a payload field is excluded from conflict detection.
func (s *Schema) Ignored(field string) bool {
	if _, ok := baseIgnoreFields[field]; ok {
		return true
	}
	for _, f := range s.IgnoreFields {
		if f == field {
			return true
		}
	}
	return false
}

// NormalizeValue round-trips a value through JSON so that records built in
// code compare equal to records loaded from storage or the wire (ints become
// float64, structs become maps, and so on).
func NormalizeValue(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// FieldsEqual deep-compares two payload values after JSON normalization.
func FieldsEqual(a, b any) bool {
	return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
}

// Equal reports whether two records hold deep-equal payloads. Bookkeeping
// (synced flag, timestamps, owner) is not part of the comparison.
func Equal(a, b *Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, av := range a.Fields {
		bv, ok := b.Fields[k]
		if !ok || !FieldsEqual(av, bv) {
			return false
		}
	}
	return true
}
