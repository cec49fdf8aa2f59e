package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Op enumerates the comparison operators supported by FetchRequest predicates.
type Op string

// Predicate operators. Ordering operators apply to numbers and strings;
// OpContains applies to strings (substring) and []any (membership).
const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpContains Op = "contains"
)

// Where is a single predicate clause. The special field "id" addresses the
// entity identifier; every other field addresses an attribute.
type Where struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// FetchRequest describes a query against the storage engine. Clauses are
// conjunctive. Results are ordered by SortBy (falling back to ID so that
// ordering is deterministic), then windowed by Offset/Limit.
type FetchRequest struct {
	Kind       string  `json:"kind"`
	Clauses    []Where `json:"clauses,omitempty"`
	SortBy     string  `json:"sort_by,omitempty"`
	Descending bool    `json:"descending,omitempty"`
	Offset     int     `json:"offset,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// Matches reports whether the entity satisfies every clause of the request.
func (r FetchRequest) Matches(e Entity) (bool, error) {
	if r.Kind != "" && e.Kind != r.Kind {
		return false, nil
	}
	for _, w := range r.Clauses {
		ok, err := w.matches(e)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func fieldValue(e Entity, field string) any {
	if field == "id" {
		return string(e.ID)
	}
	if e.Attributes == nil {
		return nil
	}
	return e.Attributes[field]
}

func (w Where) matches(e Entity) (bool, error) {
	val := fieldValue(e, w.Field)
	switch w.Op {
	case OpEq:
		return equalValues(val, w.Value), nil
	case OpNe:
		return !equalValues(val, w.Value), nil
	case OpLt, OpLe, OpGt, OpGe:
		cmp, ok := compareValues(val, w.Value)
		if !ok {
			return false, nil
		}
		switch w.Op {
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case OpContains:
		switch container := val.(type) {
		case string:
			needle, ok := w.Value.(string)
			return ok && strings.Contains(container, needle), nil
		case []any:
			for _, item := range container {
				if equalValues(item, w.Value) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, nil
		}
	default:
		return false, fmt.Errorf("unknown predicate operator %q", w.Op)
	}
}

func equalValues(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return a == b
}

// compareValues orders numbers numerically and strings lexicographically.
// Mixed or non-orderable types report ok=false.
func compareValues(a, b any) (int, bool) {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SortEntities orders entities in place per the request's sort descriptor,
// breaking ties (and missing descriptors) by ID.
func SortEntities(entities []Entity, r FetchRequest) {
	sort.SliceStable(entities, func(i, j int) bool {
		less := lessEntities(entities[i], entities[j], r.SortBy)
		if r.Descending {
			return !less && !sameSortKey(entities[i], entities[j], r.SortBy)
		}
		return less
	})
}

func lessEntities(a, b Entity, field string) bool {
	if field != "" {
		if cmp, ok := compareValues(fieldValue(a, field), fieldValue(b, field)); ok && cmp != 0 {
			return cmp < 0
		}
	}
	return a.ID < b.ID
}

func sameSortKey(a, b Entity, field string) bool {
	if field == "" {
		return a.ID == b.ID
	}
	cmp, ok := compareValues(fieldValue(a, field), fieldValue(b, field))
	if !ok {
		return a.ID == b.ID
	}
	return cmp == 0
}

// Window applies the request's offset and limit to an already-sorted slice.
func Window[T any](items []T, r FetchRequest) []T {
	start := r.Offset
	if start < 0 {
		start = 0
	}
	if start > len(items) {
		start = len(items)
	}
	end := len(items)
	if r.Limit > 0 && start+r.Limit < end {
		end = start + r.Limit
	}
	return items[start:end]
}
