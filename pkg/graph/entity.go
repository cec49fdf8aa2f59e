// Package graph defines the entity model, query types, and storage-engine
// contract shared by the orchestration engine and its storage backends.
package graph

import (
	"strings"

	"github.com/google/uuid"
)

// ID identifies an entity. A freshly inserted entity carries a temporary ID
// valid only inside its context tree; the storage engine assigns a durable ID
// at or before the moment a save reaches the root context. Durable IDs never
// change once assigned.
type ID string

const temporaryPrefix = "tmp:"

// NewTemporaryID returns a fresh temporary identifier.
func NewTemporaryID() ID {
	return ID(temporaryPrefix + uuid.NewString())
}

// NewDurableID returns a fresh durable identifier. Intended for storage
// engines; callers should never mint durable IDs themselves.
func NewDurableID() ID {
	return ID(uuid.NewString())
}

// Temporary reports whether the identifier has not yet been promoted.
func (id ID) Temporary() bool {
	return strings.HasPrefix(string(id), temporaryPrefix)
}

// Entity is a materialized attribute snapshot of one record in the graph.
// A materialized entity belongs to exactly one context; only its ID is safe
// to pass between contexts. Attribute values are restricted to JSON-compatible
// types (bool, string, numbers, []any, map[string]any).
type Entity struct {
	ID         ID             `json:"id"`
	Kind       string         `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the entity. Receiving contexts must clone
// before registering state that crossed a queue boundary.
func (e Entity) Clone() Entity {
	out := e
	out.Attributes = cloneAttributes(e.Attributes)
	return out
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAttributes(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
