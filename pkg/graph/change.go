package graph

// Action indicates the type of modification captured by a Change.
type Action string

// Change actions enumerate the mutations a context can stage.
const (
	// ActionInsert indicates an entity was inserted.
	ActionInsert Action = "insert"
	// ActionUpdate indicates an entity's attributes were replaced.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one staged mutation. Changes are context-free value
// snapshots and are the only mutable state allowed to cross queue boundaries
// during a save ascent.
type Change struct {
	Action Action `json:"action"`
	Entity Entity `json:"entity"`
}

// Clone deep-copies the change so the receiver cannot alias the sender's
// attribute maps.
func (c Change) Clone() Change {
	out := c
	out.Entity = c.Entity.Clone()
	return out
}

// CloneChanges deep-copies a changeset.
func CloneChanges(changes []Change) []Change {
	if changes == nil {
		return nil
	}
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = c.Clone()
	}
	return out
}

// CommitEvent announces a successful commit by the storage engine, keyed by
// the context whose save reached the root. Seq increases monotonically per
// engine and orders archive snapshots.
type CommitEvent struct {
	ContextID string   `json:"context_id"`
	Seq       uint64   `json:"seq"`
	Changes   []Change `json:"changes"`
}
