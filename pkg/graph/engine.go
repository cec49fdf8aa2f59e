package graph

import "context"

// StorageEngine is the durable persistence collaborator. Exactly one context
// in a tree (the root) holds an engine binding, and all engine calls are
// issued from that context's queue, so implementations see at most one caller
// at a time per tree. Implementations may still guard internal state because
// independent trees can share an engine.
type StorageEngine interface {
	// AssignDurableIDs mints durable identifiers for the given entities and
	// returns the temporary-to-durable mapping. Entities that already carry
	// durable IDs are skipped; promotion is idempotent.
	AssignDurableIDs(ctx context.Context, entities []Entity) (map[ID]ID, error)

	// Commit durably applies a changeset. The changeset must reference
	// durable IDs only. On success the engine records a CommitEvent in its
	// event stream.
	Commit(ctx context.Context, contextID string, changes []Change) error

	// Fetch executes a query and returns matching identifiers in query
	// order. Identifiers, not entities, so results can cross contexts.
	Fetch(ctx context.Context, req FetchRequest) ([]ID, error)

	// Materialize resolves a durable identifier into an attribute snapshot.
	Materialize(ctx context.Context, id ID) (Entity, error)

	// SubscribeCommits registers fn for commit events. fn is invoked after
	// each successful commit and must dispatch work rather than block; the
	// returned cancel func removes the registration.
	SubscribeCommits(fn func(CommitEvent)) (cancel func())
}
