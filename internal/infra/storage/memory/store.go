// Package memory provides an in-memory implementation of the storage engine
// used for tests and ephemeral environments.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	archivecore "graphstack/internal/infra/archive/core"
	"graphstack/pkg/graph"
)

// Compile-time contract assertion ensuring the store satisfies the engine interface.
var _ graph.StorageEngine = (*Store)(nil)

// uniqueKey identifies a uniqueness constraint: one attribute per kind.
type uniqueKey struct {
	kind  string
	field string
}

// Store keeps the durable graph in process memory. Reads are internally
// synchronized; the orchestration layer guarantees at most one writer per
// context tree (the root queue).
type Store struct {
	mu       sync.RWMutex
	entities map[graph.ID]graph.Entity
	seq      uint64

	unique map[uniqueKey]struct{}

	subMu  sync.Mutex
	subSeq int
	subs   map[int]func(graph.CommitEvent)

	archive archivecore.Store
	persist func(ctx context.Context, snapshot Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithArchive installs a commit snapshot archive; after every successful
// commit the full state is written as a JSON object keyed by commit sequence.
func WithArchive(a archivecore.Store) Option {
	return func(s *Store) { s.archive = a }
}

// WithPersistHook installs fn to run once a commit's changes have passed
// validation but before the new state becomes visible or a commit event is
// published. An error from fn fails the commit and leaves the store
// unchanged. Durable wrappers write their snapshot through this hook so
// observers never see a commit whose persistence failed.
func WithPersistHook(fn func(ctx context.Context, snapshot Snapshot) error) Option {
	return func(s *Store) { s.persist = fn }
}

// WithUniqueAttribute declares a uniqueness constraint over one attribute of
// a kind. Commits violating the constraint are rejected.
func WithUniqueAttribute(kind, field string) Option {
	return func(s *Store) { s.unique[uniqueKey{kind: kind, field: field}] = struct{}{} }
}

// NewStore constructs an empty in-memory storage engine.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entities: make(map[graph.ID]graph.Entity),
		unique:   make(map[uniqueKey]struct{}),
		subs:     make(map[int]func(graph.CommitEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssignDurableIDs mints durable identifiers for entities still carrying
// temporary ones. Already-durable identifiers are skipped, keeping the
// operation idempotent.
func (s *Store) AssignDurableIDs(_ context.Context, entities []graph.Entity) (map[graph.ID]graph.ID, error) {
	mapping := make(map[graph.ID]graph.ID, len(entities))
	for _, e := range entities {
		if !e.ID.Temporary() {
			continue
		}
		mapping[e.ID] = graph.NewDurableID()
	}
	return mapping, nil
}

// Commit atomically applies a changeset: either every change lands or none
// does. Changesets referencing temporary identifiers are rejected outright.
func (s *Store) Commit(ctx context.Context, contextID string, changes []graph.Change) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	next := make(map[graph.ID]graph.Entity, len(s.entities))
	for id, e := range s.entities {
		next[id] = e
	}
	for _, ch := range changes {
		if ch.Entity.ID.Temporary() {
			s.mu.Unlock()
			return fmt.Errorf("commit: temporary identifier %s reached the engine", ch.Entity.ID)
		}
		switch ch.Action {
		case graph.ActionInsert, graph.ActionUpdate:
			next[ch.Entity.ID] = ch.Entity.Clone()
		case graph.ActionDelete:
			delete(next, ch.Entity.ID)
		default:
			s.mu.Unlock()
			return fmt.Errorf("commit: unknown action %q", ch.Action)
		}
	}
	if err := s.checkUnique(next); err != nil {
		s.mu.Unlock()
		return err
	}
	seq := s.seq + 1
	snapshot := Snapshot{Entities: cloneEntities(next), Seq: seq}
	s.mu.Unlock()

	// All durability work runs before the new state becomes visible: a
	// failed archive write or persist hook leaves the store untouched and
	// publishes nothing.
	if err := s.writeArchive(ctx, snapshot); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist(ctx, snapshot); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.entities = next
	s.seq = seq
	s.mu.Unlock()
	s.publish(graph.CommitEvent{ContextID: contextID, Seq: seq, Changes: graph.CloneChanges(changes)})
	return nil
}

func (s *Store) checkUnique(state map[graph.ID]graph.Entity) error {
	if len(s.unique) == 0 {
		return nil
	}
	for key := range s.unique {
		seen := make(map[any]graph.ID)
		for _, e := range state {
			if e.Kind != key.kind || e.Attributes == nil {
				continue
			}
			val, ok := e.Attributes[key.field]
			if !ok {
				continue
			}
			if prev, dup := seen[val]; dup {
				return fmt.Errorf("unique constraint %s.%s violated by %s and %s", key.kind, key.field, prev, e.ID)
			}
			seen[val] = e.ID
		}
	}
	return nil
}

func (s *Store) writeArchive(ctx context.Context, snapshot Snapshot) error {
	if s.archive == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := fmt.Sprintf("snapshots/%012d.json", snapshot.Seq)
	if _, err := s.archive.Put(ctx, key, bytes.NewReader(payload), archivecore.PutOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("archive snapshot %d: %w", snapshot.Seq, err)
	}
	return nil
}

// Fetch executes the request and returns matching identifiers, ordered by
// the request's sort descriptor with ID as tie-breaker so results are
// deterministic.
func (s *Store) Fetch(_ context.Context, req graph.FetchRequest) ([]graph.ID, error) {
	s.mu.RLock()
	matched := make([]graph.Entity, 0)
	for _, e := range s.entities {
		ok, err := req.Matches(e)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	graph.SortEntities(matched, req)
	matched = graph.Window(matched, req)
	ids := make([]graph.ID, len(matched))
	for i, e := range matched {
		ids[i] = e.ID
	}
	return ids, nil
}

// Materialize resolves a durable identifier into an attribute snapshot.
func (s *Store) Materialize(_ context.Context, id graph.ID) (graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return graph.Entity{}, graph.NotFoundError{ID: id}
	}
	return e.Clone(), nil
}

// SubscribeCommits registers fn for commit events. fn is invoked
// synchronously after each successful commit and must dispatch rather than
// block.
func (s *Store) SubscribeCommits(fn func(graph.CommitEvent)) func() {
	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(ev graph.CommitEvent) {
	s.subMu.Lock()
	fns := make([]func(graph.CommitEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Entities map[graph.ID]graph.Entity `json:"entities"`
	Seq      uint64                    `json:"seq"`
}

func cloneEntities(entities map[graph.ID]graph.Entity) map[graph.ID]graph.Entity {
	out := make(map[graph.ID]graph.Entity, len(entities))
	for id, e := range entities {
		out[id] = e.Clone()
	}
	return out
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Entities: cloneEntities(s.entities), Seq: s.seq}
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot.Entities == nil {
		snapshot.Entities = map[graph.ID]graph.Entity{}
	}
	s.entities = cloneEntities(snapshot.Entities)
	s.seq = snapshot.Seq
}

// Len reports the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
