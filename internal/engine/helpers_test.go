package engine

import (
	"context"
	"testing"

	"graphstack/internal/infra/storage/memory"
	"graphstack/pkg/graph"
)

func newTestStack(t *testing.T, opts ...memory.Option) (*Stack, *memory.Store) {
	t.Helper()
	store := memory.NewStore(opts...)
	stack := NewStack(store)
	t.Cleanup(stack.Close)
	return stack, store
}

// stubEngine lets individual engine operations be forced to fail.
type stubEngine struct {
	inner *memory.Store

	assignErr      error
	commitErr      error
	fetchErr       error
	materializeErr map[graph.ID]error
}

var _ graph.StorageEngine = (*stubEngine)(nil)

func newStubEngine() *stubEngine {
	return &stubEngine{inner: memory.NewStore(), materializeErr: make(map[graph.ID]error)}
}

func (s *stubEngine) AssignDurableIDs(ctx context.Context, entities []graph.Entity) (map[graph.ID]graph.ID, error) {
	if s.assignErr != nil {
		return nil, s.assignErr
	}
	return s.inner.AssignDurableIDs(ctx, entities)
}

func (s *stubEngine) Commit(ctx context.Context, contextID string, changes []graph.Change) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	return s.inner.Commit(ctx, contextID, changes)
}

func (s *stubEngine) Fetch(ctx context.Context, req graph.FetchRequest) ([]graph.ID, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.inner.Fetch(ctx, req)
}

func (s *stubEngine) Materialize(ctx context.Context, id graph.ID) (graph.Entity, error) {
	if err, ok := s.materializeErr[id]; ok {
		return graph.Entity{}, err
	}
	return s.inner.Materialize(ctx, id)
}

func (s *stubEngine) SubscribeCommits(fn func(graph.CommitEvent)) func() {
	return s.inner.SubscribeCommits(fn)
}
