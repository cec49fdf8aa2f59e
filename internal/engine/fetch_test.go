package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"graphstack/pkg/graph"
)

func seedOrganisms(t *testing.T, stack *Stack, names ...string) {
	t.Helper()
	bg := stack.ContextFor("seed")
	for i, name := range names {
		if _, err := bg.Insert("organism", map[string]any{"name": name, "rank": i}); err != nil {
			t.Fatalf("Insert %s: %v", name, err)
		}
	}
	if err := bg.SaveAndWait(); err != nil {
		t.Fatalf("seed save: %v", err)
	}
}

func TestFetchAndWaitMaterializesInQueryOrder(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "charlie", "alpha", "beta")

	entities, err := stack.Main().FetchAndWait(graph.FetchRequest{Kind: "organism", SortBy: "name"})
	if err != nil {
		t.Fatalf("FetchAndWait: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}
	want := []string{"alpha", "beta", "charlie"}
	for i, e := range entities {
		if e.Attributes["name"] != want[i] {
			t.Fatalf("order mismatch at %d: want %s got %v", i, want[i], e.Attributes["name"])
		}
	}
	// translation registered the snapshots with the calling context
	for _, e := range entities {
		if _, ok := stack.Main().Get(e.ID); !ok {
			t.Fatalf("entity %s not registered after translation", e.ID)
		}
	}
}

func TestFetchIDsMatchMaterializedEntities(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "alpha", "beta")

	req := graph.FetchRequest{Kind: "organism", SortBy: "name"}
	ids, err := stack.Main().FetchIDsAndWait(req)
	if err != nil {
		t.Fatalf("FetchIDsAndWait: %v", err)
	}
	entities, err := stack.Main().FetchAndWait(req)
	if err != nil {
		t.Fatalf("FetchAndWait: %v", err)
	}
	if len(ids) != len(entities) {
		t.Fatalf("id/entity count mismatch: %d vs %d", len(ids), len(entities))
	}
	for i := range ids {
		if ids[i] != entities[i].ID {
			t.Fatalf("id mismatch at %d: %s vs %s", i, ids[i], entities[i].ID)
		}
	}
}

func TestFetchWindowing(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "a", "b", "c", "d", "e")

	entities, err := stack.Main().FetchAndWait(graph.FetchRequest{
		Kind: "organism", SortBy: "name", Offset: 1, Limit: 2,
	})
	if err != nil {
		t.Fatalf("FetchAndWait: %v", err)
	}
	if len(entities) != 2 || entities[0].Attributes["name"] != "b" || entities[1].Attributes["name"] != "c" {
		t.Fatalf("unexpected window: %+v", entities)
	}
}

func TestFetchWithClauses(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "alpha", "beta", "gamma")

	entities, err := stack.Main().FetchAndWait(graph.FetchRequest{
		Kind:    "organism",
		Clauses: []graph.Where{{Field: "rank", Op: graph.OpGe, Value: 1}},
		SortBy:  "rank",
	})
	if err != nil {
		t.Fatalf("FetchAndWait: %v", err)
	}
	if len(entities) != 2 || entities[0].Attributes["name"] != "beta" {
		t.Fatalf("unexpected filtered results: %+v", entities)
	}
}

func TestFetchDeliversOnMainQueueByDefault(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "alpha")

	done := make(chan bool, 1)
	stack.Main().Fetch(graph.FetchRequest{Kind: "organism"}, FetchOptions{},
		func(res FetchResult) { done <- stack.Main().Queue().Executing() && len(res.Entities) == 1 },
		func(err error) { t.Errorf("unexpected failure: %v", err); done <- false })
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("success callback off the main queue or empty result")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch did not complete")
	}
}

func TestFetchReturnIDsSkipsTranslation(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "alpha")
	reader := stack.ContextFor("reader")
	before := reader.RegisteredCount()

	done := make(chan FetchResult, 1)
	reader.Fetch(graph.FetchRequest{Kind: "organism"}, FetchOptions{ReturnIDs: true},
		func(res FetchResult) { done <- res },
		func(err error) { t.Errorf("unexpected failure: %v", err); done <- FetchResult{} })
	select {
	case res := <-done:
		if len(res.IDs) != 1 || res.Entities != nil {
			t.Fatalf("expected bare ids, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch did not complete")
	}
	if reader.RegisteredCount() != before {
		t.Fatalf("id-only fetch must not register entities")
	}
}

func TestFetchSeesUnsavedLocalState(t *testing.T) {
	stack, _ := newTestStack(t)
	seedOrganisms(t, stack, "alpha")
	editor := stack.ContextFor("editor")

	ids, err := editor.FetchIDsAndWait(graph.FetchRequest{Kind: "organism"})
	if err != nil || len(ids) != 1 {
		t.Fatalf("fetch ids: %v %v", ids, err)
	}
	entities, err := editor.FetchAndWait(graph.FetchRequest{Kind: "organism"})
	if err != nil || len(entities) != 1 {
		t.Fatalf("materialize: %v %v", entities, err)
	}
	if err := editor.Update(ids[0], map[string]any{"name": "renamed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// translation prefers the context's own working set over the engine
	again, err := editor.FetchAndWait(graph.FetchRequest{Kind: "organism"})
	if err != nil || len(again) != 1 {
		t.Fatalf("refetch: %v %v", again, err)
	}
	if again[0].Attributes["name"] != "renamed" {
		t.Fatalf("expected unsaved local state, got %v", again[0].Attributes["name"])
	}
}

func TestFetchEngineFailure(t *testing.T) {
	stub := newStubEngine()
	stub.fetchErr = fmt.Errorf("index corrupted")
	stack := NewStack(stub)
	defer stack.Close()

	_, err := stack.Main().FetchAndWait(graph.FetchRequest{Kind: "organism"})
	var fe graph.FetchError
	if !errors.As(err, &fe) || fe.Context != "fetch-worker" {
		t.Fatalf("expected FetchError from the fetch context, got %v", err)
	}
}

func TestFetchTranslationFailureIsAllOrNothing(t *testing.T) {
	stub := newStubEngine()
	changes := []graph.Change{
		{Action: graph.ActionInsert, Entity: graph.Entity{ID: "a", Kind: "organism", Attributes: map[string]any{"name": "a"}}},
		{Action: graph.ActionInsert, Entity: graph.Entity{ID: "b", Kind: "organism", Attributes: map[string]any{"name": "b"}}},
	}
	if err := stub.inner.Commit(context.Background(), "seed", changes); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stub.materializeErr["b"] = fmt.Errorf("page missing")
	stack := NewStack(stub)
	defer stack.Close()

	entities, err := stack.Main().FetchAndWait(graph.FetchRequest{Kind: "organism", SortBy: "name"})
	var te graph.TranslationError
	if !errors.As(err, &te) || te.ID != "b" {
		t.Fatalf("expected TranslationError for b, got %v", err)
	}
	if entities != nil {
		t.Fatalf("failed translation must not return partial results: %v", entities)
	}
}
