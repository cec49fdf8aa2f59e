package graph

import "testing"

func TestTemporaryIDLifecycle(t *testing.T) {
	tmp := NewTemporaryID()
	if !tmp.Temporary() {
		t.Fatalf("expected %s to be temporary", tmp)
	}
	durable := NewDurableID()
	if durable.Temporary() {
		t.Fatalf("expected %s to be durable", durable)
	}
	if tmp == NewTemporaryID() {
		t.Fatalf("expected distinct temporary ids")
	}
}

func TestEntityCloneIsDeep(t *testing.T) {
	original := Entity{
		ID:   NewDurableID(),
		Kind: "organism",
		Attributes: map[string]any{
			"name": "alpha",
			"tags": []any{"a", "b"},
			"meta": map[string]any{"depth": 1},
		},
	}
	clone := original.Clone()
	clone.Attributes["name"] = "beta"
	clone.Attributes["tags"].([]any)[0] = "z"
	clone.Attributes["meta"].(map[string]any)["depth"] = 2

	if original.Attributes["name"] != "alpha" {
		t.Fatalf("clone mutation leaked into original name: %v", original.Attributes["name"])
	}
	if original.Attributes["tags"].([]any)[0] != "a" {
		t.Fatalf("clone mutation leaked into original slice")
	}
	if original.Attributes["meta"].(map[string]any)["depth"] != 1 {
		t.Fatalf("clone mutation leaked into nested map")
	}
}

func TestEntityCloneNilAttributes(t *testing.T) {
	e := Entity{ID: "e1", Kind: "organism"}
	clone := e.Clone()
	if clone.Attributes != nil {
		t.Fatalf("expected nil attributes to stay nil, got %v", clone.Attributes)
	}
}

func TestCloneChangesDetachesEntities(t *testing.T) {
	changes := []Change{{
		Action: ActionUpdate,
		Entity: Entity{ID: "e1", Kind: "organism", Attributes: map[string]any{"name": "alpha"}},
	}}
	cloned := CloneChanges(changes)
	cloned[0].Entity.Attributes["name"] = "beta"
	if changes[0].Entity.Attributes["name"] != "alpha" {
		t.Fatalf("cloned changeset aliases the source")
	}
	if CloneChanges(nil) != nil {
		t.Fatalf("expected nil changeset to clone as nil")
	}
}
