package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"graphstack/internal/infra/archive/core"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	info, err := s.Put(ctx, "snapshots/000000000001.json", strings.NewReader(`{"seq":1}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != 9 || info.ContentType != "application/json" {
		t.Fatalf("unexpected info: %+v", info)
	}

	got, rc, err := s.Get(ctx, "snapshots/000000000001.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != `{"seq":1}` {
		t.Fatalf("unexpected body %q", body)
	}
	if got.Metadata["origin"] != "test" {
		t.Fatalf("metadata lost: %+v", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "k", strings.NewReader("v1"), core.PutOptions{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader("v2"), core.PutOptions{}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	_, rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "v2" {
		t.Fatalf("expected overwrite, got %q", body)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	if _, _, err := s.Get(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	existed, err := s.Delete(ctx, "k")
	if err != nil || !existed {
		t.Fatalf("expected delete of existing key, got %v %v", existed, err)
	}
	existed, err = s.Delete(ctx, "k")
	if err != nil || existed {
		t.Fatalf("expected idempotent miss, got %v %v", existed, err)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, key := range []string{"snapshots/2.json", "snapshots/1.json", "other/x"} {
		if _, err := s.Put(ctx, key, strings.NewReader("v"), core.PutOptions{}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	infos, err := s.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "snapshots/1.json" || infos[1].Key != "snapshots/2.json" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestDriverIdentifier(t *testing.T) {
	if New().Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
}
