package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"graphstack/internal/infra/storage/memory"
	"graphstack/pkg/graph"
)

func insertChange(id graph.ID, kind string, attrs map[string]any) graph.Change {
	return graph.Change{Action: graph.ActionInsert, Entity: graph.Entity{ID: id, Kind: kind, Attributes: attrs}}
}

func TestNewStoreAppliesDDL(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	var sawDDL bool
	for _, stmt := range conn.execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.execs)
	}
	if store.Len() != 0 {
		t.Fatalf("fresh store must be empty")
	}
}

func TestCommitPersistsAndReloads(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Commit(context.Background(), "root", []graph.Change{
		insertChange("a", "organism", map[string]any{"name": "alpha"}),
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	payload, ok := conn.buckets["graph"]
	if !ok {
		t.Fatalf("expected snapshot upserted under the graph bucket")
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		t.Fatalf("decode persisted snapshot: %v", err)
	}
	if snapshot.Seq != 1 || len(snapshot.Entities) != 1 {
		t.Fatalf("unexpected persisted snapshot: %+v", snapshot)
	}

	reloaded, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("expected snapshot hydrated, got %d entities", reloaded.Len())
	}
	e, err := reloaded.Materialize(context.Background(), "a")
	if err != nil || e.Attributes["name"] != "alpha" {
		t.Fatalf("unexpected reloaded entity: %+v err=%v", e, err)
	}
}

func TestEmptyCommitSkipsPersist(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Commit(context.Background(), "root", nil); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if _, ok := conn.buckets["graph"]; ok {
		t.Fatalf("empty commit must not snapshot")
	}
}

func TestFailedPersistSuppressesCommitEvent(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.failExec = true
	var fired bool
	store.SubscribeCommits(func(graph.CommitEvent) { fired = true })

	err = store.Commit(context.Background(), "root", []graph.Change{insertChange("a", "organism", nil)})
	if err == nil || !strings.Contains(err.Error(), "upsert snapshot") {
		t.Fatalf("expected snapshot write failure, got %v", err)
	}
	if fired {
		t.Fatalf("failed persistence must not publish a commit event")
	}
	if store.Len() != 0 || store.ExportState().Seq != 0 {
		t.Fatalf("failed commit mutated engine state: len=%d seq=%d", store.Len(), store.ExportState().Seq)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := newStubDB()
	conn.failPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}

func TestNewStoreCorruptSnapshot(t *testing.T) {
	db, conn := newStubDB()
	conn.buckets["graph"] = []byte("not-json")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "decode snapshot") {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestNewStoreExecFailure(t *testing.T) {
	db, conn := newStubDB()
	conn.failExec = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "ensure state table") {
		t.Fatalf("expected DDL failure, got %v", err)
	}
}

func TestOverrideSQLOpenRestores(t *testing.T) {
	marker := fmt.Errorf("opened via override")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, marker })
	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), marker.Error()) {
		t.Fatalf("override not in effect: %v", err)
	}
	restore()
	openMu.Lock()
	restored := fmt.Sprintf("%p", sqlOpen) == fmt.Sprintf("%p", sql.Open)
	openMu.Unlock()
	if !restored {
		t.Fatalf("restore did not reinstate sql.Open")
	}
}

// --- stub driver helpers ---

var stubSeq atomic.Int64

type stubDriver struct {
	conn *stubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

type stubConn struct {
	execs    []string
	buckets  map[string][]byte
	failPing bool
	failExec bool
}

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, fmt.Errorf("not implemented") }

func (c *stubConn) Ping(context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	if c.failExec {
		return nil, fmt.Errorf("exec fail")
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO STATE") {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected bucket and payload, got %d args", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("bucket must be a string")
		}
		payload, ok := args[1].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("payload must be bytes")
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		c.buckets[bucket] = cp
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(strings.ToUpper(query), "FROM STATE") {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("expected bucket arg")
	}
	bucket, _ := args[0].Value.(string)
	rows := &stubRows{}
	if payload, ok := c.buckets[bucket]; ok {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		rows.payloads = [][]byte{cp}
	}
	return rows, nil
}

type stubRows struct {
	payloads [][]byte
	idx      int
}

func (r *stubRows) Columns() []string { return []string{"payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.payloads) {
		return io.EOF
	}
	dest[0] = r.payloads[r.idx]
	r.idx++
	return nil
}
