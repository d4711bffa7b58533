package offdata

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, TableRegistry, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	if err := s.Put(ctx, TableRegistry, "a", []byte(`{"id":"a"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, ok, err := s.Get(ctx, TableRegistry, "a")
	if err != nil || !ok {
		t.Fatalf("Get(a) = ok=%v err=%v, want ok=true", ok, err)
	}
	if string(raw) != `{"id":"a"}` {
		t.Fatalf("Get(a) = %q, want the stored bytes", raw)
	}

	if err := s.Put(ctx, TableRegistry, "a", []byte(`{"id":"a","version":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	raw, _, _ = s.Get(ctx, TableRegistry, "a")
	if string(raw) != `{"id":"a","version":2}` {
		t.Fatalf("Put did not overwrite, got %q", raw)
	}

	if err := s.Put(ctx, TableRegistry, "b", []byte(`{"id":"b"}`)); err != nil {
		t.Fatalf("Put(b): %v", err)
	}
	if err := s.Put(ctx, TableQueue, "a", []byte(`{"id":"a","status":"pending"}`)); err != nil {
		t.Fatalf("Put queue: %v", err)
	}

	ids, err := s.GetAllIDs(ctx, TableRegistry)
	if err != nil {
		t.Fatalf("GetAllIDs: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("GetAllIDs(registry) = %v, want [a b]", ids)
	}

	all, err := s.GetAll(ctx, TableRegistry)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("GetAll(registry) has %d rows, want 2", len(all))
	}

	queueIDs, err := s.GetAllIDs(ctx, TableQueue)
	if err != nil {
		t.Fatalf("GetAllIDs(queue): %v", err)
	}
	if len(queueIDs) != 1 || queueIDs[0] != "a" {
		t.Fatalf("GetAllIDs(queue) = %v, want [a]", queueIDs)
	}

	if err := s.Delete(ctx, TableRegistry, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, TableRegistry, "a"); ok {
		t.Fatalf("Get(a) after delete still present")
	}
	// Deleting a table/id the queue table still has must not disturb it.
	if _, ok, _ := s.Get(ctx, TableQueue, "a"); !ok {
		t.Fatalf("Delete(registry, a) incorrectly removed the queue row")
	}

	if err := s.Delete(ctx, TableRegistry, "nonexistent"); err != nil {
		t.Fatalf("Delete(missing) should not error, got %v", err)
	}
}

func TestMemStoreRoundTrip(t *testing.T) {
	testStoreRoundTrip(t, NewMemStore())
}

func TestAferoStoreRoundTrip(t *testing.T) {
	s, err := NewAferoStore(afero.NewMemMapFs())
	if err != nil {
		t.Fatalf("NewAferoStore: %v", err)
	}
	testStoreRoundTrip(t, s)
}

func TestAferoStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewBasePathFs(afero.NewOsFs(), dir)
	ctx := context.Background()

	s1, err := NewAferoStore(fs)
	if err != nil {
		t.Fatalf("NewAferoStore: %v", err)
	}
	if err := s1.Put(ctx, TableRegistry, "x", []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2, err := NewAferoStore(fs)
	if err != nil {
		t.Fatalf("NewAferoStore (reopen): %v", err)
	}
	raw, ok, err := s2.Get(ctx, TableRegistry, "x")
	if err != nil || !ok {
		t.Fatalf("Get(x) after reopen = ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"id":"x"}` {
		t.Fatalf("Get(x) after reopen = %q", raw)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offdata.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestSQLiteStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offdata.db")
	ctx := context.Background()

	s1, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	if err := s1.Put(ctx, TableRegistry, "y", []byte(`{"id":"y"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore (reopen): %v", err)
	}
	defer s2.Close()
	raw, ok, err := s2.Get(ctx, TableRegistry, "y")
	if err != nil || !ok {
		t.Fatalf("Get(y) after reopen = ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"id":"y"}` {
		t.Fatalf("Get(y) after reopen = %q", raw)
	}
}
