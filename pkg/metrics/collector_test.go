package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zerobrew/zb/pkg/catalog"
	"github.com/zerobrew/zb/pkg/store"
)

func newTestCollector(t *testing.T) (*Collector, *store.Store, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	return NewCollector(st, cat), st, cat
}

func TestCollectorSamplesStoreSizeAndEntries(t *testing.T) {
	c, st, _ := newTestCollector(t)

	entryDir := filepath.Join(st.Dir(), "deadbeef")
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(entryDir, "payload"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c.collect()

	if got := testutil.ToFloat64(StoreEntriesTotal); got != 1 {
		t.Errorf("StoreEntriesTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(StoreSizeBytes); got != float64(len("hello world")) {
		t.Errorf("StoreSizeBytes = %v, want %d", got, len("hello world"))
	}
}

func TestCollectorSamplesInstalledPackageCount(t *testing.T) {
	c, _, cat := newTestCollector(t)

	tx, err := cat.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.RecordInstall("foo", "1.0.0", "sha", time.Now().Unix()); err != nil {
		t.Fatalf("RecordInstall: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	c.collect()

	if got := testutil.ToFloat64(InstalledPackagesTotal); got != 1 {
		t.Errorf("InstalledPackagesTotal = %v, want 1", got)
	}
}

func TestCollectorStartStopDoesNotPanic(t *testing.T) {
	c, _, _ := newTestCollector(t)
	c.Start()
	c.Stop()
}
