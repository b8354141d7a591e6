package catalog

import (
	"path/filepath"
	"testing"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "zb.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInstallAndList(t *testing.T) {
	c := openTestCatalog(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.RecordInstall("foo", "1.0.0", "abc123", 100); err != nil {
		t.Fatalf("RecordInstall: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	kegs, err := c.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(kegs) != 1 || kegs[0].Name != "foo" || kegs[0].Version != "1.0.0" || kegs[0].StoreKey != "abc123" {
		t.Fatalf("ListInstalled = %+v", kegs)
	}
}

func TestRollbackLeavesNoPartialState(t *testing.T) {
	c := openTestCatalog(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.RecordInstall("foo", "1.0.0", "abc123", 100); err != nil {
		t.Fatalf("RecordInstall: %v", err)
	}
	tx.Rollback()

	kegs, err := c.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(kegs) != 0 {
		t.Fatalf("expected no installed kegs after rollback, got %+v", kegs)
	}

	count, err := c.GetStoreRefcount("abc123")
	if err != nil {
		t.Fatalf("GetStoreRefcount: %v", err)
	}
	if count != 0 {
		t.Fatalf("refcount = %d, want 0", count)
	}
}

func TestUninstallDecrementsRefcount(t *testing.T) {
	c := openTestCatalog(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.RecordInstall("foo", "1.0.0", "shared123", 100); err != nil {
		t.Fatalf("RecordInstall foo: %v", err)
	}
	if err := tx.RecordInstall("bar", "2.0.0", "shared123", 100); err != nil {
		t.Fatalf("RecordInstall bar: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if count, _ := c.GetStoreRefcount("shared123"); count != 2 {
		t.Fatalf("refcount = %d, want 2", count)
	}

	tx2, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx2.RecordUninstall("foo"); err != nil {
		t.Fatalf("RecordUninstall: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if count, _ := c.GetStoreRefcount("shared123"); count != 1 {
		t.Fatalf("refcount = %d, want 1", count)
	}
	if _, ok, _ := c.GetInstalled("foo"); ok {
		t.Fatal("foo should no longer be installed")
	}
	if _, ok, _ := c.GetInstalled("bar"); !ok {
		t.Fatal("bar should still be installed")
	}
}

func TestUnreferencedStoreKeys(t *testing.T) {
	c := openTestCatalog(t)

	tx, _ := c.Begin()
	tx.RecordInstall("foo", "1.0.0", "key1", 100)
	tx.RecordInstall("bar", "2.0.0", "key2", 100)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, _ := c.Begin()
	tx2.RecordUninstall("foo")
	tx2.RecordUninstall("bar")
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	keys, err := c.GetUnreferencedStoreKeys()
	if err != nil {
		t.Fatalf("GetUnreferencedStoreKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2 entries", keys)
	}
}

func TestLinkedFilesRoundTrip(t *testing.T) {
	c := openTestCatalog(t)

	tx, _ := c.Begin()
	tx.RecordInstall("foo", "1.0.0", "abc123", 100)
	if err := tx.RecordLinkedFile("foo", "1.0.0", "/opt/homebrew/bin/foo", "/opt/homebrew/Cellar/foo/1.0.0/bin/foo"); err != nil {
		t.Fatalf("RecordLinkedFile: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, _ := c.Begin()
	linked, targets, err := tx2.LinkedFiles("foo")
	tx2.Rollback()
	if err != nil {
		t.Fatalf("LinkedFiles: %v", err)
	}
	if len(linked) != 1 || linked[0] != "/opt/homebrew/bin/foo" {
		t.Fatalf("linked = %v", linked)
	}
	if len(targets) != 1 || targets[0] != "/opt/homebrew/Cellar/foo/1.0.0/bin/foo" {
		t.Fatalf("targets = %v", targets)
	}
}

func TestTapsAddListRemove(t *testing.T) {
	c := openTestCatalog(t)

	added, err := c.AddTap("user", "tools", 100)
	if err != nil {
		t.Fatalf("AddTap: %v", err)
	}
	if !added {
		t.Fatal("expected tap to be newly added")
	}

	taps, err := c.ListTaps()
	if err != nil {
		t.Fatalf("ListTaps: %v", err)
	}
	if len(taps) != 1 || taps[0].Owner != "user" || taps[0].Repo != "tools" {
		t.Fatalf("taps = %+v", taps)
	}

	removed, err := c.RemoveTap("user", "tools")
	if err != nil {
		t.Fatalf("RemoveTap: %v", err)
	}
	if !removed {
		t.Fatal("expected tap to be removed")
	}

	taps, err = c.ListTaps()
	if err != nil {
		t.Fatalf("ListTaps: %v", err)
	}
	if len(taps) != 0 {
		t.Fatalf("expected no taps, got %+v", taps)
	}
}

func TestAPICacheRoundTrip(t *testing.T) {
	c := openTestCatalog(t)

	if err := c.PutAPICacheEntry("formula/wget", `"abc"`, "Mon, 01 Jan 2024", []byte(`{"name":"wget"}`), 100); err != nil {
		t.Fatalf("PutAPICacheEntry: %v", err)
	}

	etag, lastModified, body, ok, err := c.GetAPICacheEntry("formula/wget")
	if err != nil {
		t.Fatalf("GetAPICacheEntry: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if etag != `"abc"` || lastModified != "Mon, 01 Jan 2024" || string(body) != `{"name":"wget"}` {
		t.Fatalf("entry = %q %q %s", etag, lastModified, body)
	}
}
