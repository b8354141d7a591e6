package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zerobrew/zb/internal/config"
	"github.com/zerobrew/zb/internal/zberr"
)

// buildBottle packages a single executable at <name>/<version>/bin/<name>
// into a gzipped tarball and returns its bytes and hex SHA-256, mirroring
// the layout Store.Ensure expects to find under a bottle archive.
func buildBottle(t *testing.T, name, version, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	entryPath := fmt.Sprintf("%s/%s/bin/%s", name, version, name)
	hdr := &tar.Header{Name: entryPath, Mode: 0o755, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	tw.Close()
	gz.Close()

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

// testServer serves one formula's JSON metadata at /<name>.json and the
// bottle archives registered via serveBottle at arbitrary paths, letting a
// test swap the formula response mid-run to simulate an upgrade.
type testServer struct {
	mux      *http.ServeMux
	srv      *httptest.Server
	archive  map[string][]byte
	delay    map[string]<-chan struct{}
	formulas map[string][]byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{mux: http.NewServeMux(), archive: map[string][]byte{}, delay: map[string]<-chan struct{}{}, formulas: map[string][]byte{}}
	ts.mux.HandleFunc("/bottles/", func(w http.ResponseWriter, r *http.Request) {
		data, ok := ts.archive[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if release, ok := ts.delay[r.URL.Path]; ok {
			<-release
		}
		w.Write(data)
	})
	ts.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := ts.formulas[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	})
	ts.srv = httptest.NewServer(ts.mux)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) serveBottle(data []byte) string {
	path := fmt.Sprintf("/bottles/%x", sha256.Sum256(data))
	ts.archive[path] = data
	return ts.srv.URL + path
}

// serveBottleDelayed registers data like serveBottle, but the handler blocks
// until release is closed before writing the response body.
func (ts *testServer) serveBottleDelayed(data []byte, release <-chan struct{}) string {
	path := fmt.Sprintf("/bottles/%x", sha256.Sum256(data))
	ts.archive[path] = data
	ts.delay[path] = release
	return ts.srv.URL + path
}

type formulaBottleFileDoc struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

type formulaBottleDoc struct {
	Rebuild int                              `json:"rebuild"`
	Files   map[string]formulaBottleFileDoc `json:"files"`
}

type formulaDoc struct {
	Name     string           `json:"name"`
	Versions struct{ Stable string `json:"stable"` } `json:"versions"`
	Deps     []string         `json:"dependencies"`
	Bottle   struct{ Stable formulaBottleDoc `json:"stable"` } `json:"bottle"`
}

func (ts *testServer) setFormula(name, version, archiveURL, sha256Hex string) {
	doc := formulaDoc{Name: name}
	doc.Versions.Stable = version
	doc.Bottle.Stable.Files = map[string]formulaBottleFileDoc{
		"all": {URL: archiveURL, SHA256: sha256Hex},
	}

	body, _ := json.Marshal(doc)
	ts.formulas["/"+name+".json"] = body
}

func newTestInstaller(t *testing.T, apiBaseURL string) *Installer {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		RootPath:            root,
		PrefixPath:          filepath.Join(root, "prefix"),
		DownloadConcurrency: 4,
		CorruptionRetryMax:  3,
		APIBaseURL:          apiBaseURL,
		PlatformTags:        []string{"all"},
		HTTPTimeout:         10_000_000_000, // 10s
	}
	in, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

func TestInstallPlanExecuteLinksAndRecords(t *testing.T) {
	ts := newTestServer(t)
	data, sha := buildBottle(t, "foo", "1.0.0", "#!/bin/sh\necho foo\n")
	url := ts.serveBottle(data)
	ts.setFormula("foo", "1.0.0", url, sha)

	in := newTestInstaller(t, ts.srv.URL)

	plan, err := in.Plan(context.Background(), []string{"foo"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(plan.Steps))
	}

	result, err := in.Execute(context.Background(), plan, true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Installed != 1 {
		t.Errorf("installed = %d, want 1", result.Installed)
	}

	ok, err := in.IsInstalled("foo")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if !ok {
		t.Fatal("expected foo to be installed")
	}

	linkedBin := filepath.Join(in.cfg.PrefixPath, "bin", "foo")
	if _, err := os.Lstat(linkedBin); err != nil {
		t.Fatalf("expected symlink at %s: %v", linkedBin, err)
	}

	kegs, err := in.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(kegs) != 1 || kegs[0].Name != "foo" {
		t.Fatalf("kegs = %+v", kegs)
	}
}

// TestExecuteProcessesDownloadsInCompletionOrder mirrors the "streaming
// overlap" scenario: a fast package finishes downloading and gets linked
// while a slower, independent package's download is still in flight.
func TestExecuteProcessesDownloadsInCompletionOrder(t *testing.T) {
	ts := newTestServer(t)

	fastData, fastSHA := buildBottle(t, "fast", "1.0.0", "fast binary")
	fastURL := ts.serveBottle(fastData)
	ts.setFormula("fast", "1.0.0", fastURL, fastSHA)

	release := make(chan struct{})
	slowData, slowSHA := buildBottle(t, "slow", "1.0.0", "slow binary")
	slowURL := ts.serveBottleDelayed(slowData, release)
	ts.setFormula("slow", "1.0.0", slowURL, slowSHA)

	in := newTestInstaller(t, ts.srv.URL)

	plan, err := in.Plan(context.Background(), []string{"slow", "fast"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}

	done := make(chan error, 1)
	go func() {
		_, err := in.Execute(context.Background(), plan, true)
		done <- err
	}()

	fastLink := filepath.Join(in.cfg.PrefixPath, "bin", "fast")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Lstat(fastLink); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for fast to link while slow was still downloading")
		}
		time.Sleep(time.Millisecond)
	}

	// fast is linked, slow's download is still blocked: the slow keg must
	// not exist yet.
	slowKeg := in.cellar.KegPath("slow", "1.0.0")
	if _, err := os.Stat(slowKeg); !os.IsNotExist(err) {
		t.Fatalf("expected slow keg not yet materialized, got err=%v", err)
	}

	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(slowKeg); err != nil {
		t.Fatalf("expected slow keg after Execute completed: %v", err)
	}
}

func TestUninstallRemovesLinksAndFreesRefcount(t *testing.T) {
	ts := newTestServer(t)
	data, sha := buildBottle(t, "bar", "2.0.0", "bar binary")
	url := ts.serveBottle(data)
	ts.setFormula("bar", "2.0.0", url, sha)

	in := newTestInstaller(t, ts.srv.URL)

	plan, err := in.Plan(context.Background(), []string{"bar"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := in.Execute(context.Background(), plan, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	linkedBin := filepath.Join(in.cfg.PrefixPath, "bin", "bar")
	if _, err := os.Lstat(linkedBin); err != nil {
		t.Fatalf("expected symlink before uninstall: %v", err)
	}

	if err := in.Uninstall("bar"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if _, err := os.Lstat(linkedBin); !os.IsNotExist(err) {
		t.Fatalf("expected symlink removed, got err=%v", err)
	}

	ok, err := in.IsInstalled("bar")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if ok {
		t.Fatal("expected bar to no longer be installed")
	}

	removed, err := in.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(removed) != 1 || removed[0] != sha {
		t.Fatalf("GC removed = %v, want [%s]", removed, sha)
	}
}

func TestUninstallNotInstalledIsNotInstalledError(t *testing.T) {
	ts := newTestServer(t)
	in := newTestInstaller(t, ts.srv.URL)

	err := in.Uninstall("nope")
	if !zberr.Is(err, zberr.NotInstalled) {
		t.Fatalf("err = %v, want NotInstalled", err)
	}
}

func TestUpgradeReplacesOldKegOnVersionChange(t *testing.T) {
	ts := newTestServer(t)
	v1data, v1sha := buildBottle(t, "baz", "1.0.0", "v1")
	v1url := ts.serveBottle(v1data)
	ts.setFormula("baz", "1.0.0", v1url, v1sha)

	in := newTestInstaller(t, ts.srv.URL)

	plan, err := in.Plan(context.Background(), []string{"baz"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := in.Execute(context.Background(), plan, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	oldKeg := in.cellar.KegPath("baz", "1.0.0")
	if _, err := os.Stat(oldKeg); err != nil {
		t.Fatalf("expected old keg to exist: %v", err)
	}

	v2data, v2sha := buildBottle(t, "baz", "2.0.0", "v2")
	v2url := ts.serveBottle(v2data)
	ts.setFormula("baz", "2.0.0", v2url, v2sha)

	if err := in.Upgrade(context.Background(), "baz"); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	if _, err := os.Stat(oldKeg); !os.IsNotExist(err) {
		t.Fatalf("expected old keg removed, got err=%v", err)
	}

	keg, ok, err := in.GetInstalled("baz")
	if err != nil {
		t.Fatalf("GetInstalled: %v", err)
	}
	if !ok || keg.Version != "2.0.0" {
		t.Fatalf("installed = %+v", keg)
	}
}
