package migrate

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
	"path/filepath"
	"testing"

	"github.com/zerobrew/zb/internal/config"
	"github.com/zerobrew/zb/pkg/installer"
)

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
	Bottle   struct{ Stable formulaBottleDoc `json:"stable"` } `json:"bottle"`
}

func newTestInstaller(t *testing.T, name, version, content string) *installer.Installer {
	t.Helper()
	data, sum := buildBottle(t, name, version, content)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	bottlePath := fmt.Sprintf("/bottles/%x", sha256.Sum256(data))
	mux.HandleFunc(bottlePath, func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})

	doc := formulaDoc{Name: name}
	doc.Versions.Stable = version
	doc.Bottle.Stable.Files = map[string]formulaBottleFileDoc{
		"all": {URL: srv.URL + bottlePath, SHA256: sum},
	}
	body, _ := json.Marshal(doc)
	mux.HandleFunc("/"+name+".json", func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	})

	root := t.TempDir()
	cfg := config.Config{
		RootPath:            root,
		PrefixPath:          filepath.Join(root, "prefix"),
		DownloadConcurrency: 4,
		CorruptionRetryMax:  3,
		APIBaseURL:          srv.URL,
		PlatformTags:        []string{"all"},
		HTTPTimeout:         10_000_000_000,
	}
	in, err := installer.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

func TestMigrationPlanIsEmptyWhenNoInstalls(t *testing.T) {
	var plan Plan
	if !plan.Empty() {
		t.Fatal("expected empty plan")
	}
}

func TestMigrationPlanNotEmptyWithPackages(t *testing.T) {
	plan := Plan{ToInstall: []string{"wget", "jq"}, Dependencies: []string{"openssl"}}
	if plan.Empty() {
		t.Fatal("expected non-empty plan")
	}
}

func TestPlanSkipsAlreadyInstalled(t *testing.T) {
	in := newTestInstaller(t, "jq", "1.7.1", "jq-binary")

	ctx := context.Background()
	installPlan, err := in.Plan(ctx, []string{"jq"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := in.Execute(ctx, installPlan, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cellar := t.TempDir()
	writeTab(t, filepath.Join(cellar, "Cellar", "jq", "1.7.1"), `{
		"homebrew_version": "4.0.0",
		"installed_on_request": true,
		"source": {"tap": "homebrew/core"}
	}`)

	m := NewMigrator(in, cellar)
	plan, err := m.Plan(nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
	if len(plan.AlreadyInstalled) != 1 || plan.AlreadyInstalled[0] != "jq" {
		t.Fatalf("already_installed: got %+v", plan.AlreadyInstalled)
	}
}

func TestPlanFlagsCustomTapAsIncompatible(t *testing.T) {
	in := newTestInstaller(t, "jq", "1.7.1", "jq-binary")

	cellar := t.TempDir()
	writeTab(t, filepath.Join(cellar, "Cellar", "weird-tool", "1.0"), `{
		"homebrew_version": "4.0.0",
		"installed_on_request": true,
		"source": {"tap": "user/custom"}
	}`)

	m := NewMigrator(in, cellar)
	plan, err := m.Plan(nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Incompatible) != 1 || plan.Incompatible[0].Reason != RequiresTap {
		t.Fatalf("got %+v", plan.Incompatible)
	}
	if plan.Incompatible[0].Tap != "user/custom" {
		t.Fatalf("got %+v", plan.Incompatible[0])
	}
}

func TestExecuteInstallsPlannedFormulas(t *testing.T) {
	in := newTestInstaller(t, "jq", "1.7.1", "jq-binary")

	cellar := t.TempDir()
	writeTab(t, filepath.Join(cellar, "Cellar", "jq", "1.7.1"), `{
		"homebrew_version": "4.0.0",
		"installed_on_request": true,
		"source": {"tap": "homebrew/core"}
	}`)

	m := NewMigrator(in, cellar)
	plan, err := m.Plan(nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Empty() {
		t.Fatalf("expected jq to be planned, got %+v", plan)
	}

	result := m.Execute(context.Background(), plan)
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failed)
	}
	if len(result.Installed) != 1 || result.Installed[0] != "jq" {
		t.Fatalf("got %+v", result.Installed)
	}
}
