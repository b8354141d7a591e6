// Package installer is the facade that ties the resolver, downloader,
// store, cellar, linker, and catalog together into the install/uninstall/gc
// operations the CLI exposes. Install and uninstall records are written only
// here: each package an install or uninstall records commits through its own
// catalog.InstallTx.
package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/zerobrew/zb/internal/config"
	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/internal/zblog"
	"github.com/zerobrew/zb/pkg/blobcache"
	"github.com/zerobrew/zb/pkg/catalog"
	"github.com/zerobrew/zb/pkg/cellar"
	"github.com/zerobrew/zb/pkg/downloader"
	"github.com/zerobrew/zb/pkg/linker"
	"github.com/zerobrew/zb/pkg/metrics"
	"github.com/zerobrew/zb/pkg/resolver"
	"github.com/zerobrew/zb/pkg/store"
	"github.com/zerobrew/zb/pkg/types"
)

// Installer orchestrates a full install/uninstall/gc cycle against a
// single catalog database and on-disk layout.
type Installer struct {
	cfg        config.Config
	resolver   *resolver.Resolver
	downloader *downloader.Downloader
	blobs      *blobcache.Cache
	store      *store.Store
	cellar     *cellar.Cellar
	linker     *linker.Linker
	catalog    *catalog.Catalog
	collector  *metrics.Collector
	now        func() int64
}

// New wires every component from cfg and opens the catalog database,
// creating the catalog, blob cache, and store if they don't already exist.
// The cellar directory is created when the first keg is materialized.
func New(cfg config.Config) (*Installer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}

	blobs, err := blobcache.New(cfg.BlobCacheDir())
	if err != nil {
		cat.Close()
		return nil, err
	}

	st, err := store.New(cfg.StoreDir())
	if err != nil {
		cat.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := resolver.NewClient(cfg.APIBaseURL, httpClient, cat)
	res := resolver.New(client, cfg.PlatformTags)

	dlOpts := []downloader.Option{
		downloader.WithConcurrency(cfg.DownloadConcurrency),
		downloader.WithHTTPClient(httpClient),
	}
	if cfg.RegistryTokenURL != "" {
		if token, err := fetchRegistryToken(httpClient, cfg.RegistryTokenURL); err == nil {
			dlOpts = append(dlOpts, downloader.WithBearerToken(token))
		} else {
			zblog.WithComponent("installer").Warn().Err(err).Msg("anonymous registry token fetch failed, downloading unauthenticated")
		}
	}
	dl := downloader.New(blobs, dlOpts...)

	cel := cellar.New(cfg.CellarDir(), cfg.PrefixPath, cellar.ExecRewriter{})
	link := linker.New(cfg.PrefixPath)

	collector := metrics.NewCollector(st, cat)
	collector.Start()

	return &Installer{
		cfg:        cfg,
		resolver:   res,
		downloader: dl,
		blobs:      blobs,
		store:      st,
		cellar:     cel,
		linker:     link,
		catalog:    cat,
		collector:  collector,
		now:        func() int64 { return time.Now().Unix() },
	}, nil
}

// fetchRegistryToken performs an anonymous OCI registry token exchange
// (the flow GHCR and most registries use for public pulls: a GET to the
// realm URL returns {"token": "..."}), used to authorize bottle downloads
// hosted behind an OCI blob endpoint.
func fetchRegistryToken(client *http.Client, tokenURL string) (string, error) {
	resp, err := client.Get(tokenURL)
	if err != nil {
		return "", zberr.NewNetworkFailure("fetching registry token", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", zberr.NewNetworkFailure(fmt.Sprintf("registry token endpoint returned HTTP %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", zberr.NewNetworkFailure("reading registry token response", err)
	}
	var doc struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", zberr.NewNetworkFailure("parsing registry token response", err)
	}
	if doc.Token != "" {
		return doc.Token, nil
	}
	return doc.AccessToken, nil
}

// Close stops the background metrics collector and releases the catalog
// database.
func (in *Installer) Close() error {
	in.collector.Stop()
	return in.catalog.Close()
}

// Plan resolves names into an ordered, bottle-selected InstallPlan without
// downloading or installing anything.
func (in *Installer) Plan(ctx context.Context, names []string) (types.InstallPlan, error) {
	timer := metrics.NewTimer()
	plan, err := in.resolver.Plan(ctx, names)
	timer.ObserveDuration(metrics.PlanDuration)
	if err == nil {
		metrics.PlanStepsTotal.Observe(float64(len(plan.Steps)))
	}
	return plan, err
}

// ExecuteResult reports how many packages an Execute call installed.
type ExecuteResult struct {
	Installed int
}

// processedPackage accumulates what Execute needs to know about one
// completed package before committing its catalog record.
type processedPackage struct {
	name        string
	version     string
	storeKey    string
	linkedPaths []string
	linkedTgts  []string
}

// Execute downloads, extracts, materializes, and (if link is true) links
// every step of plan, then commits one catalog transaction per package in
// plan order. Downloads, extraction, materialization, and linking all
// happen in completion order: as soon as one download finishes, its
// package is processed while the rest keep downloading in the background.
// Only the final catalog commit follows the plan's dependency order, so a
// crash mid-commit never records a dependent before its dependency.
func (in *Installer) Execute(ctx context.Context, plan types.InstallPlan, link bool) (ExecuteResult, error) {
	if len(plan.Steps) == 0 {
		return ExecuteResult{}, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.InstallDuration)

	log := zblog.WithComponent("installer").With().Str("plan_id", plan.ID).Logger()

	reqs := make([]downloader.Request, len(plan.Steps))
	for i, step := range plan.Steps {
		reqs[i] = downloader.Request{URL: step.Archive.URL, SHA256: step.Archive.SHA256}
	}

	results := in.downloader.FetchAll(ctx, reqs)

	completed := make([]*processedPackage, len(plan.Steps))
	var firstErr error

	for result := range results {
		i := result.Index
		if result.Err != nil {
			if firstErr == nil {
				firstErr = result.Err
			}
			continue
		}

		step := plan.Steps[i]
		log := log.With().Str("package", step.Formula.Name).Logger()

		storeEntry, err := in.extractWithRetry(ctx, result, step)
		if err != nil {
			log.Warn().Err(err).Msg("extraction failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		version := step.Formula.EffectiveVersion()
		keg, err := in.cellar.Materialize(storeEntry, step.Formula.Token(), version)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		proc := &processedPackage{name: step.Formula.Token(), version: version, storeKey: step.Archive.SHA256}
		if link {
			linked, err := in.linker.Link(keg, proc.name)
			if err != nil {
				_ = in.linker.Unlink(linked)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			proc.linkedPaths = linked
			for _, p := range linked {
				target, _ := os.Readlink(p)
				proc.linkedTgts = append(proc.linkedTgts, target)
			}
		}

		completed[i] = proc
	}

	if firstErr != nil {
		return ExecuteResult{}, firstErr
	}

	for _, proc := range completed {
		if proc == nil {
			continue
		}
		if err := in.commitInstall(proc); err != nil {
			return ExecuteResult{}, err
		}
	}

	return ExecuteResult{Installed: len(plan.Steps)}, nil
}

func (in *Installer) commitInstall(proc *processedPackage) error {
	tx, err := in.catalog.Begin()
	if err != nil {
		metrics.CatalogTxTotal.WithLabelValues("begin_failed").Inc()
		return err
	}
	defer tx.Rollback()

	if err := tx.RecordInstall(proc.name, proc.version, proc.storeKey, in.now()); err != nil {
		metrics.CatalogTxTotal.WithLabelValues("rolled_back").Inc()
		return err
	}
	for i, linked := range proc.linkedPaths {
		if err := tx.RecordLinkedFile(proc.name, proc.version, linked, proc.linkedTgts[i]); err != nil {
			metrics.CatalogTxTotal.WithLabelValues("rolled_back").Inc()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		metrics.CatalogTxTotal.WithLabelValues("rolled_back").Inc()
		return err
	}
	metrics.CatalogTxTotal.WithLabelValues("committed").Inc()
	metrics.PackagesInstalledTotal.Inc()
	return nil
}

// extractWithRetry extracts a completed download into the store, making at
// most cfg.CorruptionRetryMax extraction attempts (at least one). Whenever
// Store.Ensure reports StoreCorruption the blob is deleted and, unless that
// was the last attempt, re-downloaded — never re-extracting the same bytes,
// since a corrupt blob stays corrupt.
func (in *Installer) extractWithRetry(ctx context.Context, result downloader.Result, step types.PlanStep) (string, error) {
	log := zblog.WithComponent("installer").With().Str("package", step.Formula.Name).Logger()

	blobPath := result.Path
	var lastErr error

	attempts := in.cfg.CorruptionRetryMax
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		entry, err := in.store.Ensure(blobPath, step.Archive.SHA256)
		if err == nil {
			return entry, nil
		}
		lastErr = err
		if !zberr.Is(err, zberr.StoreCorruption) {
			return "", err
		}

		if err := in.blobs.Remove(step.Archive.SHA256); err != nil {
			return "", err
		}
		if attempt+1 >= attempts {
			break
		}

		log.Warn().Int("attempt", attempt+2).Int("max", attempts).Msg("corrupted download detected, retrying")
		metrics.StoreCorruptionRetriesTotal.Inc()
		redownloaded, err := in.downloader.Download(ctx, step.Archive.URL, step.Archive.SHA256)
		if err != nil {
			return "", err
		}
		blobPath = redownloaded
	}

	return "", fmt.Errorf("extraction failed after %d attempts: %w", attempts, lastErr)
}

// Uninstall unlinks and removes an installed package, freeing its store
// refcount. It returns a NotInstalled error if name has no catalog record.
func (in *Installer) Uninstall(name string) error {
	installed, ok, err := in.catalog.GetInstalled(name)
	if err != nil {
		return err
	}
	if !ok {
		return zberr.NewNotInstalled(name)
	}

	tx, err := in.catalog.Begin()
	if err != nil {
		return err
	}

	linked, _, err := tx.LinkedFiles(name)
	if err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.RecordUninstall(name); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := in.linker.Unlink(linked); err != nil {
		return err
	}
	if err := in.cellar.Remove(name, installed.Version); err != nil {
		return err
	}
	metrics.PackagesUninstalledTotal.Inc()
	return nil
}

// Upgrade re-plans name against the latest metadata and executes it,
// removing the old keg if the effective version changed. Upgrade handles a
// single package; a caller upgrading several calls it once per package,
// and each call returns that package's own error rather than accumulating
// across a batch.
func (in *Installer) Upgrade(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UpgradeDuration)

	old, ok, err := in.catalog.GetInstalled(name)
	if err != nil {
		return err
	}
	if !ok {
		return zberr.NewNotInstalled(name)
	}

	// A keg is immutable once materialized, so the new keg gets its own
	// directory; but the old keg's links occupy the exact prefix paths the
	// new keg needs, and the old install record's store refcount must
	// drop before the new one is recorded. Tear down the old record the
	// same way Uninstall does, then proceed as a fresh install — Execute
	// itself must stay re-entrant for the plain install path, so it can't
	// special-case "a symlink here already exists".
	tx, err := in.catalog.Begin()
	if err != nil {
		return err
	}
	oldLinks, _, err := tx.LinkedFiles(name)
	if err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.RecordUninstall(name); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if err := in.linker.Unlink(oldLinks); err != nil {
		return err
	}

	plan, err := in.Plan(ctx, []string{name})
	if err != nil {
		return err
	}
	if _, err := in.Execute(ctx, plan, true); err != nil {
		return err
	}

	var newVersion string
	for _, step := range plan.Steps {
		if step.Formula.Token() == name {
			newVersion = step.Formula.EffectiveVersion()
			break
		}
	}
	if newVersion != "" && newVersion != old.Version {
		return in.cellar.Remove(name, old.Version)
	}
	return nil
}

// GC removes every store entry with no remaining catalog refcount,
// returning the store keys it removed.
func (in *Installer) GC() ([]string, error) {
	metrics.GCRunsTotal.Inc()

	keys, err := in.catalog.GetUnreferencedStoreKeys()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, key := range keys {
		size := dirSizeOf(in.store.EntryPath(key))
		if err := in.store.Remove(key); err != nil {
			return removed, err
		}
		removed = append(removed, key)
		metrics.GCKegsRemovedTotal.Inc()
		metrics.GCBytesReclaimedTotal.Add(float64(size))
	}
	return removed, nil
}

func dirSizeOf(root string) int64 {
	var size int64
	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// IsInstalled reports whether name has a catalog record.
func (in *Installer) IsInstalled(name string) (bool, error) {
	_, ok, err := in.catalog.GetInstalled(name)
	return ok, err
}

// GetInstalled returns the catalog record for name.
func (in *Installer) GetInstalled(name string) (catalog.InstalledKeg, bool, error) {
	return in.catalog.GetInstalled(name)
}

// ListInstalled returns every installed package, ordered by name.
func (in *Installer) ListInstalled() ([]catalog.InstalledKeg, error) {
	return in.catalog.ListInstalled()
}
