package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zerobrew/zb/pkg/catalog"
	"github.com/zerobrew/zb/pkg/store"
)

// Collector periodically samples the store and catalog to keep the gauge
// metrics (store size, entry count, installed package count) current
// between installs, since those three only change when an install,
// uninstall, or GC mutates the on-disk layout.
type Collector struct {
	store   *store.Store
	catalog *catalog.Catalog
	stopCh  chan struct{}
}

// NewCollector creates a collector over store and catalog.
func NewCollector(st *store.Store, cat *catalog.Catalog) *Collector {
	return &Collector{store: st, catalog: cat, stopCh: make(chan struct{})}
}

// Start begins sampling on a 15s tick until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectStoreMetrics()
	c.collectCatalogMetrics()
}

func (c *Collector) collectStoreMetrics() {
	entries, err := os.ReadDir(c.store.Dir())
	if err != nil {
		return
	}

	var totalSize int64
	var count int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		count++
		totalSize += dirSize(filepath.Join(c.store.Dir(), entry.Name()))
	}

	StoreEntriesTotal.Set(float64(count))
	StoreSizeBytes.Set(float64(totalSize))
}

func (c *Collector) collectCatalogMetrics() {
	kegs, err := c.catalog.ListInstalled()
	if err != nil {
		return
	}
	InstalledPackagesTotal.Set(float64(len(kegs)))
}

func dirSize(root string) int64 {
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
