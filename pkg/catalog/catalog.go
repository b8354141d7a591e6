// Package catalog is the install engine's durable, transactional record of
// what's installed: one bbolt database holding the installed-keg table, the
// content-store refcounts that drive garbage collection, the prefix
// symlinks each keg owns, the configured taps, and a conditional-GET cache
// for formula API responses.
//
// Install and uninstall records go through an InstallTx so a crash
// mid-install leaves either the old state or the new state, never a
// partially recorded one. Tap and API-cache writes each run in their own
// single bbolt update.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zerobrew/zb/internal/zberr"
)

var (
	bucketInstalledKegs = []byte("installed_kegs")
	bucketStoreRefs     = []byte("store_refs")
	bucketKegFiles      = []byte("keg_files")
	bucketTaps          = []byte("taps")
	bucketAPICache      = []byte("api_cache")
)

// Catalog is a bbolt-backed handle on the install database.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, zberr.NewStoreCorruption("failed to open database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstalledKegs, bucketStoreRefs, bucketKegFiles, bucketTaps, bucketAPICache} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, zberr.NewStoreCorruption("failed to initialize schema", err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the underlying database file.
func (c *Catalog) Close() error { return c.db.Close() }

// InstalledKeg is a single installed-package record.
type InstalledKeg struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	StoreKey    string `json:"store_key"`
	InstalledAt int64  `json:"installed_at"`
}

// TapRecord is a configured tap.
type TapRecord struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	AddedAt  int64  `json:"added_at"`
	Priority int64  `json:"priority"`
}

type kegFile struct {
	LinkedPath string `json:"linked_path"`
	TargetPath string `json:"target_path"`
}

type storeRef struct {
	Refcount int64 `json:"refcount"`
}

type apiCacheEntry struct {
	ETag         string `json:"etag"`
	LastModified string `json:"last_modified"`
	Body         []byte `json:"body"`
	CachedAt     int64  `json:"cached_at"`
}

// GetInstalled returns the installed record for name, or (zero, false) if
// it isn't installed.
func (c *Catalog) GetInstalled(name string) (InstalledKeg, bool, error) {
	var keg InstalledKeg
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketInstalledKegs).Get([]byte(name))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &keg)
	})
	if err != nil {
		return InstalledKeg{}, false, zberr.NewStoreCorruption("reading installed keg", err)
	}
	return keg, found, nil
}

// ListInstalled returns every installed keg, ordered by name.
func (c *Catalog) ListInstalled() ([]InstalledKeg, error) {
	var kegs []InstalledKeg
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstalledKegs).ForEach(func(k, v []byte) error {
			var keg InstalledKeg
			if err := json.Unmarshal(v, &keg); err != nil {
				return err
			}
			kegs = append(kegs, keg)
			return nil
		})
	})
	if err != nil {
		return nil, zberr.NewStoreCorruption("listing installed kegs", err)
	}
	return kegs, nil
}

// GetStoreRefcount returns the current refcount for a store key, or 0 if
// there is no record for it.
func (c *Catalog) GetStoreRefcount(storeKey string) (int64, error) {
	var count int64
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStoreRefs).Get([]byte(storeKey))
		if v == nil {
			return nil
		}
		var ref storeRef
		if err := json.Unmarshal(v, &ref); err != nil {
			return err
		}
		count = ref.Refcount
		return nil
	})
	if err != nil {
		return 0, zberr.NewStoreCorruption("reading store refcount", err)
	}
	return count, nil
}

// GetUnreferencedStoreKeys returns every store key with refcount <= 0,
// candidates for the garbage collector to reclaim.
func (c *Catalog) GetUnreferencedStoreKeys() ([]string, error) {
	var keys []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStoreRefs).ForEach(func(k, v []byte) error {
			var ref storeRef
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			if ref.Refcount <= 0 {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, zberr.NewStoreCorruption("listing unreferenced store keys", err)
	}
	return keys, nil
}

// AddTap records a new tap, returning false if it was already present.
func (c *Catalog) AddTap(owner, repo string, now int64) (bool, error) {
	added := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaps)
		key := tapKey(owner, repo)
		if b.Get(key) != nil {
			return nil
		}
		rec := TapRecord{Owner: owner, Repo: repo, AddedAt: now}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		added = true
		return b.Put(key, data)
	})
	if err != nil {
		return false, zberr.NewStoreCorruption("adding tap", err)
	}
	return added, nil
}

// RemoveTap deletes a tap, returning false if it wasn't present.
func (c *Catalog) RemoveTap(owner, repo string) (bool, error) {
	removed := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaps)
		key := tapKey(owner, repo)
		if b.Get(key) == nil {
			return nil
		}
		removed = true
		return b.Delete(key)
	})
	if err != nil {
		return false, zberr.NewStoreCorruption("removing tap", err)
	}
	return removed, nil
}

// ListTaps returns every configured tap, highest priority first, ties
// broken by add order.
func (c *Catalog) ListTaps() ([]TapRecord, error) {
	var taps []TapRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaps).ForEach(func(k, v []byte) error {
			var rec TapRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			taps = append(taps, rec)
			return nil
		})
	})
	if err != nil {
		return nil, zberr.NewStoreCorruption("listing taps", err)
	}

	// bbolt iterates keys in byte order, not priority order; sort here.
	for i := 1; i < len(taps); i++ {
		for j := i; j > 0 && less(taps[j], taps[j-1]); j-- {
			taps[j], taps[j-1] = taps[j-1], taps[j]
		}
	}
	return taps, nil
}

func less(a, b TapRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.AddedAt < b.AddedAt
}

func tapKey(owner, repo string) []byte {
	return []byte(fmt.Sprintf("%s/%s", owner, repo))
}

// GetAPICacheEntry returns a cached API response, or (zero, false) if
// nothing is cached for key.
func (c *Catalog) GetAPICacheEntry(key string) (etag, lastModified string, body []byte, ok bool, err error) {
	e := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAPICache).Get([]byte(key))
		if v == nil {
			return nil
		}
		var entry apiCacheEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		etag, lastModified, body, ok = entry.ETag, entry.LastModified, entry.Body, true
		return nil
	})
	if e != nil {
		return "", "", nil, false, zberr.NewStoreCorruption("reading api cache entry", e)
	}
	return etag, lastModified, body, ok, nil
}

// PutAPICacheEntry stores a conditional-GET cache entry for key.
func (c *Catalog) PutAPICacheEntry(key, etag, lastModified string, body []byte, now int64) error {
	entry := apiCacheEntry{ETag: etag, LastModified: lastModified, Body: body, CachedAt: now}
	data, err := json.Marshal(entry)
	if err != nil {
		return zberr.NewStoreCorruption("encoding api cache entry", err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPICache).Put([]byte(key), data)
	})
	if err != nil {
		return zberr.NewStoreCorruption("writing api cache entry", err)
	}
	return nil
}
