package catalog

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/zerobrew/zb/internal/zberr"
)

// InstallTx is a single atomic unit of work against the catalog: recording
// an install, its linked files, and the store refcount bump together, or
// recording an uninstall and its refcount decrement together. Nothing is
// durable until Commit is called; an InstallTx that is never committed
// (the caller hit an error and returned early) is rolled back by Rollback,
// which callers should reach via defer immediately after Begin — Go has no
// destructors, so this replaces the original's rollback-on-drop.
type InstallTx struct {
	tx   *bolt.Tx
	done bool
}

// Begin starts a new read-write transaction.
func (c *Catalog) Begin() (*InstallTx, error) {
	tx, err := c.db.Begin(true)
	if err != nil {
		return nil, zberr.NewStoreCorruption("failed to start transaction", err)
	}
	return &InstallTx{tx: tx}, nil
}

// RecordInstall upserts the installed-keg record and bumps the store
// entry's refcount.
func (t *InstallTx) RecordInstall(name, version, storeKey string, now int64) error {
	kegsBucket := t.tx.Bucket(bucketInstalledKegs)
	keg := InstalledKeg{Name: name, Version: version, StoreKey: storeKey, InstalledAt: now}
	data, err := json.Marshal(keg)
	if err != nil {
		return zberr.NewStoreCorruption("encoding installed keg", err)
	}
	if err := kegsBucket.Put([]byte(name), data); err != nil {
		return zberr.NewStoreCorruption("recording install", err)
	}

	refsBucket := t.tx.Bucket(bucketStoreRefs)
	var ref storeRef
	if v := refsBucket.Get([]byte(storeKey)); v != nil {
		if err := json.Unmarshal(v, &ref); err != nil {
			return zberr.NewStoreCorruption("decoding store ref", err)
		}
	}
	ref.Refcount++
	data, err = json.Marshal(ref)
	if err != nil {
		return zberr.NewStoreCorruption("encoding store ref", err)
	}
	if err := refsBucket.Put([]byte(storeKey), data); err != nil {
		return zberr.NewStoreCorruption("incrementing store ref", err)
	}
	return nil
}

// RecordLinkedFile records a single symlink the Linker created for a keg,
// so Uninstall knows what to remove.
func (t *InstallTx) RecordLinkedFile(name, version, linkedPath, targetPath string) error {
	b := t.tx.Bucket(bucketKegFiles)
	key := kegFileKey(name, linkedPath)
	data, err := json.Marshal(kegFile{LinkedPath: linkedPath, TargetPath: targetPath})
	if err != nil {
		return zberr.NewStoreCorruption("encoding linked file", err)
	}
	if err := b.Put(key, data); err != nil {
		return zberr.NewStoreCorruption("recording linked file", err)
	}
	return nil
}

// LinkedFiles returns every linked-file record for an installed package.
func (t *InstallTx) LinkedFiles(name string) ([]string, []string, error) {
	b := t.tx.Bucket(bucketKegFiles)
	var linked, targets []string
	prefix := []byte(name + "\x00")
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var kf kegFile
		if err := json.Unmarshal(v, &kf); err != nil {
			return nil, nil, zberr.NewStoreCorruption("decoding linked file", err)
		}
		linked = append(linked, kf.LinkedPath)
		targets = append(targets, kf.TargetPath)
	}
	return linked, targets, nil
}

// RecordUninstall removes the installed-keg record and every linked-file
// record for name, decrements the associated store refcount, and returns
// the store key that was freed (empty if name wasn't installed).
func (t *InstallTx) RecordUninstall(name string) (string, error) {
	kegsBucket := t.tx.Bucket(bucketInstalledKegs)
	v := kegsBucket.Get([]byte(name))
	if v == nil {
		return "", nil
	}
	var keg InstalledKeg
	if err := json.Unmarshal(v, &keg); err != nil {
		return "", zberr.NewStoreCorruption("decoding installed keg", err)
	}
	if err := kegsBucket.Delete([]byte(name)); err != nil {
		return "", zberr.NewStoreCorruption("removing install record", err)
	}

	filesBucket := t.tx.Bucket(bucketKegFiles)
	prefix := []byte(name + "\x00")
	c := filesBucket.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := filesBucket.Delete(k); err != nil {
			return "", zberr.NewStoreCorruption("removing keg file records", err)
		}
	}

	refsBucket := t.tx.Bucket(bucketStoreRefs)
	if rv := refsBucket.Get([]byte(keg.StoreKey)); rv != nil {
		var ref storeRef
		if err := json.Unmarshal(rv, &ref); err != nil {
			return "", zberr.NewStoreCorruption("decoding store ref", err)
		}
		ref.Refcount--
		data, err := json.Marshal(ref)
		if err != nil {
			return "", zberr.NewStoreCorruption("encoding store ref", err)
		}
		if err := refsBucket.Put([]byte(keg.StoreKey), data); err != nil {
			return "", zberr.NewStoreCorruption("decrementing store ref", err)
		}
	}

	return keg.StoreKey, nil
}

// Commit persists the transaction.
func (t *InstallTx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return zberr.NewStoreCorruption("failed to commit transaction", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after a successful
// Commit (no-op) or multiple times.
func (t *InstallTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Rollback()
}

func kegFileKey(name, linkedPath string) []byte {
	return []byte(name + "\x00" + linkedPath)
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
