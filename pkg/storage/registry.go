// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const registryAPIversion = "1"

// Entry is an output that is being written.
type Entry struct {
	Path    string    `json:"path"`
	LogPath string    `json:"logPath"`
	Created time.Time `json:"created"`
}

// Registry stores the outputs that have not been finalized,
// a crash leaves their entries behind for recovery.
type Registry struct {
	db *bolt.DB
}

// OpenRegistry opens or creates the registry database.
func OpenRegistry(dbPath string) (*Registry, error) {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(dbPath, 0o600, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w: %v", err, dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(registryAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create bucket: %v, %w", registryAPIversion, err)
	}
	return &Registry{db: db}, nil
}

// Add registers an output, replacing any entry with the same path.
func (r *Registry) Add(e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(registryAPIversion)).Put([]byte(e.Path), value)
	})
}

// Remove deletes the entry of path. Removing a missing entry is not an error.
func (r *Registry) Remove(path string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(registryAPIversion)).Delete([]byte(path))
	})
}

// Get returns the entry of path.
func (r *Registry) Get(path string) (Entry, bool, error) {
	var e Entry
	var found bool
	err := r.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(registryAPIversion)).Get([]byte(path))
		if value == nil {
			return nil
		}
		found = true
		return json.Unmarshal(value, &e)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("could not unmarshal entry: %w", err)
	}
	return e, found, nil
}

// List returns all entries, oldest first.
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(registryAPIversion)).ForEach(func(_, value []byte) error {
			var e Entry
			if err := json.Unmarshal(value, &e); err != nil {
				return fmt.Errorf("could not unmarshal entry: %w", err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Created.Before(entries[j].Created)
	})
	return entries, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}
