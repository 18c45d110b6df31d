// Package cache persists rendered document output across restarts so the
// Initial Scan can skip rendering files whose content has not changed.
package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// cacheDirPerm is the permission mode for the cache directory.
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the cache database file.
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt database
	// lock. A second mdpreview on the same cache file fails fast instead
	// of hanging.
	cacheOpenTimeout = 5 * time.Second
)

var renderedBucket = []byte("rendered")

// Entry is the stored form of one rendered document.
type Entry struct {
	HTML     string `json:"html"`
	StoredAt int64  `json:"stored_at"`
}

// Store wraps a bbolt database of rendered output keyed by content hash.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens the cache database at path, creating it and its parent
// directory if they do not exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(renderedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored HTML for key. Unreadable entries count as misses.
func (s *Store) Get(key string) (string, bool) {
	var (
		html  string
		found bool
	)

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(renderedBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil
		}

		html, found = e.HTML, true

		return nil
	})

	return html, found
}

// Put stores html under key.
func (s *Store) Put(key, html string) error {
	data, err := json.Marshal(Entry{HTML: html, StoredAt: s.now().Unix()})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(renderedBucket).Put([]byte(key), data)
	})
}

// Retain deletes every entry whose key is not in keep and returns how
// many were removed.
func (s *Store) Retain(keep map[string]struct{}) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(renderedBucket)

		var stale [][]byte

		err := b.ForEach(func(k, _ []byte) error {
			if _, ok := keep[string(k)]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		// Deleting inside ForEach is not allowed, so collect first.
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	n := 0

	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(renderedBucket).Stats().KeyN
		return nil
	})

	return n
}
