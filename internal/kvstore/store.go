// Package kvstore implements the per-project symbol database on bbolt
// (embedded B+ tree). Keys live in one flat bucket so the store behaves as
// an ordered byte-key/byte-value map. Writes are transactional: a crash
// mid-batch cannot corrupt previously committed data.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OpenMode selects the create/open behavior of Open.
type OpenMode int

const (
	// OpenDefault opens the database, creating it when missing.
	OpenDefault OpenMode = iota
	// OpenCreate creates a fresh database and fails if one already exists.
	OpenCreate
	// OpenExisting opens an existing database and fails if it is missing.
	OpenExisting
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("kvstore: key not found")

var bucketRecords = []byte("records")

// Store is one project's symbol database.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens the database directory at path (conventionally <name>.ldb).
// The bbolt file lives inside the directory so a corrupt database can be
// dropped by removing the directory.
func Open(path string, mode OpenMode) (*Store, error) {
	_, statErr := os.Stat(path)
	switch mode {
	case OpenCreate:
		if statErr == nil {
			return nil, fmt.Errorf("kvstore: %s already exists", path)
		}
	case OpenExisting:
		if statErr != nil {
			return nil, fmt.Errorf("kvstore: %s: %w", path, statErr)
		}
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("kvstore: create %s: %w", path, err)
	}

	db, err := bolt.Open(filepath.Join(path, "symbols.db"), 0600,
		&bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database directory.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the value for key, or ErrNotFound.
// Safe to call from any goroutine.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRecords).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt slices are only valid within the transaction
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	return value, err
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

// Put writes a single key. Durability follows bbolt's commit (fsync on tx).
func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(key), value)
	})
}

// Delete removes a single key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(key))
	})
}

// Destroy closes the store and removes its directory from disk.
func (s *Store) Destroy() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.path)
}
