package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("snapshot: store is closed")

// Store persists snapshot values by resource.
type Store interface {
	// Load returns the saved value for resource. ok is false when nothing
	// has been saved.
	Load(resource string) (v any, ok bool, err error)

	// Save replaces the value for resource. A nil value removes it.
	Save(resource string, v any) error

	// Close releases the store.
	Close() error
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]any)}
}

// Load implements Store.
func (s *MemoryStore) Load(resource string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := s.values[resource]
	return clone(v), ok, nil
}

// Save implements Store.
func (s *MemoryStore) Save(resource string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if v == nil {
		delete(s.values, resource)
		return nil
	}
	s.values[resource] = clone(v)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var snapshotBucket = []byte("snapshots")

// BoltStore is a Store backed by a bbolt file. Values are saved as JSON,
// one key per resource.
type BoltStore struct {
	db *bbolt.DB

	mu     sync.RWMutex
	closed bool
}

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load implements Store.
func (s *BoltStore) Load(resource string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	var (
		v  any
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(snapshotBucket).Get([]byte(resource))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction; Unmarshal copies it.
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, ok, nil
}

// Save implements Store.
func (s *BoltStore) Save(resource string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	if v == nil {
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(snapshotBucket).Delete([]byte(resource))
		})
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(resource), data)
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)
