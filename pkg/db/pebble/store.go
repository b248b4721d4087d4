// Package pebble implements db.KVStore on cockroachdb/pebble.
package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/mintclaw/paycore/pkg/db"
)

type Store struct {
	db     *pebble.DB
	closed atomic.Bool
}

// Open opens (creating if needed) a pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(16 * 1024 * 1024),
		MemTableSize: 8 * 1024 * 1024,
	}
	pdb, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: pdb}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (s *Store) Put(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Set(key, value, pebble.Sync)
}

func (s *Store) Delete(key []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Delete(key, pebble.Sync)
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

var _ db.KVStore = (*Store)(nil)
