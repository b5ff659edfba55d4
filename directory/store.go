package directory

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"bcrnode/core/types"
)

var keyPrefix = []byte("bn:")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("directory: store closed")

// Store offers a concurrency-safe persistent registry of banknode entries.
type Store struct {
	mu sync.RWMutex

	db *leveldb.DB

	entries map[types.OutPoint]*types.BanknodeEntry
}

// OpenStore opens (or creates) a store backed by LevelDB at the given path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("directory: store path required")
	}
	db, err := leveldb.OpenFile(filepath.Clean(path), nil)
	if err != nil {
		return nil, fmt.Errorf("open directory store: %w", err)
	}
	store := &Store{
		db:      db,
		entries: make(map[types.OutPoint]*types.BanknodeEntry),
	}
	if err := store.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.entries = nil
	return err
}

// Get returns a copy of the entry for op.
func (s *Store) Get(op types.OutPoint) (types.BanknodeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.entries[op]
	if rec == nil {
		return types.BanknodeEntry{}, false
	}
	return *rec, true
}

// Put inserts or replaces the entry keyed by its outpoint.
func (s *Store) Put(entry types.BanknodeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(&entry)
}

// PutIfAbsent stores entry unless its outpoint is already present and
// reports whether it was stored.
func (s *Store) PutIfAbsent(entry types.BanknodeEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, ErrClosed
	}
	if s.entries[entry.OutPoint] != nil {
		return false, nil
	}
	if err := s.putLocked(&entry); err != nil {
		return false, err
	}
	return true, nil
}

// Update applies fn to the stored entry for op under the store lock and
// persists the result when fn reports a change.
func (s *Store) Update(op types.OutPoint, fn func(*types.BanknodeEntry) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, ErrClosed
	}
	rec := s.entries[op]
	if rec == nil {
		return false, fmt.Errorf("update %s: %w", op, leveldb.ErrNotFound)
	}
	next := *rec
	if !fn(&next) {
		return false, nil
	}
	next.OutPoint = op
	if err := s.putLocked(&next); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the entry for op. Deleting an unknown outpoint is a no-op
// and reports false.
func (s *Store) Delete(op types.OutPoint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, ErrClosed
	}
	if s.entries[op] == nil {
		return false, nil
	}
	if err := s.db.Delete(entryKey(op), nil); err != nil {
		return false, err
	}
	delete(s.entries, op)
	return true, nil
}

// All returns every entry ordered by outpoint.
func (s *Store) All() []types.BanknodeEntry {
	s.mu.RLock()
	out := make([]types.BanknodeEntry, 0, len(s.entries))
	for _, rec := range s.entries {
		out = append(out, *rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].OutPoint.Hash[:], out[j].OutPoint.Hash[:]); c != 0 {
			return c < 0
		}
		return out[i].OutPoint.Index < out[j].OutPoint.Index
	})
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) putLocked(rec *types.BanknodeEntry) error {
	if s.db == nil {
		return ErrClosed
	}
	blob, err := types.EncodeEntry(rec)
	if err != nil {
		return err
	}
	if err := s.db.Put(entryKey(rec.OutPoint), blob, nil); err != nil {
		return err
	}
	stored := *rec
	s.entries[rec.OutPoint] = &stored
	return nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		rec, err := types.DecodeEntry(iter.Value())
		if err != nil {
			return fmt.Errorf("decode banknode %s: %w", iter.Key(), err)
		}
		s.entries[rec.OutPoint] = rec
	}
	return iter.Error()
}

func entryKey(op types.OutPoint) []byte {
	return append(append([]byte(nil), keyPrefix...), op.String()...)
}
