// Package storage implements the ordered key-value store backing collections
// and indexes: an in-memory B-tree keyed by encoded key bytes, with
// compressed document payloads.
package storage

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/corvusdb/corvus/pkg/compression"
)

// Config holds store configuration.
type Config struct {
	// Degree is the B-tree branching factor.
	Degree int
	// Compression configures payload compression; nil stores payloads raw.
	Compression *compression.Config
}

// DefaultConfig returns the default configuration: a moderately wide tree
// with snappy-compressed payloads.
func DefaultConfig() *Config {
	return &Config{
		Degree:      32,
		Compression: compression.SnappyConfig(),
	}
}

type entry struct {
	key   []byte
	value []byte
}

func entryLess(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Stats is a snapshot of the cumulative store counters.
type Stats struct {
	Inserts         int64
	Gets            int64
	Deletes         int64
	BytesRaw        int64
	BytesCompressed int64
}

type counters struct {
	inserts         atomic.Int64
	gets            atomic.Int64
	deletes         atomic.Int64
	bytesRaw        atomic.Int64
	bytesCompressed atomic.Int64
}

// Store is an ordered key-value store. Keys are opaque byte strings compared
// lexicographically, which makes encoded ordered keys scan in value order.
type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[entry]
	blob   *compression.Blob
	stats  counters
	closed bool
}

// NewStore builds an empty store.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	degree := config.Degree
	if degree < 2 {
		degree = 2
	}
	s := &Store{tree: btree.NewG(degree, entryLess)}
	if config.Compression != nil {
		blob, err := compression.NewBlob(config.Compression)
		if err != nil {
			return nil, fmt.Errorf("failed to create payload compressor: %w", err)
		}
		s.blob = blob
	}
	return s, nil
}

func (s *Store) pack(value []byte) ([]byte, error) {
	if s.blob == nil {
		return value, nil
	}
	packed, err := s.blob.Seal(value)
	if err != nil {
		return nil, err
	}
	s.stats.bytesRaw.Add(int64(len(value)))
	s.stats.bytesCompressed.Add(int64(len(packed)))
	return packed, nil
}

func (s *Store) unpack(value []byte) ([]byte, error) {
	if s.blob == nil {
		return value, nil
	}
	return s.blob.Open(value)
}

// Insert stores a new key, failing on a duplicate.
func (s *Store) Insert(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	probe := entry{key: key}
	if _, ok := s.tree.Get(probe); ok {
		return fmt.Errorf("%w: %x", ErrDuplicateKey, key)
	}
	packed, err := s.pack(value)
	if err != nil {
		return err
	}
	s.tree.ReplaceOrInsert(entry{key: append([]byte(nil), key...), value: packed})
	s.stats.inserts.Add(1)
	return nil
}

// Put stores a key, replacing any existing value.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	packed, err := s.pack(value)
	if err != nil {
		return err
	}
	s.tree.ReplaceOrInsert(entry{key: append([]byte(nil), key...), value: packed})
	s.stats.inserts.Add(1)
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.tree.Get(entry{key: key})
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrKeyNotFound, key)
	}
	s.stats.gets.Add(1)
	return s.unpack(e.value)
}

// Delete removes a key.
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tree.Delete(entry{key: key}); !ok {
		return fmt.Errorf("%w: %x", ErrKeyNotFound, key)
	}
	s.stats.deletes.Add(1)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Scan visits keys in [start, end) in order, or in reverse order when
// requested. A nil start or end leaves that side unbounded. The callback
// receives the decoded value and returns false to stop.
func (s *Store) Scan(start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	var scanErr error
	visit := func(e entry) bool {
		value, err := s.unpack(e.value)
		if err != nil {
			scanErr = err
			return false
		}
		return fn(e.key, value)
	}

	if !reverse {
		iter := func(e entry) bool {
			if end != nil && bytes.Compare(e.key, end) >= 0 {
				return false
			}
			return visit(e)
		}
		if start == nil {
			s.tree.Ascend(iter)
		} else {
			s.tree.AscendGreaterOrEqual(entry{key: start}, iter)
		}
		return scanErr
	}

	iter := func(e entry) bool {
		if start != nil && bytes.Compare(e.key, start) < 0 {
			return false
		}
		// The end bound is exclusive in both directions.
		if end != nil && bytes.Compare(e.key, end) >= 0 {
			return true
		}
		return visit(e)
	}
	if end == nil {
		s.tree.Descend(iter)
	} else {
		s.tree.DescendLessOrEqual(entry{key: end}, iter)
	}
	return scanErr
}

// Sample returns up to n values chosen uniformly without replacement, in
// arbitrary order. A nil source falls back to the global generator.
func (s *Store) Sample(n int, rnd *rand.Rand) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	intn := rand.Intn
	if rnd != nil {
		intn = rnd.Intn
	}

	// Reservoir sampling over one ordered pass.
	reservoir := make([]entry, 0, n)
	seen := 0
	s.tree.Ascend(func(e entry) bool {
		if len(reservoir) < n {
			reservoir = append(reservoir, e)
		} else if j := intn(seen + 1); j < n {
			reservoir[j] = e
		}
		seen++
		return true
	})

	out := make([][]byte, 0, len(reservoir))
	for _, e := range reservoir {
		value, err := s.unpack(e.value)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Inserts:         s.stats.inserts.Load(),
		Gets:            s.stats.gets.Load(),
		Deletes:         s.stats.deletes.Load(),
		BytesRaw:        s.stats.bytesRaw.Load(),
		BytesCompressed: s.stats.bytesCompressed.Load(),
	}
}

// Close releases the store; further operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.tree.Clear(false)
	if s.blob != nil {
		return s.blob.Close()
	}
	return nil
}
