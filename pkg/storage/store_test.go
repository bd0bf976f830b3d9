package storage

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/corvusdb/corvus/pkg/compression"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreInsertGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Insert([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	value, err := s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("Expected value1, got %s", value)
	}
}

func TestStoreInsertDuplicateKey(t *testing.T) {
	s := newTestStore(t)

	if err := s.Insert([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	err := s.Insert([]byte("key1"), []byte("value2"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	// The original value survives the failed insert.
	value, err := s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("Expected value1, got %s", value)
	}
}

func TestStorePutReplaces(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put([]byte("key1"), []byte("old")); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := s.Put([]byte("key1"), []byte("new")); err != nil {
		t.Fatalf("Failed to replace: %v", err)
	}

	value, err := s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(value) != "new" {
		t.Errorf("Expected new, got %s", value)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", s.Len())
	}
}

func TestStoreGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get([]byte("missing"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Insert([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := s.Delete([]byte("key1")); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	if _, err := s.Get([]byte("key1")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
	if err := s.Delete([]byte("key1")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound deleting twice, got %v", err)
	}
}

func insertKeys(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		if err := s.Insert(key, []byte(fmt.Sprintf("value%03d", i))); err != nil {
			t.Fatalf("Failed to insert %s: %v", key, err)
		}
	}
}

func TestStoreScanForward(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 10)

	var keys []string
	err := s.Scan([]byte("key003"), []byte("key007"), false, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// The end bound is exclusive.
	want := []string{"key003", "key004", "key005", "key006"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Expected key %s at position %d, got %s", want[i], i, keys[i])
		}
	}
}

func TestStoreScanReverse(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 10)

	var keys []string
	err := s.Scan([]byte("key003"), []byte("key007"), true, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// Same half-open range, visited in descending order.
	want := []string{"key006", "key005", "key004", "key003"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Expected key %s at position %d, got %s", want[i], i, keys[i])
		}
	}
}

func TestStoreScanUnbounded(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 5)

	count := 0
	err := s.Scan(nil, nil, false, func(key, value []byte) bool {
		count++
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 keys, got %d", count)
	}
}

func TestStoreScanEarlyStop(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 10)

	count := 0
	err := s.Scan(nil, nil, false, func(key, value []byte) bool {
		count++
		return count < 3
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected scan stopped after 3 keys, got %d", count)
	}
}

func TestStoreScanDecompressesValues(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 3)

	err := s.Scan(nil, nil, false, func(key, value []byte) bool {
		want := "value" + string(key[len(key)-3:])
		if string(value) != want {
			t.Errorf("Expected %s, got %s", want, value)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
}

func TestStoreSample(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 50)

	rnd := rand.New(rand.NewSource(42))
	values, err := s.Sample(10, rnd)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(values) != 10 {
		t.Fatalf("Expected 10 sampled values, got %d", len(values))
	}

	seen := make(map[string]bool)
	for _, v := range values {
		if seen[string(v)] {
			t.Errorf("Sampled value %s twice", v)
		}
		seen[string(v)] = true
	}
}

func TestStoreSampleSmallerThanRequest(t *testing.T) {
	s := newTestStore(t)
	insertKeys(t, s, 3)

	values, err := s.Sample(10, nil)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(values) != 3 {
		t.Errorf("Expected all 3 values, got %d", len(values))
	}
}

func TestStoreStats(t *testing.T) {
	s := newTestStore(t)

	if err := s.Insert([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if _, err := s.Get([]byte("key1")); err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if err := s.Delete([]byte("key1")); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	stats := s.Stats()
	if stats.Inserts != 1 {
		t.Errorf("Expected 1 insert, got %d", stats.Inserts)
	}
	if stats.Gets != 1 {
		t.Errorf("Expected 1 get, got %d", stats.Gets)
	}
	if stats.Deletes != 1 {
		t.Errorf("Expected 1 delete, got %d", stats.Deletes)
	}
	if stats.BytesRaw <= 0 {
		t.Error("Expected raw byte counter to advance")
	}
	if stats.BytesCompressed <= 0 {
		t.Error("Expected compressed byte counter to advance")
	}
}

func TestStoreWithoutCompression(t *testing.T) {
	s, err := NewStore(&Config{Degree: 8})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.Insert([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	value, err := s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("Expected value1, got %s", value)
	}
}

func TestStoreZstdPayloads(t *testing.T) {
	s, err := NewStore(&Config{Degree: 8, Compression: compression.ZstdConfig(3)})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.Insert([]byte("key1"), []byte("zstd compressed payload")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	value, err := s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(value) != "zstd compressed payload" {
		t.Errorf("Expected round-trip through zstd, got %s", value)
	}
}

func TestStoreClosed(t *testing.T) {
	s, err := NewStore(nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if err := s.Insert([]byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on insert, got %v", err)
	}
	if _, err := s.Get([]byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on get, got %v", err)
	}
	if err := s.Delete([]byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on delete, got %v", err)
	}
	if err := s.Scan(nil, nil, false, func(k, v []byte) bool { return true }); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on scan, got %v", err)
	}

	// Closing twice is fine.
	if err := s.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v", err)
	}
}
