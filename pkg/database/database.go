// Package database ties the storage, index, planner and pipeline layers
// together into named collections with find, aggregate and explain entry
// points.
package database

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/corvusdb/corvus/pkg/aggregation"
	"github.com/corvusdb/corvus/pkg/query"
	"github.com/corvusdb/corvus/pkg/storage"
)

// Options configures a database and the collections it creates.
type Options struct {
	Planner      query.PlannerOptions
	Pushdown     aggregation.PushdownOptions
	PlanCacheTTL time.Duration
	StoreConfig  *storage.Config
	Logger       *slog.Logger
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		Planner:      query.DefaultPlannerOptions(),
		Pushdown:     aggregation.DefaultPushdownOptions(),
		PlanCacheTTL: 5 * time.Minute,
		StoreConfig:  storage.DefaultConfig(),
	}
}

// Database is a named set of collections.
type Database struct {
	name string
	opts Options
	log  *slog.Logger

	mu          sync.RWMutex
	collections map[string]*Collection
	closed      bool
}

// NewDatabase creates an empty database.
func NewDatabase(name string, opts Options) *Database {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Database{
		name:        name,
		opts:        opts,
		log:         log,
		collections: make(map[string]*Collection),
	}
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// CreateCollection creates a new, empty collection.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	coll, err := newCollection(name, db.opts, db.log.With("collection", name))
	if err != nil {
		return nil, err
	}
	db.collections[name] = coll
	db.log.Debug("collection created", "name", name)
	return coll, nil
}

// Collection returns an existing collection, creating it on first use.
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.RLock()
	coll, ok := db.collections[name]
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return coll, nil
	}
	coll, err := db.CreateCollection(name)
	if err != nil {
		db.mu.RLock()
		coll, ok = db.collections[name]
		db.mu.RUnlock()
		if ok {
			return coll, nil
		}
		return nil, err
	}
	return coll, nil
}

// Lookup returns an existing collection without creating it.
func (db *Database) Lookup(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	coll, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return coll, nil
}

// DropCollection removes a collection and releases its stores.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	coll, ok := db.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(db.collections, name)
	return coll.close()
}

// ListCollections returns the collection names in sorted order.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every collection.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	for _, coll := range db.collections {
		if err := coll.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.collections = nil
	return firstErr
}
