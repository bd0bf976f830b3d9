package sharding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

// ShardID identifies a shard within the cluster.
type ShardID string

// Shard describes one shard of a sharded collection.
type Shard struct {
	ID   ShardID
	Host string
	Tags map[string]string
}

// NewShard creates a shard descriptor.
func NewShard(id ShardID, host string) *Shard {
	return &Shard{ID: id, Host: host, Tags: make(map[string]string)}
}

// SetTag attaches a zone tag to the shard.
func (s *Shard) SetTag(key, value string) {
	s.Tags[key] = value
}

// Router routes documents and query filters to shards by shard key.
// Range-sharded collections route through the chunk map; hash-sharded ones
// route by key hash over the registered shards.
type Router struct {
	mu      sync.RWMutex
	pattern *KeyPattern
	shards  map[ShardID]*Shard
	order   []ShardID
	chunks  *ChunkManager
}

// NewRouter creates a router for the given shard key pattern.
func NewRouter(pattern *KeyPattern) (*Router, error) {
	if pattern == nil {
		return nil, ErrEmptyShardKey
	}
	return &Router{
		pattern: pattern,
		shards:  make(map[ShardID]*Shard),
		chunks:  NewChunkManager(pattern),
	}, nil
}

// Pattern returns the router's shard key pattern.
func (r *Router) Pattern() *KeyPattern { return r.pattern }

// Chunks returns the chunk manager for range-sharded routing.
func (r *Router) Chunks() *ChunkManager { return r.chunks }

// AddShard registers a shard.
func (r *Router) AddShard(shard *Shard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shards[shard.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateShard, shard.ID)
	}
	r.shards[shard.ID] = shard
	r.order = append(r.order, shard.ID)
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return nil
}

// RemoveShard unregisters a shard. Chunks still assigned to it must be
// moved first.
func (r *Router) RemoveShard(id ShardID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shards[id]; !ok {
		return fmt.Errorf("%w: %s", ErrShardNotFound, id)
	}
	if owned := r.chunks.ChunksForShard(id); len(owned) > 0 {
		return fmt.Errorf("shard %s still owns %d chunks", id, len(owned))
	}
	delete(r.shards, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Shard returns a registered shard by ID.
func (r *Router) Shard(id ShardID) (*Shard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shard, ok := r.shards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShardNotFound, id)
	}
	return shard, nil
}

// AllShards returns the registered shards in ID order.
func (r *Router) AllShards() []*Shard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Shard, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.shards[id])
	}
	return out
}

// Route returns the shard owning a document.
func (r *Router) Route(doc *document.Document) (*Shard, error) {
	values, err := r.pattern.Extract(doc)
	if err != nil {
		return nil, err
	}
	return r.RouteKey(values)
}

// RouteKey returns the shard owning a shard key value.
func (r *Router) RouteKey(values []document.Value) (*Shard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, ErrNoShards
	}

	if r.pattern.Hashed() {
		id := r.order[r.pattern.Hash(values)%uint64(len(r.order))]
		return r.shards[id], nil
	}

	chunk := r.chunks.FindChunk(values)
	if chunk == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoChunkForKey, r.pattern)
	}
	shard, ok := r.shards[chunk.Shard]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShardNotFound, chunk.Shard)
	}
	return shard, nil
}

// RouteQuery returns the shards a filter must run on. A filter that pins
// every shard key path with an equality targets a single shard; anything
// else broadcasts to all shards. Disjunctions always broadcast, since each
// branch may reach a different shard key value.
func (r *Router) RouteQuery(filter *query.Predicate) ([]*Shard, error) {
	values, ok := r.equalityKey(filter)
	if !ok {
		shards := r.AllShards()
		if len(shards) == 0 {
			return nil, ErrNoShards
		}
		return shards, nil
	}
	shard, err := r.RouteKey(values)
	if err != nil {
		return nil, err
	}
	return []*Shard{shard}, nil
}

// equalityKey extracts the shard key value a filter pins, if it pins all of
// it through top-level conjunctive equalities.
func (r *Router) equalityKey(filter *query.Predicate) ([]document.Value, bool) {
	if filter == nil {
		return nil, false
	}

	eq := make(map[string]document.Value)
	var collect func(p *query.Predicate) bool
	collect = func(p *query.Predicate) bool {
		switch p.Kind {
		case query.PredicateAnd:
			for _, child := range p.Children {
				if !collect(child) {
					return false
				}
			}
			return true
		case query.PredicateCompare:
			if p.Op == query.OpEq {
				eq[p.Path] = p.Value
			}
			return true
		case query.PredicateOr:
			return false
		default:
			return true
		}
	}
	if !collect(filter) {
		return nil, false
	}

	values := make([]document.Value, 0, len(r.pattern.fields))
	for _, field := range r.pattern.fields {
		v, ok := eq[field]
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
