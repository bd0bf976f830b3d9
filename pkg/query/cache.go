package query

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/corvusdb/corvus/pkg/index"
)

// CacheEntryType identifies how a cached solution is rebuilt.
type CacheEntryType int

const (
	// CacheEntryUsesTags rebuilds by re-tagging the live predicate tree
	// from the cached index tree.
	CacheEntryUsesTags CacheEntryType = iota
	// CacheEntryWholeIxscan rebuilds a whole-index scan directly.
	CacheEntryWholeIxscan
	// CacheEntryCollScan rebuilds a collection scan directly.
	CacheEntryCollScan
)

// PlanCacheIndexTree mirrors the tagged predicate tree in a catalog-
// independent form: index names and positions instead of live IndexEntry
// pointers, so entries stay valid across catalog changes and are re-resolved
// at lookup time.
type PlanCacheIndexTree struct {
	IndexName string
	Position  int
	Tagged    bool
	Children  []*PlanCacheIndexTree
}

// SolutionCacheData is the compact representation of a winning plan stored
// in the cache.
type SolutionCacheData struct {
	Type      CacheEntryType
	Tree      *PlanCacheIndexTree
	IndexName string
	Direction int
}

// cacheDataFromAssignment snapshots an assignment as a cacheable index tree.
// Plans over geo indexes are never cached (their bounds depend on query
// geometry, not shape), signalled by a nil result.
func cacheDataFromAssignment(filter *Predicate, indices candidateIndexes, a Assignment) *SolutionCacheData {
	for _, tag := range a {
		t := indices[tag.Index].Type
		if t == index.IndexType2D || t == index.IndexType2DSphere {
			return nil
		}
	}
	return &SolutionCacheData{
		Type: CacheEntryUsesTags,
		Tree: indexTreeFrom(filter, indices, a),
	}
}

func indexTreeFrom(n *Predicate, indices candidateIndexes, a Assignment) *PlanCacheIndexTree {
	node := &PlanCacheIndexTree{}
	if tag := a[n]; tag != nil {
		node.Tagged = true
		node.IndexName = indices[tag.Index].Name
		node.Position = tag.Position
	}
	for _, c := range n.Children {
		node.Children = append(node.Children, indexTreeFrom(c, indices, a))
	}
	return node
}

// resolveAssignment re-applies a cached index tree onto the live predicate
// tree, resolving index names against the current catalog snapshot. It fails
// when the tree shapes diverge or a cached index no longer exists.
func resolveAssignment(n *Predicate, tree *PlanCacheIndexTree, indices candidateIndexes, a Assignment) bool {
	if tree == nil || len(tree.Children) != len(n.Children) {
		return false
	}
	if tree.Tagged {
		found := -1
		for i, e := range indices {
			if e.Name == tree.IndexName {
				found = i
				break
			}
		}
		if found < 0 {
			return false
		}
		a[n] = &IndexTag{Index: found, Position: tree.Position, CanCombineBounds: true}
	}
	for i, c := range n.Children {
		if !resolveAssignment(c, tree.Children[i], indices, a) {
			return false
		}
	}
	return true
}

// PlanCache stores winning plans keyed by query shape. It is the one piece
// of process-wide shared state in the planner; the backing store handles
// concurrent readers and writers.
type PlanCache struct {
	store *gocache.Cache
}

// NewPlanCache creates a cache whose entries expire after ttl (0 for no
// expiry).
func NewPlanCache(ttl time.Duration) *PlanCache {
	expiry := ttl
	if expiry == 0 {
		expiry = gocache.NoExpiration
	}
	return &PlanCache{store: gocache.New(expiry, 10*time.Minute)}
}

// Get returns the cached plan for a query shape.
func (pc *PlanCache) Get(key string) (*SolutionCacheData, bool) {
	v, ok := pc.store.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*SolutionCacheData), true
}

// Put stores a winning plan. Nil cache data (uncacheable plans) is ignored.
func (pc *PlanCache) Put(key string, data *SolutionCacheData) {
	if data == nil {
		return
	}
	pc.store.SetDefault(key, data)
}

// Remove drops one query shape.
func (pc *PlanCache) Remove(key string) {
	pc.store.Delete(key)
}

// Clear drops every entry, used when the index catalog changes.
func (pc *PlanCache) Clear() {
	pc.store.Flush()
}

// Len returns the number of cached shapes.
func (pc *PlanCache) Len() int {
	return pc.store.ItemCount()
}

// Keys lists the cached query shapes, for the plan cache inspection surface.
func (pc *PlanCache) Keys() []string {
	items := pc.store.Items()
	out := make([]string, 0, len(items))
	for k := range items {
		out = append(out, k)
	}
	return out
}

// CacheKey derives the query-shape cache key: the predicate shape with
// constants elided, plus sort, projection and collation.
func CacheKey(q *CanonicalQuery) string {
	var sb strings.Builder
	sb.WriteString(q.Filter.Shape())
	if q.Sort != nil {
		sb.WriteString("|sort:")
		sb.WriteString(q.Sort.String())
	}
	if len(q.Projection) > 0 {
		sb.WriteString("|proj:")
		sb.WriteString(strings.Join(q.Projection, ","))
	}
	if q.Collation != "" {
		sb.WriteString("|coll:")
		sb.WriteString(q.Collation)
	}
	return sb.String()
}
