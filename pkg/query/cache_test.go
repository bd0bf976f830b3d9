package query

import (
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
)

func TestCacheKeySameShapeDifferentConstants(t *testing.T) {
	q1 := &CanonicalQuery{Filter: And(
		Eq("a", document.Int32(1)),
		Compare("b", OpGt, document.Int32(5)),
	)}
	q2 := &CanonicalQuery{Filter: And(
		Eq("a", document.Int32(999)),
		Compare("b", OpGt, document.String("x")),
	)}
	if CacheKey(q1) != CacheKey(q2) {
		t.Errorf("Expected equal keys, got %q vs %q", CacheKey(q1), CacheKey(q2))
	}
}

func TestCacheKeyDistinguishesSortAndProjection(t *testing.T) {
	base := &CanonicalQuery{Filter: Eq("a", document.Int32(1))}
	sorted := &CanonicalQuery{
		Filter: Eq("a", document.Int32(1)),
		Sort:   document.D("a", document.Int32(1)),
	}
	projected := &CanonicalQuery{
		Filter:     Eq("a", document.Int32(1)),
		Projection: []string{"a"},
	}
	if CacheKey(base) == CacheKey(sorted) {
		t.Error("Expected sort to change the cache key")
	}
	if CacheKey(base) == CacheKey(projected) {
		t.Error("Expected projection to change the cache key")
	}
}

func TestPlanCachePutGetRemove(t *testing.T) {
	pc := NewPlanCache(0)
	data := &SolutionCacheData{Type: CacheEntryWholeIxscan, IndexName: "a_1", Direction: 1}

	pc.Put("k", data)
	got, ok := pc.Get("k")
	if !ok || got.IndexName != "a_1" {
		t.Fatalf("Expected cached entry for a_1, got %+v (ok=%v)", got, ok)
	}
	if pc.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", pc.Len())
	}

	pc.Remove("k")
	if _, ok := pc.Get("k"); ok {
		t.Error("Expected entry removed")
	}
}

func TestPlanCacheIgnoresNilData(t *testing.T) {
	pc := NewPlanCache(0)
	pc.Put("k", nil)
	if _, ok := pc.Get("k"); ok {
		t.Error("Expected nil cache data to be dropped")
	}
}

func TestPlanCacheClear(t *testing.T) {
	pc := NewPlanCache(0)
	pc.Put("k1", &SolutionCacheData{Type: CacheEntryCollScan, Direction: 1})
	pc.Put("k2", &SolutionCacheData{Type: CacheEntryCollScan, Direction: 1})
	pc.Clear()
	if pc.Len() != 0 {
		t.Errorf("Expected empty cache after clear, got %d entries", pc.Len())
	}
}

func TestGeoPlansNeverCached(t *testing.T) {
	geo := &index.IndexEntry{
		Name:       "loc_2dsphere",
		KeyPattern: document.D("loc", document.String("2dsphere")),
		Type:       index.IndexType2DSphere,
	}
	indices := candidateIndexes{geo}
	leaf := GeoNear("loc", true)
	a := Assignment{leaf: &IndexTag{Index: 0}}

	if data := cacheDataFromAssignment(leaf, indices, a); data != nil {
		t.Errorf("Expected nil cache data for a geo plan, got %+v", data)
	}
}
