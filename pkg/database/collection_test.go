package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
	"github.com/corvusdb/corvus/pkg/query"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	db := NewDatabase("test", DefaultOptions())
	t.Cleanup(func() { db.Close() })
	coll, err := db.CreateCollection("users")
	if err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	return coll
}

func seedUsers(t *testing.T, c *Collection, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		doc := document.D(
			"name", document.String(fmt.Sprintf("user%02d", i)),
			"age", document.Int64(int64(20+i%10)),
			"city", document.String([]string{"prague", "brno", "ostrava"}[i%3]),
		)
		if err := c.Insert(doc); err != nil {
			t.Fatalf("Failed to insert document %d: %v", i, err)
		}
	}
}

func TestCollectionInsertAssignsID(t *testing.T) {
	c := newTestCollection(t)

	doc := document.D("name", document.String("Ada"))
	if err := c.Insert(doc); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	id, ok := doc.GetValue("_id")
	if !ok || id.Kind() != document.KindObjectID {
		t.Errorf("Expected generated ObjectID _id, got %v", id)
	}
	if c.Count() != 1 {
		t.Errorf("Expected 1 document, got %d", c.Count())
	}
}

func TestCollectionFindCollectionScan(t *testing.T) {
	c := newTestCollection(t)
	seedUsers(t, c, 9)

	docs, err := c.Find(&query.CanonicalQuery{
		Filter: query.Eq("city", document.String("brno")),
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(docs))
	}
	for _, doc := range docs {
		if city, _ := doc.GetValue("city"); city.Str() != "brno" {
			t.Errorf("Expected city brno, got %s", city)
		}
	}
}

func TestCollectionFindUsesIndex(t *testing.T) {
	c := newTestCollection(t)
	seedUsers(t, c, 30)

	err := c.CreateIndex(&index.IndexEntry{
		Name:       "age_1",
		KeyPattern: document.D("age", document.Int32(1)),
		Type:       index.IndexTypeBTree,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	q := &query.CanonicalQuery{Filter: query.Eq("age", document.Int64(25))}
	docs, err := c.Find(q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(docs))
	}

	explain, err := c.ExplainFind(q, VerbosityExecutionStats)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	planner := explain["queryPlanner"].(map[string]interface{})
	if !planUsesStage(planner["winningPlan"].(map[string]interface{}), "IXSCAN") {
		t.Errorf("Expected winning plan to use IXSCAN: %v", planner["winningPlan"])
	}
	stats := explain["executionStats"].(map[string]interface{})
	if stats["nReturned"].(int64) != 3 {
		t.Errorf("Expected 3 returned, got %v", stats["nReturned"])
	}
	// The index narrows the scan well below the collection size.
	if stats["totalDocsExamined"].(int64) >= 30 {
		t.Errorf("Expected a narrowed scan, examined %v docs", stats["totalDocsExamined"])
	}
}

func planUsesStage(plan map[string]interface{}, stage string) bool {
	if plan["stage"] == stage {
		return true
	}
	kids, _ := plan["inputStages"].([]map[string]interface{})
	for _, kid := range kids {
		if planUsesStage(kid, stage) {
			return true
		}
	}
	return false
}

func TestCollectionFindSortSkipLimit(t *testing.T) {
	c := newTestCollection(t)
	seedUsers(t, c, 10)

	docs, err := c.Find(&query.CanonicalQuery{
		Sort:  document.D("name", document.Int32(-1)),
		Skip:  2,
		Limit: 3,
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(docs))
	}
	if name, _ := docs[0].GetValue("name"); name.Str() != "user07" {
		t.Errorf("Expected user07 first after skip 2 of a descending sort, got %s", name)
	}
}

func TestCollectionFindProjection(t *testing.T) {
	c := newTestCollection(t)
	seedUsers(t, c, 3)

	docs, err := c.Find(&query.CanonicalQuery{Projection: []string{"name"}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	for _, doc := range docs {
		if !doc.Has("name") {
			t.Error("Expected projected name field")
		}
		if doc.Has("age") || doc.Has("city") {
			t.Errorf("Expected only name, got %s", doc)
		}
	}
}

func TestCollectionDelete(t *testing.T) {
	c := newTestCollection(t)
	seedUsers(t, c, 9)

	removed, err := c.Delete(query.Eq("city", document.String("prague")))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}
	if c.Count() != 6 {
		t.Errorf("Expected 6 remaining, got %d", c.Count())
	}

	docs, err := c.Find(&query.CanonicalQuery{
		Filter: query.Eq("city", document.String("prague")),
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected no prague documents left, got %d", len(docs))
	}
}

func TestCollectionDeleteMaintainsIndex(t *testing.T) {
	c := newTestCollection(t)
	err := c.CreateIndex(&index.IndexEntry{
		Name:       "age_1",
		KeyPattern: document.D("age", document.Int32(1)),
		Type:       index.IndexTypeBTree,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	seedUsers(t, c, 10)

	if _, err := c.Delete(query.Eq("age", document.Int64(25))); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	docs, err := c.Find(&query.CanonicalQuery{Filter: query.Eq("age", document.Int64(25))})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected index scan to find nothing after delete, got %d", len(docs))
	}
}

func TestCollectionUniqueIndex(t *testing.T) {
	c := newTestCollection(t)
	err := c.CreateIndex(&index.IndexEntry{
		Name:       "email_1",
		KeyPattern: document.D("email", document.Int32(1)),
		Type:       index.IndexTypeBTree,
		Unique:     true,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	if err := c.Insert(document.D("email", document.String("a@example.com"))); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	err = c.Insert(document.D("email", document.String("a@example.com")))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if c.Count() != 1 {
		t.Errorf("Expected failed insert to store nothing, got %d documents", c.Count())
	}
}

func TestCollectionCreateIndexBackfill(t *testing.T) {
	c := newTestCollection(t)
	seedUsers(t, c, 12)

	err := c.CreateIndex(&index.IndexEntry{
		Name:       "city_1",
		KeyPattern: document.D("city", document.Int32(1)),
		Type:       index.IndexTypeBTree,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	docs, err := c.Find(&query.CanonicalQuery{
		Filter: query.Eq("city", document.String("ostrava")),
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 4 {
		t.Errorf("Expected 4 documents via backfilled index, got %d", len(docs))
	}
}

func TestCollectionCreateIndexBackfillUniqueViolation(t *testing.T) {
	c := newTestCollection(t)
	if err := c.Insert(document.D("email", document.String("a@example.com"))); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := c.Insert(document.D("email", document.String("a@example.com"))); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	err := c.CreateIndex(&index.IndexEntry{
		Name:       "email_1",
		KeyPattern: document.D("email", document.Int32(1)),
		Type:       index.IndexTypeBTree,
		Unique:     true,
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey from backfill, got %v", err)
	}
	if c.Indexes().FindByName("email_1") != nil {
		t.Error("Expected failed index build to be rolled back")
	}
}

func TestCollectionMultikeyIndex(t *testing.T) {
	c := newTestCollection(t)
	err := c.CreateIndex(&index.IndexEntry{
		Name:       "tags_1",
		KeyPattern: document.D("tags", document.Int32(1)),
		Type:       index.IndexTypeBTree,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	err = c.Insert(document.D("tags", document.Array([]document.Value{
		document.String("go"), document.String("db"),
	})))
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	// The document surfaces once, not once per element.
	docs, err := c.Find(&query.CanonicalQuery{
		Filter: query.Eq("tags", document.String("go")),
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Expected 1 document, got %d", len(docs))
	}

	entry := c.Indexes().FindByName("tags_1")
	if entry == nil || !entry.Multikey {
		t.Error("Expected index marked multikey after an array insert")
	}
}

func TestCollectionParallelArraysRejected(t *testing.T) {
	c := newTestCollection(t)
	err := c.CreateIndex(&index.IndexEntry{
		Name:       "a_1_b_1",
		KeyPattern: document.D("a", document.Int32(1), "b", document.Int32(1)),
		Type:       index.IndexTypeBTree,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	err = c.Insert(document.D(
		"a", document.Array([]document.Value{document.Int64(1)}),
		"b", document.Array([]document.Value{document.Int64(2)}),
	))
	if !errors.Is(err, ErrParallelArrays) {
		t.Errorf("Expected ErrParallelArrays, got %v", err)
	}
}

func TestCollectionDropIndex(t *testing.T) {
	c := newTestCollection(t)
	err := c.CreateIndex(&index.IndexEntry{
		Name:       "age_1",
		KeyPattern: document.D("age", document.Int32(1)),
		Type:       index.IndexTypeBTree,
	})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	if err := c.DropIndex("age_1"); err != nil {
		t.Fatalf("Failed to drop index: %v", err)
	}
	if err := c.DropIndex("age_1"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Expected ErrIndexNotFound, got %v", err)
	}

	// Queries fall back to a collection scan.
	seedUsers(t, c, 5)
	docs, err := c.Find(&query.CanonicalQuery{Filter: query.Eq("age", document.Int64(21))})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Expected 1 document, got %d", len(docs))
	}
}
