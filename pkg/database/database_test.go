package database

import (
	"errors"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
)

func TestDatabaseCreateAndLookup(t *testing.T) {
	db := NewDatabase("app", DefaultOptions())
	defer db.Close()

	if _, err := db.CreateCollection("users"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	if _, err := db.CreateCollection("users"); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("Expected ErrCollectionExists, got %v", err)
	}

	coll, err := db.Lookup("users")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if coll.Name() != "users" {
		t.Errorf("Expected users, got %s", coll.Name())
	}

	if _, err := db.Lookup("missing"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
}

func TestDatabaseCollectionCreatesOnFirstUse(t *testing.T) {
	db := NewDatabase("app", DefaultOptions())
	defer db.Close()

	first, err := db.Collection("events")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	second, err := db.Collection("events")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	if first != second {
		t.Error("Expected the same collection on repeated access")
	}
}

func TestDatabaseDropCollection(t *testing.T) {
	db := NewDatabase("app", DefaultOptions())
	defer db.Close()

	coll, err := db.CreateCollection("tmp")
	if err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	if err := coll.Insert(document.D("x", document.Int64(1))); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	if err := db.DropCollection("tmp"); err != nil {
		t.Fatalf("Failed to drop collection: %v", err)
	}
	if err := db.DropCollection("tmp"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
}

func TestDatabaseListCollections(t *testing.T) {
	db := NewDatabase("app", DefaultOptions())
	defer db.Close()

	for _, name := range []string{"zebra", "alpha", "mid"} {
		if _, err := db.CreateCollection(name); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}

	names := db.ListCollections()
	want := []string{"alpha", "mid", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d collections, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %s at position %d, got %s", want[i], i, names[i])
		}
	}
}

func TestDatabaseClosed(t *testing.T) {
	db := NewDatabase("app", DefaultOptions())
	if _, err := db.CreateCollection("a"); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := db.CreateCollection("b"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := db.Collection("a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v", err)
	}
}
