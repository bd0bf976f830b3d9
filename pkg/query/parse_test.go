package query

import (
	"errors"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
)

func TestParseFilterEquality(t *testing.T) {
	p, err := ParseFilter(document.D("city", document.String("brno")))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateCompare || p.Op != OpEq || p.Path != "city" {
		t.Errorf("Expected city $eq leaf, got %s", p)
	}
}

func TestParseFilterEmpty(t *testing.T) {
	p, err := ParseFilter(nil)
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p != nil {
		t.Errorf("Expected nil predicate for empty filter, got %s", p)
	}
	p, err = ParseFilter(document.NewDocument())
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p != nil {
		t.Errorf("Expected nil predicate for empty document, got %s", p)
	}
}

func TestParseFilterOperatorDocument(t *testing.T) {
	p, err := ParseFilter(document.D(
		"age", document.Object(document.D(
			"$gte", document.Int64(18),
			"$lt", document.Int64(65),
		)),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateAnd || len(p.Children) != 2 {
		t.Fatalf("Expected a 2-way conjunction, got %s", p)
	}
	if p.Children[0].Op != OpGte || p.Children[1].Op != OpLt {
		t.Errorf("Expected $gte and $lt leaves, got %s", p)
	}
}

func TestParseFilterImplicitAnd(t *testing.T) {
	p, err := ParseFilter(document.D(
		"city", document.String("brno"),
		"age", document.Int64(30),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateAnd || len(p.Children) != 2 {
		t.Fatalf("Expected a 2-way conjunction, got %s", p)
	}
}

func TestParseFilterOr(t *testing.T) {
	p, err := ParseFilter(document.D(
		"$or", document.Array([]document.Value{
			document.Object(document.D("city", document.String("brno"))),
			document.Object(document.D("city", document.String("prague"))),
		}),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateOr || len(p.Children) != 2 {
		t.Errorf("Expected a 2-way disjunction, got %s", p)
	}
}

func TestParseFilterIn(t *testing.T) {
	p, err := ParseFilter(document.D(
		"city", document.Object(document.D(
			"$in", document.Array([]document.Value{
				document.String("brno"), document.String("prague"),
			}),
		)),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateIn || len(p.In) != 2 {
		t.Errorf("Expected an $in leaf with 2 values, got %s", p)
	}
}

func TestParseFilterExists(t *testing.T) {
	p, err := ParseFilter(document.D(
		"nickname", document.Object(document.D("$exists", document.Bool(true))),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateExists || p.Path != "nickname" {
		t.Errorf("Expected an $exists leaf, got %s", p)
	}

	_, err = ParseFilter(document.D(
		"nickname", document.Object(document.D("$exists", document.Bool(false))),
	))
	if !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter for $exists false, got %v", err)
	}
}

func TestParseFilterText(t *testing.T) {
	p, err := ParseFilter(document.D(
		"$text", document.Object(document.D("$search", document.String("coffee"))),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateText || p.Search != "coffee" {
		t.Errorf("Expected a $text leaf, got %s", p)
	}
}

func TestParseFilterEmbeddedDocumentIsEquality(t *testing.T) {
	p, err := ParseFilter(document.D(
		"address", document.Object(document.D("city", document.String("brno"))),
	))
	if err != nil {
		t.Fatalf("Failed to parse filter: %v", err)
	}
	if p.Kind != PredicateCompare || p.Op != OpEq {
		t.Errorf("Expected a literal equality on the embedded document, got %s", p)
	}
}

func TestParseFilterRejectsUnknownOperator(t *testing.T) {
	_, err := ParseFilter(document.D(
		"age", document.Object(document.D("$regex", document.String("a.*"))),
	))
	if !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter, got %v", err)
	}
	_, err = ParseFilter(document.D("$nor", document.Array(nil)))
	if !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter for $nor, got %v", err)
	}
}

func TestParseFilterRejectsRegexValue(t *testing.T) {
	// A decoded {"$regex": ...} arrives here as a regex value, not an
	// operator document.
	_, err := ParseFilter(document.D("age", document.NewRegex("a.*", "")))
	if !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter for regex equality, got %v", err)
	}
}
