package text

import "testing"

func TestIndexSearch(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, "coffee roasting at home")
	idx.Add(2, "tea ceremony traditions")
	idx.Add(3, "coffee brewing methods and coffee beans")

	results := idx.Search("coffee")
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	// Record 3 mentions coffee twice and ranks first.
	if results[0].RecordID != 3 {
		t.Errorf("Expected record 3 first, got %d", results[0].RecordID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("Expected descending scores, got %f then %f",
			results[0].Score, results[1].Score)
	}
}

func TestIndexSearchMultipleTerms(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, "coffee roasting")
	idx.Add(2, "tea brewing")
	idx.Add(3, "wine tasting")

	// Any-term match, like $text.
	results := idx.Search("coffee tea")
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
}

func TestIndexSearchNoMatch(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, "coffee roasting")

	if results := idx.Search("chocolate"); results != nil {
		t.Errorf("Expected no results, got %v", results)
	}
	if results := idx.Search("the and of"); results != nil {
		t.Errorf("Expected no results for a stop-word query, got %v", results)
	}
}

func TestIndexSearchStemmedMatch(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, "running shoes")

	results := idx.Search("runs")
	if len(results) != 1 {
		t.Fatalf("Expected a stemmed match, got %d results", len(results))
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, "coffee roasting")
	idx.Add(2, "coffee brewing")

	idx.Remove(1)
	if idx.Len() != 1 {
		t.Errorf("Expected 1 record, got %d", idx.Len())
	}
	results := idx.Search("coffee")
	if len(results) != 1 || results[0].RecordID != 2 {
		t.Errorf("Expected only record 2, got %v", results)
	}

	// Removing the last holder of a token drops the token.
	idx.Remove(2)
	if idx.Terms() != 0 {
		t.Errorf("Expected no terms left, got %d", idx.Terms())
	}
	idx.Remove(2) // second remove is a no-op
}

func TestIndexReAddReplaces(t *testing.T) {
	idx := NewIndex()
	idx.Add(1, "coffee roasting")
	idx.Add(1, "tea ceremony")

	if idx.Len() != 1 {
		t.Errorf("Expected 1 record after re-add, got %d", idx.Len())
	}
	if results := idx.Search("coffee"); results != nil {
		t.Errorf("Expected old text gone, got %v", results)
	}
	if results := idx.Search("tea"); len(results) != 1 {
		t.Errorf("Expected new text indexed, got %v", results)
	}
}
