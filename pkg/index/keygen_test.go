package index

import (
	"bytes"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/keystring"
)

func TestKeysForScalarDocument(t *testing.T) {
	e := btreeEntry("a_1_b_1", "a", document.Int32(1), "b", document.Int32(1))
	doc := document.D("a", document.Int32(5), "b", document.String("x"))

	keys, multikey, err := KeysFor(e, doc, 7)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	if multikey {
		t.Error("Expected non-multikey document")
	}
	if len(keys) != 1 {
		t.Fatalf("Expected 1 key, got %d", len(keys))
	}

	decoded, err := keystring.Decode(keys[0].Bytes(), e.Ordering(), keys[0].TypeBits())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Values) != 2 ||
		!decoded.Values[0].IdenticalTo(document.Int32(5)) ||
		!decoded.Values[1].IdenticalTo(document.String("x")) {
		t.Errorf("Unexpected decoded values %v", decoded.Values)
	}
	rid, _, err := keystring.DecodeRecordIdLongAtEnd(decoded.Remainder)
	if err != nil {
		t.Fatalf("RecordId decode failed: %v", err)
	}
	if rid != 7 {
		t.Errorf("Expected RecordId 7, got %d", rid)
	}
}

func TestKeysForArrayFanout(t *testing.T) {
	e := btreeEntry("a_1_b_1", "a", document.Int32(1), "b", document.Int32(1))
	doc := document.D(
		"a", document.Array([]document.Value{document.Int32(1), document.Int32(2)}),
		"b", document.Array([]document.Value{document.String("x"), document.String("y")}),
	)

	keys, multikey, err := KeysFor(e, doc, 1)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	if !multikey {
		t.Error("Expected multikey document")
	}
	if len(keys) != 4 {
		t.Errorf("Expected 4 fanout keys, got %d", len(keys))
	}
}

func TestKeysForMissingField(t *testing.T) {
	e := btreeEntry("a_1", "a", document.Int32(1))
	keys, _, err := KeysFor(e, document.D("b", document.Int32(1)), 3)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("Expected 1 key, got %d", len(keys))
	}
	decoded, err := keystring.Decode(keys[0].Bytes(), e.Ordering(), keys[0].TypeBits())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Values[0].Kind() != document.KindNull {
		t.Errorf("Expected missing field to index as null, got %v", decoded.Values[0])
	}
}

func TestKeysForSparseIndexSkipsMissing(t *testing.T) {
	e := btreeEntry("a_1", "a", document.Int32(1))
	e.Sparse = true
	keys, _, err := KeysFor(e, document.D("b", document.Int32(1)), 3)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys for sparse index, got %d", len(keys))
	}
}

func TestKeysForEmptyArray(t *testing.T) {
	e := btreeEntry("a_1", "a", document.Int32(1))
	doc := document.D("a", document.Array(nil))
	keys, multikey, err := KeysFor(e, doc, 3)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	if !multikey || len(keys) != 1 {
		t.Fatalf("Expected 1 multikey key, got %d (multikey=%v)", len(keys), multikey)
	}
	decoded, err := keystring.Decode(keys[0].Bytes(), e.Ordering(), keys[0].TypeBits())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Values[0].Kind() != document.KindUndefined {
		t.Errorf("Expected empty array to index as undefined, got %v", decoded.Values[0])
	}
}

func TestDescendingKeyPatternOrdering(t *testing.T) {
	e := btreeEntry("a_-1", "a", document.Int32(-1))
	low, _, err := KeysFor(e, document.D("a", document.Int32(1)), 1)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	high, _, err := KeysFor(e, document.D("a", document.Int32(2)), 1)
	if err != nil {
		t.Fatalf("KeysFor failed: %v", err)
	}
	if bytes.Compare(high[0].Bytes(), low[0].Bytes()) >= 0 {
		t.Error("Expected a:2 to sort before a:1 under a descending key pattern")
	}
}
