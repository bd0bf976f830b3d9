package index

import (
	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/keystring"
)

// KeysFor generates the index keys a document contributes to this index: one
// ordered key per combination of array elements along the indexed paths, each
// suffixed with the document's RecordId. A missing path indexes as Null
// unless the index is sparse, in which case the document contributes nothing
// when every indexed path is missing.
//
// The second result reports whether any indexed path held an array, which
// maintenance uses to flip the entry's Multikey flag.
func KeysFor(e *IndexEntry, doc *document.Document, recordID int64) ([]keystring.Value, bool, error) {
	fields := e.Fields()
	perField := make([][]document.Value, len(fields))
	multikey := false
	missing := 0

	for i, f := range fields {
		v, ok := doc.GetPath(f)
		if !ok {
			missing++
			perField[i] = []document.Value{document.Null()}
			continue
		}
		if v.Kind() == document.KindArray {
			multikey = true
			arr := v.Array()
			if len(arr) == 0 {
				// An empty array indexes as a single undefined entry.
				perField[i] = []document.Value{document.Undefined()}
				continue
			}
			perField[i] = arr
			continue
		}
		perField[i] = []document.Value{v}
	}

	if e.Sparse && missing == len(fields) {
		return nil, false, nil
	}

	combos := cartesian(perField)
	ordering := e.Ordering()
	keys := make([]keystring.Value, 0, len(combos))
	for _, combo := range combos {
		b := keystring.NewBuilder(ordering)
		for _, v := range combo {
			b.AppendValue(v)
		}
		b.AppendRecordIdLong(recordID)
		keys = append(keys, b.Build())
	}
	return keys, multikey, nil
}

// cartesian expands per-field element lists into all combinations, preserving
// field order.
func cartesian(perField [][]document.Value) [][]document.Value {
	combos := [][]document.Value{nil}
	for _, elems := range perField {
		next := make([][]document.Value, 0, len(combos)*len(elems))
		for _, c := range combos {
			for _, e := range elems {
				combo := make([]document.Value, len(c), len(c)+1)
				copy(combo, c)
				next = append(next, append(combo, e))
			}
		}
		combos = next
	}
	return combos
}
