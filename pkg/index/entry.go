// Package index describes the indexes available to the query planner and
// generates the ordered keys that index maintenance writes to storage.
//
// The planner consumes indexes through a CatalogView, a point-in-time
// snapshot of IndexEntry metadata. Entries are plain data; nothing here
// reaches into storage.
package index

import (
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/keystring"
)

// IndexType represents the type of index
type IndexType int

const (
	IndexTypeBTree IndexType = iota
	IndexTypeHashed
	IndexTypeText
	IndexTypeWildcard
	IndexType2D       // 2d planar geospatial index
	IndexType2DSphere // 2dsphere spherical geospatial index
	IndexTypeColumnar // column-store index
)

func (t IndexType) String() string {
	switch t {
	case IndexTypeBTree:
		return "btree"
	case IndexTypeHashed:
		return "hashed"
	case IndexTypeText:
		return "text"
	case IndexTypeWildcard:
		return "wildcard"
	case IndexType2D:
		return "2d"
	case IndexType2DSphere:
		return "2dsphere"
	case IndexTypeColumnar:
		return "columnar"
	}
	return "unknown"
}

// WildcardFieldName is the key pattern field that makes an index a wildcard
// index over all document paths.
const WildcardFieldName = "$**"

// IndexEntry describes one index to the planner: its key pattern, type and
// the metadata that gates whether a predicate can use it. Entries are
// immutable once published in a CatalogView.
type IndexEntry struct {
	Name       string
	KeyPattern *document.Document
	Type       IndexType
	Unique     bool
	Sparse     bool

	// Multikey is set when any indexed field has ever held an array.
	// MultikeyPaths, when known, lists the specific dotted paths.
	Multikey      bool
	MultikeyPaths []string

	// Collation is the collation locale, empty for the simple binary
	// collation. An index with a non-simple collation can only serve
	// predicates planned under the same collation.
	Collation string

	// PartialFilter restricts the documents present in the index; nil means
	// the index is complete.
	PartialFilter *document.Document

	// WildcardProjection limits the paths a wildcard index covers. Fields
	// mapped to a falsy value are excluded, truthy included; nil covers all.
	WildcardProjection *document.Document

	// WildcardFieldRef is set on entries produced by expanding a wildcard
	// index against a query: the concrete path standing in for $**.
	WildcardFieldRef string
}

// Fields returns the indexed field paths in key-pattern order.
func (e *IndexEntry) Fields() []string {
	return e.KeyPattern.Keys()
}

// Ordering returns the per-field ascending/descending ordering of the key
// pattern, for encoding bounds against this index.
func (e *IndexEntry) Ordering() keystring.Ordering {
	return keystring.OrderingFromKeyPattern(e.KeyPattern)
}

// PositionOf returns the key-pattern position of a field path, or -1.
func (e *IndexEntry) PositionOf(path string) int {
	for i, f := range e.KeyPattern.Keys() {
		if f == path {
			return i
		}
	}
	return -1
}

// IsWildcard reports whether this is a wildcard index (either the full $**
// form or a compound pattern containing a $** component).
func (e *IndexEntry) IsWildcard() bool {
	if e.Type == IndexTypeWildcard {
		return true
	}
	for _, f := range e.KeyPattern.Keys() {
		if f == WildcardFieldName || strings.HasSuffix(f, "."+WildcardFieldName) {
			return true
		}
	}
	return false
}

// CoversPath reports whether a wildcard index's projection admits the given
// dotted path.
func (e *IndexEntry) CoversPath(path string) bool {
	if e.WildcardProjection == nil || e.WildcardProjection.Len() == 0 {
		return true
	}
	include := false
	for _, f := range e.WildcardProjection.Keys() {
		v, _ := e.WildcardProjection.GetValue(f)
		truthy := isTruthy(v)
		if truthy {
			include = true
		}
		if f == path || strings.HasPrefix(path, f+".") || strings.HasPrefix(f, path+".") {
			return truthy
		}
	}
	// Exclusion projections admit everything not named; inclusion
	// projections admit only what is named.
	return !include
}

func isTruthy(v document.Value) bool {
	if d, ok := v.AsDouble(); ok {
		return d != 0
	}
	return v.Kind() == document.KindBool && v.Bool()
}

func (e *IndexEntry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	sb.WriteString(" ")
	sb.WriteString(e.KeyPattern.String())
	if e.Type != IndexTypeBTree {
		sb.WriteString(" (" + e.Type.String() + ")")
	}
	return sb.String()
}
