// Package query plans access paths for single-collection queries: it rates
// predicates against available indexes, enumerates candidate index
// assignments, builds access-plan trees, and caches winning plans by query
// shape.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
)

// PredicateKind identifies a predicate tree node.
type PredicateKind int

const (
	PredicateAnd PredicateKind = iota
	PredicateOr
	PredicateCompare
	PredicateIn
	PredicateExists
	PredicateGeoNear
	PredicateText
)

// CompareOp is the comparison operator of a leaf predicate.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpLt
	OpLte
	OpGt
	OpGte
	OpNe
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "$eq"
	case OpLt:
		return "$lt"
	case OpLte:
		return "$lte"
	case OpGt:
		return "$gt"
	case OpGte:
		return "$gte"
	case OpNe:
		return "$ne"
	}
	return "?"
}

// Predicate is one node of a predicate tree. Internal nodes (And/Or) own
// their children; leaves carry a dotted path plus operator-specific data.
// Planning annotations are never stored on the node itself; they live in a
// per-attempt TagMap keyed by node identity.
type Predicate struct {
	Kind     PredicateKind
	Children []*Predicate

	// Leaf data
	Path  string
	Op    CompareOp
	Value document.Value
	In    []document.Value

	// Text leaf data
	Search string

	// GeoNear leaf data. Near/MaxDistance/DistanceField are filled when the
	// leaf is lowered from a $geoNear stage; a bare $near filter leaves them
	// zero.
	Spherical     bool
	Near          [2]float64
	MaxDistance   float64
	DistanceField string
}

// And builds a conjunction. A single child collapses to itself.
func And(children ...*Predicate) *Predicate {
	if len(children) == 1 {
		return children[0]
	}
	return &Predicate{Kind: PredicateAnd, Children: children}
}

// Or builds a disjunction. A single child collapses to itself.
func Or(children ...*Predicate) *Predicate {
	if len(children) == 1 {
		return children[0]
	}
	return &Predicate{Kind: PredicateOr, Children: children}
}

// Compare builds a comparison leaf.
func Compare(path string, op CompareOp, v document.Value) *Predicate {
	return &Predicate{Kind: PredicateCompare, Path: path, Op: op, Value: v}
}

// Eq builds an equality leaf.
func Eq(path string, v document.Value) *Predicate { return Compare(path, OpEq, v) }

// In builds an $in leaf over the given values.
func In(path string, values ...document.Value) *Predicate {
	return &Predicate{Kind: PredicateIn, Path: path, In: values}
}

// Exists builds an $exists leaf.
func Exists(path string) *Predicate {
	return &Predicate{Kind: PredicateExists, Path: path}
}

// GeoNear builds a $geoNear leaf, which requires a 2d or 2dsphere index.
func GeoNear(path string, spherical bool) *Predicate {
	return &Predicate{Kind: PredicateGeoNear, Path: path, Spherical: spherical}
}

// Text builds a $text leaf, which requires exactly one text index.
func Text(search string) *Predicate {
	return &Predicate{Kind: PredicateText, Search: search}
}

// IsLeaf reports whether the node is a leaf predicate.
func (p *Predicate) IsLeaf() bool {
	return p.Kind != PredicateAnd && p.Kind != PredicateOr
}

// Fields returns the sorted set of dotted paths the predicate references.
func (p *Predicate) Fields() []string {
	set := map[string]bool{}
	p.collectFields(set)
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p *Predicate) collectFields(set map[string]bool) {
	if p == nil {
		return
	}
	if p.IsLeaf() {
		if p.Path != "" {
			set[p.Path] = true
		}
		return
	}
	for _, c := range p.Children {
		c.collectFields(set)
	}
}

// Walk visits every node pre-order. Returning false from fn prunes the
// subtree.
func (p *Predicate) Walk(fn func(*Predicate) bool) {
	if p == nil || !fn(p) {
		return
	}
	for _, c := range p.Children {
		c.Walk(fn)
	}
}

// FirstOfKind returns the first node of the given kind in pre-order, or nil.
func (p *Predicate) FirstOfKind(kind PredicateKind) *Predicate {
	var found *Predicate
	p.Walk(func(n *Predicate) bool {
		if found != nil {
			return false
		}
		if n.Kind == kind {
			found = n
			return false
		}
		return true
	})
	return found
}

// Matches evaluates the predicate against a document. GeoNear and Text
// leaves never match here; they are satisfied by their dedicated plan
// stages.
func (p *Predicate) Matches(doc *document.Document) bool {
	if p == nil {
		return true
	}
	switch p.Kind {
	case PredicateAnd:
		for _, c := range p.Children {
			if !c.Matches(doc) {
				return false
			}
		}
		return true
	case PredicateOr:
		for _, c := range p.Children {
			if c.Matches(doc) {
				return true
			}
		}
		return len(p.Children) == 0
	case PredicateCompare:
		v, ok := doc.GetPath(p.Path)
		if !ok {
			return p.Op == OpNe
		}
		return compareMatches(v, p.Op, p.Value)
	case PredicateIn:
		v, ok := doc.GetPath(p.Path)
		if !ok {
			return false
		}
		for _, candidate := range p.In {
			if compareMatches(v, OpEq, candidate) {
				return true
			}
		}
		return false
	case PredicateExists:
		_, ok := doc.GetPath(p.Path)
		return ok
	default:
		return false
	}
}

func compareMatches(v document.Value, op CompareOp, against document.Value) bool {
	// Array fields match when any element matches, mirroring multikey index
	// semantics.
	if v.Kind() == document.KindArray && against.Kind() != document.KindArray {
		for _, elem := range v.Array() {
			if compareMatches(elem, op, against) {
				return true
			}
		}
		return false
	}
	c := v.Compare(against)
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// Shape renders a canonical representation of the predicate with constants
// elided, used as the plan cache key: two queries with the same shape can
// reuse each other's winning plan.
func (p *Predicate) Shape() string {
	if p == nil {
		return "{}"
	}
	var sb strings.Builder
	p.shape(&sb)
	return sb.String()
}

func (p *Predicate) shape(sb *strings.Builder) {
	switch p.Kind {
	case PredicateAnd, PredicateOr:
		if p.Kind == PredicateAnd {
			sb.WriteString("and(")
		} else {
			sb.WriteString("or(")
		}
		for i, c := range p.Children {
			if i > 0 {
				sb.WriteByte(',')
			}
			c.shape(sb)
		}
		sb.WriteByte(')')
	case PredicateCompare:
		fmt.Fprintf(sb, "%s %s ?", p.Path, p.Op)
	case PredicateIn:
		fmt.Fprintf(sb, "%s $in ?", p.Path)
	case PredicateExists:
		fmt.Fprintf(sb, "%s $exists", p.Path)
	case PredicateGeoNear:
		fmt.Fprintf(sb, "%s $geoNear", p.Path)
	case PredicateText:
		sb.WriteString("$text ?")
	}
}

func (p *Predicate) String() string {
	if p == nil {
		return "{}"
	}
	switch p.Kind {
	case PredicateAnd, PredicateOr:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			parts[i] = c.String()
		}
		op := " AND "
		if p.Kind == PredicateOr {
			op = " OR "
		}
		return "(" + strings.Join(parts, op) + ")"
	case PredicateCompare:
		return fmt.Sprintf("%s %s %s", p.Path, p.Op, p.Value)
	case PredicateIn:
		return fmt.Sprintf("%s $in [%d values]", p.Path, len(p.In))
	case PredicateExists:
		return p.Path + " $exists"
	case PredicateGeoNear:
		return p.Path + " $geoNear"
	case PredicateText:
		return fmt.Sprintf("$text %q", p.Search)
	}
	return "?"
}
