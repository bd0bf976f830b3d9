package query

import (
	"fmt"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
	"github.com/corvusdb/corvus/pkg/keystring"
)

// Interval is one closed/open value range over a single index field.
type Interval struct {
	Start          document.Value
	End            document.Value
	StartInclusive bool
	EndInclusive   bool
}

// PointInterval returns the degenerate interval [v, v].
func PointInterval(v document.Value) Interval {
	return Interval{Start: v, End: v, StartInclusive: true, EndInclusive: true}
}

// FullInterval covers every value of a field.
func FullInterval() Interval {
	return Interval{
		Start:          document.MinKey(),
		End:            document.MaxKey(),
		StartInclusive: true,
		EndInclusive:   true,
	}
}

// IsPoint reports whether the interval matches exactly one value.
func (iv Interval) IsPoint() bool {
	return iv.StartInclusive && iv.EndInclusive && iv.Start.Compare(iv.End) == 0
}

// IsFull reports whether the interval covers the whole field.
func (iv Interval) IsFull() bool {
	return iv.Start.Kind() == document.KindMinKey && iv.End.Kind() == document.KindMaxKey
}

func (iv Interval) String() string {
	open, close := "[", "]"
	if !iv.StartInclusive {
		open = "("
	}
	if !iv.EndInclusive {
		close = ")"
	}
	return fmt.Sprintf("%s%s, %s%s", open, iv.Start, iv.End, close)
}

// OrderedIntervalList is the disjoint, ascending set of intervals scanned
// for one index field.
type OrderedIntervalList struct {
	Field     string
	Intervals []Interval
}

// IndexBounds is the per-field interval structure of one index scan.
type IndexBounds struct {
	Fields []OrderedIntervalList
}

// IsSinglePointPrefix reports how many leading fields are single points,
// which determines how much of the bounds collapses into one key range.
func (b *IndexBounds) IsSinglePointPrefix() int {
	n := 0
	for _, f := range b.Fields {
		if len(f.Intervals) == 1 && f.Intervals[0].IsPoint() {
			n++
			continue
		}
		break
	}
	return n
}

func (b *IndexBounds) String() string {
	parts := make([]string, len(b.Fields))
	for i, f := range b.Fields {
		ivs := make([]string, len(f.Intervals))
		for j, iv := range f.Intervals {
			ivs[j] = iv.String()
		}
		parts[i] = f.Field + ": " + strings.Join(ivs, " ∪ ")
	}
	return strings.Join(parts, ", ")
}

// intervalForLeaf translates one tagged leaf into intervals over its field.
func intervalForLeaf(n *Predicate) []Interval {
	switch n.Kind {
	case PredicateCompare:
		switch n.Op {
		case OpEq:
			return []Interval{PointInterval(n.Value)}
		case OpLt:
			return []Interval{{Start: document.MinKey(), End: n.Value, StartInclusive: true}}
		case OpLte:
			return []Interval{{Start: document.MinKey(), End: n.Value, StartInclusive: true, EndInclusive: true}}
		case OpGt:
			return []Interval{{Start: n.Value, End: document.MaxKey(), EndInclusive: true}}
		case OpGte:
			return []Interval{{Start: n.Value, End: document.MaxKey(), StartInclusive: true, EndInclusive: true}}
		}
	case PredicateIn:
		out := make([]Interval, 0, len(n.In))
		for _, v := range n.In {
			out = append(out, PointInterval(v))
		}
		sortIntervals(out)
		return out
	case PredicateExists:
		return []Interval{FullInterval()}
	}
	return nil
}

func sortIntervals(ivs []Interval) {
	for i := 1; i < len(ivs); i++ {
		for j := i; j > 0 && ivs[j].Start.Compare(ivs[j-1].Start) < 0; j-- {
			ivs[j], ivs[j-1] = ivs[j-1], ivs[j]
		}
	}
}

// intersectIntervals narrows a to b, used when several leaves constrain the
// same field of one index scan.
func intersectIntervals(a, b []Interval) []Interval {
	var out []Interval
	for _, x := range a {
		for _, y := range b {
			iv, ok := intersect(x, y)
			if ok {
				out = append(out, iv)
			}
		}
	}
	sortIntervals(out)
	return out
}

func intersect(x, y Interval) (Interval, bool) {
	start, startInc := x.Start, x.StartInclusive
	if c := y.Start.Compare(start); c > 0 || (c == 0 && !y.StartInclusive) {
		start, startInc = y.Start, y.StartInclusive
	}
	end, endInc := x.End, x.EndInclusive
	if c := y.End.Compare(end); c < 0 || (c == 0 && !y.EndInclusive) {
		end, endInc = y.End, y.EndInclusive
	}
	c := start.Compare(end)
	if c > 0 || (c == 0 && !(startInc && endInc)) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end, StartInclusive: startInc, EndInclusive: endInc}, true
}

// buildBounds assembles IndexBounds for one index from the leaves assigned
// to it. Fields with no assigned leaf get the full interval; fields after
// the first non-point interval also stay full, since a range breaks the
// prefix that later fields could constrain.
func buildBounds(e *index.IndexEntry, leaves []*Predicate) *IndexBounds {
	perField := map[string][]Interval{}
	for _, n := range leaves {
		ivs := intervalForLeaf(n)
		if ivs == nil {
			continue
		}
		if existing, ok := perField[n.Path]; ok {
			perField[n.Path] = intersectIntervals(existing, ivs)
		} else {
			perField[n.Path] = ivs
		}
	}

	bounds := &IndexBounds{}
	rangeSeen := false
	for _, f := range e.Fields() {
		ivs, ok := perField[f]
		if !ok || rangeSeen || len(ivs) == 0 {
			bounds.Fields = append(bounds.Fields, OrderedIntervalList{
				Field:     f,
				Intervals: []Interval{FullInterval()},
			})
			if !ok || len(ivs) == 0 {
				rangeSeen = true
			}
			continue
		}
		bounds.Fields = append(bounds.Fields, OrderedIntervalList{Field: f, Intervals: ivs})
		if len(ivs) != 1 || !ivs[0].IsPoint() {
			rangeSeen = true
		}
	}
	return bounds
}

// KeyRange is the encoded [Start, End) scan range of one contiguous bounds
// region, ready for the ordered store.
type KeyRange struct {
	Start []byte
	End   []byte
}

// EncodeKeyRanges lowers bounds to encoded key ranges under the index's
// ordering. Point prefixes combine with the next field's intervals; deeper
// combinations fall back to one range per leading interval with trailing
// fields unconstrained.
func (b *IndexBounds) EncodeKeyRanges(ordering keystring.Ordering) []KeyRange {
	prefix := []document.Value{}
	n := b.IsSinglePointPrefix()
	for i := 0; i < n; i++ {
		prefix = append(prefix, b.Fields[i].Intervals[0].Start)
	}
	if n == len(b.Fields) {
		return []KeyRange{encodeRange(prefix, Interval{}, ordering, true)}
	}

	var out []KeyRange
	for _, iv := range b.Fields[n].Intervals {
		out = append(out, encodeRange(prefix, iv, ordering, false))
	}
	return out
}

func encodeRange(prefix []document.Value, iv Interval, ordering keystring.Ordering, pointOnly bool) KeyRange {
	startB := keystring.NewBuilder(ordering)
	endB := keystring.NewBuilder(ordering)
	for _, v := range prefix {
		startB.AppendValue(v)
		endB.AppendValue(v)
	}
	if pointOnly {
		startB.AppendDiscriminator(keystring.ExclusiveBefore)
		endB.AppendDiscriminator(keystring.ExclusiveAfter)
		return KeyRange{Start: startB.Build().Bytes(), End: endB.Build().Bytes()}
	}

	startB.AppendValue(iv.Start)
	if iv.StartInclusive {
		startB.AppendDiscriminator(keystring.ExclusiveBefore)
	} else {
		startB.AppendDiscriminator(keystring.ExclusiveAfter)
	}
	endB.AppendValue(iv.End)
	if iv.EndInclusive {
		endB.AppendDiscriminator(keystring.ExclusiveAfter)
	} else {
		endB.AppendDiscriminator(keystring.ExclusiveBefore)
	}
	return KeyRange{Start: startB.Build().Bytes(), End: endB.Build().Bytes()}
}
