package aggregation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
)

// AccumulatorOp identifies a $group accumulator.
type AccumulatorOp int

const (
	AccSum AccumulatorOp = iota
	AccAvg
	AccMin
	AccMax
	AccCount
	AccFirst
	AccLast
	AccFirstN
	AccLastN
	AccPush
	AccMergeObjects
	AccTop
	AccBottom
	AccTopN
	AccBottomN
)

func (op AccumulatorOp) String() string {
	switch op {
	case AccSum:
		return "$sum"
	case AccAvg:
		return "$avg"
	case AccMin:
		return "$min"
	case AccMax:
		return "$max"
	case AccCount:
		return "$count"
	case AccFirst:
		return "$first"
	case AccLast:
		return "$last"
	case AccFirstN:
		return "$firstN"
	case AccLastN:
		return "$lastN"
	case AccPush:
		return "$push"
	case AccMergeObjects:
		return "$mergeObjects"
	case AccTop:
		return "$top"
	case AccBottom:
		return "$bottom"
	case AccTopN:
		return "$topN"
	case AccBottomN:
		return "$bottomN"
	}
	return "$unknown"
}

// orderDependent reports whether the accumulator's result depends on input
// order in a way the $sort-absorption rewrite cannot express.
func (op AccumulatorOp) orderDependent() bool {
	switch op {
	case AccFirstN, AccLastN, AccPush, AccMergeObjects:
		return true
	}
	return false
}

// sortKeyed reports whether the accumulator carries its own sort pattern.
func (op AccumulatorOp) sortKeyed() bool {
	switch op {
	case AccTop, AccBottom, AccTopN, AccBottomN:
		return true
	}
	return false
}

// AccumulatorOutput is one user-facing output of a merged sort-keyed
// accumulator.
type AccumulatorOutput struct {
	Name string
	Arg  document.Value
}

// Accumulator is one output field of a $group.
type Accumulator struct {
	Field string
	Op    AccumulatorOp
	// Arg is the accumulated expression: a "$path" string reference or a
	// constant value.
	Arg document.Value
	// N bounds the N-ary accumulators.
	N int64
	// SortPattern orders the input for the sort-keyed accumulators.
	SortPattern *document.Document
	// Outputs is set on an accumulator produced by merging several
	// sort-keyed accumulators with a common key; the accumulator then emits
	// a nested document (or per-output arrays) re-exposed by a following
	// $project.
	Outputs []AccumulatorOutput
}

// GroupStage groups documents by an id expression and computes accumulators
// per group.
type GroupStage struct {
	// idField is the dotted source path for a single-field id ("$path").
	idField string
	// idDoc maps id subfield name to source path for a compound id.
	idDoc map[string]string
	// idConst is a constant id when neither of the above applies.
	idConst document.Value

	accs []*Accumulator

	// mergedCount names merged common-sort-key accumulators uniquely.
	mergedCount int
}

// NewGroupStage builds a $group over a single "$path" id (empty path groups
// everything into one bucket under a null id).
func NewGroupStage(idField string, accs ...*Accumulator) *GroupStage {
	g := &GroupStage{idField: idField, accs: accs}
	if idField == "" {
		g.idConst = document.Null()
	}
	return g
}

// NewCompoundGroupStage builds a $group whose id is a document of renamed
// source paths.
func NewCompoundGroupStage(idDoc map[string]string, accs ...*Accumulator) *GroupStage {
	return &GroupStage{idDoc: idDoc, accs: accs}
}

func parseGroupStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: $group requires an object", ErrInvalidStage)
	}
	doc := spec.Document()
	idV, ok := doc.GetValue("_id")
	if !ok {
		return nil, fmt.Errorf("%w: $group requires _id", ErrInvalidStage)
	}
	g := &GroupStage{}
	switch {
	case isFieldRef(idV):
		g.idField = idV.Str()[1:]
	case idV.Kind() == document.KindObject:
		g.idDoc = map[string]string{}
		sub := idV.Document()
		for _, k := range sub.Keys() {
			v, _ := sub.GetValue(k)
			if !isFieldRef(v) {
				return nil, fmt.Errorf("%w: compound $group id fields must be field references", ErrInvalidStage)
			}
			g.idDoc[k] = v.Str()[1:]
		}
	default:
		g.idConst = idV
	}
	for _, field := range doc.Keys() {
		if field == "_id" {
			continue
		}
		v, _ := doc.GetValue(field)
		acc, err := parseAccumulator(field, v)
		if err != nil {
			return nil, err
		}
		g.accs = append(g.accs, acc)
	}
	return g, nil
}

func parseAccumulator(field string, spec document.Value) (*Accumulator, error) {
	if spec.Kind() != document.KindObject || spec.Document().Len() != 1 {
		return nil, fmt.Errorf("%w: accumulator %s requires a single-operator object", ErrInvalidStage, field)
	}
	op := spec.Document().Keys()[0]
	arg, _ := spec.Document().GetValue(op)
	simple := map[string]AccumulatorOp{
		"$sum": AccSum, "$avg": AccAvg, "$min": AccMin, "$max": AccMax,
		"$count": AccCount, "$first": AccFirst, "$last": AccLast,
		"$push": AccPush, "$mergeObjects": AccMergeObjects,
	}
	if kind, ok := simple[op]; ok {
		return &Accumulator{Field: field, Op: kind, Arg: arg}, nil
	}
	switch op {
	case "$firstN", "$lastN":
		kind := AccFirstN
		if op == "$lastN" {
			kind = AccLastN
		}
		input, n, err := parseNArgs(op, arg)
		if err != nil {
			return nil, err
		}
		return &Accumulator{Field: field, Op: kind, Arg: input, N: n}, nil
	case "$top", "$bottom", "$topN", "$bottomN":
		if arg.Kind() != document.KindObject {
			return nil, fmt.Errorf("%w: %s requires {sortBy, output}", ErrInvalidStage, op)
		}
		body := arg.Document()
		sortBy, ok := body.GetValue("sortBy")
		if !ok || sortBy.Kind() != document.KindObject {
			return nil, fmt.Errorf("%w: %s requires a sortBy pattern", ErrInvalidStage, op)
		}
		output, ok := body.GetValue("output")
		if !ok {
			return nil, fmt.Errorf("%w: %s requires an output expression", ErrInvalidStage, op)
		}
		acc := &Accumulator{Field: field, Arg: output, SortPattern: sortBy.Document()}
		switch op {
		case "$top":
			acc.Op = AccTop
		case "$bottom":
			acc.Op = AccBottom
		case "$topN", "$bottomN":
			acc.Op = AccTopN
			if op == "$bottomN" {
				acc.Op = AccBottomN
			}
			nv, ok := body.GetValue("n")
			if !ok {
				return nil, fmt.Errorf("%w: %s requires n", ErrInvalidStage, op)
			}
			n, ok := nv.AsInt64()
			if !ok || n <= 0 {
				return nil, fmt.Errorf("%w: %s n must be a positive integer", ErrInvalidStage, op)
			}
			acc.N = n
		}
		return acc, nil
	}
	return nil, fmt.Errorf("%w: unknown accumulator %s", ErrInvalidStage, op)
}

func parseNArgs(op string, arg document.Value) (document.Value, int64, error) {
	if arg.Kind() != document.KindObject {
		return document.Value{}, 0, fmt.Errorf("%w: %s requires {input, n}", ErrInvalidStage, op)
	}
	body := arg.Document()
	input, ok := body.GetValue("input")
	if !ok {
		return document.Value{}, 0, fmt.Errorf("%w: %s requires input", ErrInvalidStage, op)
	}
	nv, ok := body.GetValue("n")
	if !ok {
		return document.Value{}, 0, fmt.Errorf("%w: %s requires n", ErrInvalidStage, op)
	}
	n, ok := nv.AsInt64()
	if !ok || n <= 0 {
		return document.Value{}, 0, fmt.Errorf("%w: %s n must be a positive integer", ErrInvalidStage, op)
	}
	return input, n, nil
}

// Accumulators returns the stage's accumulator list.
func (s *GroupStage) Accumulators() []*Accumulator { return s.accs }

func (s *GroupStage) Kind() StageKind { return StageGroup }

func (s *GroupStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:           Blocking,
		CanSwapWithMatch: true, // via the _id renames only
	}
}

func (s *GroupStage) Distributed() *DistributedPlanLogic {
	// Grouping sees documents from every shard, so the whole stage runs at
	// the merge point.
	return &DistributedPlanLogic{
		MergingStages: []Stage{s},
		NeedsSplit:    true,
	}
}

func (s *GroupStage) EngineCompatibility() EngineCompat { return EngineFullyCompatible }

func (s *GroupStage) ModifiedPaths() ModifiedPaths {
	// Output documents are built from scratch; only the id fields survive,
	// renamed under _id.
	renames := map[string]string{}
	if s.idField != "" {
		renames["_id"] = s.idField
	}
	for sub, src := range s.idDoc {
		renames["_id."+sub] = src
	}
	return ModifiedPaths{AllPaths: true, Renames: renames}
}

func (s *GroupStage) AddDependencies(d *Deps) bool {
	if s.idField != "" {
		d.Add(s.idField)
	}
	for _, src := range s.idDoc {
		d.Add(src)
	}
	for _, a := range s.accs {
		addArgDependency(d, a.Arg)
		for _, out := range a.Outputs {
			addArgDependency(d, out.Arg)
		}
		if a.SortPattern != nil {
			for _, f := range a.SortPattern.Keys() {
				d.Add(f)
			}
		}
	}
	return true // output contains only _id and accumulator fields
}

func addArgDependency(d *Deps, arg document.Value) {
	if isFieldRef(arg) {
		d.Add(arg.Str()[1:])
	}
}

// OptimizeAt runs the $group rewrites: absorbing a preceding top-k $sort and
// merging sort-keyed accumulators that share a common key.
func (s *GroupStage) OptimizeAt(i int, p *Pipeline) bool {
	if s.tryToAbsorbTopKSort(i, p) {
		return true
	}
	return s.tryToGenerateCommonSortKey(i, p)
}

// tryToAbsorbTopKSort converts every $first/$last accumulator into $top/
// $bottom parameterized by an immediately preceding $sort's pattern, then
// deletes the $sort. Blocked by order-dependent accumulators and by
// eligibility for the transform-on-first-document rewrite, which takes
// precedence.
func (s *GroupStage) tryToAbsorbTopKSort(i int, p *Pipeline) bool {
	prev, ok := p.At(i - 1).(*SortStage)
	if !ok || prev.limit != 0 {
		return false
	}
	convertible := false
	for _, a := range s.accs {
		if a.Op.orderDependent() {
			return false
		}
		if a.Op == AccFirst || a.Op == AccLast {
			convertible = true
		}
	}
	if !convertible || s.eligibleForTransformOnFirstDocument() {
		return false
	}
	for _, a := range s.accs {
		switch a.Op {
		case AccFirst:
			a.Op = AccTop
			a.SortPattern = prev.pattern
		case AccLast:
			a.Op = AccBottom
			a.SortPattern = prev.pattern
		}
	}
	p.Erase(i - 1)
	return true
}

// eligibleForTransformOnFirstDocument reports whether the group could be
// answered by a per-key first-document transform (single-field id, all
// accumulators $first). That rewrite takes precedence over sort absorption.
func (s *GroupStage) eligibleForTransformOnFirstDocument() bool {
	if s.idField == "" || len(s.accs) == 0 {
		return false
	}
	for _, a := range s.accs {
		if a.Op != AccFirst {
			return false
		}
	}
	return true
}

// tryToGenerateCommonSortKey merges sort-keyed accumulators sharing an
// identical (operator, sort pattern, n) key into one accumulator computing
// the sort key once, and appends a $project re-exposing each original field
// from the merged accumulator's nested output.
func (s *GroupStage) tryToGenerateCommonSortKey(i int, p *Pipeline) bool {
	groups := map[string][]*Accumulator{}
	var order []string
	for _, a := range s.accs {
		if !a.Op.sortKeyed() || len(a.Outputs) > 0 {
			continue
		}
		key := fmt.Sprintf("%s|%d|%s", a.Op, a.N, a.SortPattern.String())
		if len(groups[key]) == 0 {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a)
	}

	merged := false
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		m := &Accumulator{
			Field:       fmt.Sprintf("__sortKey%d", s.mergedCount),
			Op:          members[0].Op,
			N:           members[0].N,
			SortPattern: members[0].SortPattern,
		}
		s.mergedCount++
		for _, a := range members {
			m.Outputs = append(m.Outputs, AccumulatorOutput{Name: a.Field, Arg: a.Arg})
		}
		s.replaceAccumulators(members, m)
		p.Insert(i+1, s.reprojectionFor(m))
		merged = true
	}
	return merged
}

// replaceAccumulators substitutes the merged accumulator for its members,
// keeping the first member's position.
func (s *GroupStage) replaceAccumulators(members []*Accumulator, m *Accumulator) {
	drop := map[*Accumulator]bool{}
	for _, a := range members {
		drop[a] = true
	}
	out := s.accs[:0]
	placed := false
	for _, a := range s.accs {
		if drop[a] {
			if !placed {
				out = append(out, m)
				placed = true
			}
			continue
		}
		out = append(out, a)
	}
	s.accs = out
}

// reprojectionFor builds the $project that restores the user-facing fields
// of a merged accumulator, guarding each with $ifNull.
func (s *GroupStage) reprojectionFor(m *Accumulator) *ProjectStage {
	include := []string{"_id"}
	for _, a := range s.accs {
		if a != m && !strings.HasPrefix(a.Field, "__sortKey") {
			include = append(include, a.Field)
		}
	}
	nullDefault := document.Null()
	computed := make([]ComputedField, 0, len(m.Outputs))
	for _, out := range m.Outputs {
		computed = append(computed, ComputedField{
			Name:          out.Name,
			Source:        m.Field + "." + out.Name,
			IfNullDefault: &nullDefault,
		})
	}
	return NewInclusionProject(include, computed...)
}

func (s *GroupStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	type bucket struct {
		id   document.Value
		docs []*document.Document
	}
	buckets := map[string]*bucket{}
	var order []string
	for _, doc := range docs {
		id := s.idValue(doc)
		key := id.String()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{id: id}
			buckets[key] = b
			order = append(order, key)
		}
		b.docs = append(b.docs, doc)
	}

	result := make([]*document.Document, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		out := document.NewDocument()
		out.Set("_id", b.id)
		for _, a := range s.accs {
			v, err := a.compute(b.docs)
			if err != nil {
				return nil, err
			}
			out.Set(a.Field, v)
		}
		result = append(result, out)
	}
	return result, nil
}

func (s *GroupStage) idValue(doc *document.Document) document.Value {
	if s.idField != "" {
		if v, ok := doc.GetPath(s.idField); ok {
			return v
		}
		return document.Null()
	}
	if s.idDoc != nil {
		id := document.NewDocument()
		keys := make([]string, 0, len(s.idDoc))
		for k := range s.idDoc {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			if v, ok := doc.GetPath(s.idDoc[k]); ok {
				id.Set(k, v)
			} else {
				id.Set(k, document.Null())
			}
		}
		return document.Object(id)
	}
	return s.idConst
}

func evalArg(arg document.Value, doc *document.Document) (document.Value, bool) {
	if isFieldRef(arg) {
		return doc.GetPath(arg.Str()[1:])
	}
	return arg, true
}

func (a *Accumulator) compute(docs []*document.Document) (document.Value, error) {
	switch a.Op {
	case AccSum, AccAvg:
		sum := 0.0
		count := 0
		for _, doc := range docs {
			if v, ok := evalArg(a.Arg, doc); ok {
				if f, ok := v.AsDouble(); ok {
					sum += f
					count++
				}
			}
		}
		if a.Op == AccAvg {
			if count == 0 {
				return document.Null(), nil
			}
			return document.Double(sum / float64(count)), nil
		}
		return document.Double(sum), nil
	case AccCount:
		return document.Int64(int64(len(docs))), nil
	case AccMin, AccMax:
		var best document.Value
		found := false
		for _, doc := range docs {
			v, ok := evalArg(a.Arg, doc)
			if !ok {
				continue
			}
			if !found {
				best, found = v, true
				continue
			}
			c := v.Compare(best)
			if (a.Op == AccMin && c < 0) || (a.Op == AccMax && c > 0) {
				best = v
			}
		}
		if !found {
			return document.Null(), nil
		}
		return best, nil
	case AccFirst, AccLast:
		if len(docs) == 0 {
			return document.Null(), nil
		}
		doc := docs[0]
		if a.Op == AccLast {
			doc = docs[len(docs)-1]
		}
		if v, ok := evalArg(a.Arg, doc); ok {
			return v, nil
		}
		return document.Null(), nil
	case AccFirstN, AccLastN:
		n := a.N
		if n > int64(len(docs)) {
			n = int64(len(docs))
		}
		slice := docs[:n]
		if a.Op == AccLastN {
			slice = docs[int64(len(docs))-n:]
		}
		return arrayOfArgs(a.Arg, slice), nil
	case AccPush:
		return arrayOfArgs(a.Arg, docs), nil
	case AccMergeObjects:
		merged := document.NewDocument()
		for _, doc := range docs {
			v, ok := evalArg(a.Arg, doc)
			if !ok || v.Kind() != document.KindObject {
				continue
			}
			sub := v.Document()
			for _, k := range sub.Keys() {
				sv, _ := sub.GetValue(k)
				merged.Set(k, sv)
			}
		}
		return document.Object(merged), nil
	case AccTop, AccBottom:
		doc := a.selectExtreme(docs)
		if doc == nil {
			return document.Null(), nil
		}
		return a.output(doc), nil
	case AccTopN, AccBottomN:
		sorted := make([]*document.Document, len(docs))
		copy(sorted, docs)
		sort.SliceStable(sorted, func(i, j int) bool {
			return compareBySortPattern(sorted[i], sorted[j], a.SortPattern) < 0
		})
		n := a.N
		if n > int64(len(sorted)) {
			n = int64(len(sorted))
		}
		slice := sorted[:n]
		if a.Op == AccBottomN {
			slice = sorted[int64(len(sorted))-n:]
		}
		if len(a.Outputs) > 0 {
			// Merged form: one nested array per user-facing output.
			nested := document.NewDocument()
			for _, out := range a.Outputs {
				nested.Set(out.Name, arrayOfArgs(out.Arg, slice))
			}
			return document.Object(nested), nil
		}
		return arrayOfArgs(a.Arg, slice), nil
	}
	return document.Value{}, fmt.Errorf("%w: accumulator %s", ErrInvalidStage, a.Op)
}

// selectExtreme returns the document the sort pattern places first ($top) or
// last ($bottom).
func (a *Accumulator) selectExtreme(docs []*document.Document) *document.Document {
	var best *document.Document
	for _, doc := range docs {
		if best == nil {
			best = doc
			continue
		}
		c := compareBySortPattern(doc, best, a.SortPattern)
		if (a.Op == AccTop && c < 0) || (a.Op == AccBottom && c >= 0) {
			best = doc
		}
	}
	return best
}

// output evaluates a single-document result: the plain argument, or the
// nested per-output document of a merged accumulator.
func (a *Accumulator) output(doc *document.Document) document.Value {
	if len(a.Outputs) == 0 {
		if v, ok := evalArg(a.Arg, doc); ok {
			return v
		}
		return document.Null()
	}
	nested := document.NewDocument()
	for _, out := range a.Outputs {
		if v, ok := evalArg(out.Arg, doc); ok {
			nested.Set(out.Name, v)
		} else {
			nested.Set(out.Name, document.Null())
		}
	}
	return document.Object(nested)
}

func arrayOfArgs(arg document.Value, docs []*document.Document) document.Value {
	vals := make([]document.Value, 0, len(docs))
	for _, doc := range docs {
		if v, ok := evalArg(arg, doc); ok {
			vals = append(vals, v)
		}
	}
	return document.Array(vals)
}

func (s *GroupStage) Serialize() *document.Document {
	body := document.NewDocument()
	switch {
	case s.idField != "":
		body.Set("_id", document.String("$"+s.idField))
	case s.idDoc != nil:
		id := document.NewDocument()
		keys := make([]string, 0, len(s.idDoc))
		for k := range s.idDoc {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			id.Set(k, document.String("$"+s.idDoc[k]))
		}
		body.Set("_id", document.Object(id))
	default:
		body.Set("_id", s.idConst)
	}
	for _, a := range s.accs {
		spec := document.NewDocument()
		if a.Op.sortKeyed() {
			inner := document.D("sortBy", document.Object(a.SortPattern))
			if len(a.Outputs) == 0 {
				inner.Set("output", a.Arg)
			}
			if a.N > 0 {
				inner.Set("n", document.Int64(a.N))
			}
			spec.Set(a.Op.String(), document.Object(inner))
		} else {
			spec.Set(a.Op.String(), a.Arg)
		}
		body.Set(a.Field, document.Object(spec))
	}
	return document.D("$group", document.Object(body))
}
