package aggregation

import (
	"fmt"

	"github.com/corvusdb/corvus/pkg/document"
)

// MergeStage writes the pipeline's output into a target collection, matching
// existing documents on the "on" fields.
type MergeStage struct {
	into string
	on   []string
	// sharded marks the target collection as sharded, which makes the split
	// pipeline a candidate for exchange-based parallel writes.
	sharded bool

	writer MergeWriter
}

// MergeWriter receives the merged output documents. The database layer
// injects its collection writer here.
type MergeWriter interface {
	MergeDocuments(collection string, on []string, docs []*document.Document) error
}

// NewMergeStage builds a $merge into the named collection keyed on the given
// fields (defaults to _id).
func NewMergeStage(into string, on []string) *MergeStage {
	if len(on) == 0 {
		on = []string{"_id"}
	}
	return &MergeStage{into: into, on: on}
}

func parseMergeStage(spec document.Value) (Stage, error) {
	switch spec.Kind() {
	case document.KindString:
		return NewMergeStage(spec.Str(), nil), nil
	case document.KindObject:
		doc := spec.Document()
		intoV, ok := doc.GetValue("into")
		if !ok || intoV.Kind() != document.KindString {
			return nil, fmt.Errorf("%w: $merge requires an into collection", ErrInvalidStage)
		}
		var on []string
		if onV, ok := doc.GetValue("on"); ok {
			switch onV.Kind() {
			case document.KindString:
				on = []string{onV.Str()}
			case document.KindArray:
				for _, v := range onV.Array() {
					if v.Kind() != document.KindString {
						return nil, fmt.Errorf("%w: $merge on fields must be strings", ErrInvalidStage)
					}
					on = append(on, v.Str())
				}
			default:
				return nil, fmt.Errorf("%w: $merge on must be a string or array", ErrInvalidStage)
			}
		}
		return NewMergeStage(intoV.Str(), on), nil
	}
	return nil, fmt.Errorf("%w: $merge requires a string or object", ErrInvalidStage)
}

// Into returns the target collection name.
func (s *MergeStage) Into() string { return s.into }

// On returns the merge key fields.
func (s *MergeStage) On() []string { return s.on }

// Sharded reports whether the target collection is sharded.
func (s *MergeStage) Sharded() bool { return s.sharded }

// SetSharded marks the target collection as sharded.
func (s *MergeStage) SetSharded(sharded bool) { s.sharded = sharded }

// SetWriter injects the collection writer used at execution time.
func (s *MergeStage) SetWriter(w MergeWriter) { s.writer = w }

func (s *MergeStage) Kind() StageKind { return StageMerge }

func (s *MergeStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:   Streaming,
		Position: PositionLast,
		DiskUse:  DiskUseWrites,
	}
}

func (s *MergeStage) Distributed() *DistributedPlanLogic {
	// Writes are issued from the merge point; exchange eligibility may later
	// move them back onto the shards in parallel.
	return &DistributedPlanLogic{
		MergingStages: []Stage{s},
		NeedsSplit:    true,
	}
}

func (s *MergeStage) EngineCompatibility() EngineCompat { return EngineIncompatible }

func (s *MergeStage) ModifiedPaths() ModifiedPaths { return ModifiedPaths{} }

func (s *MergeStage) AddDependencies(d *Deps) bool {
	// The write needs the whole document, not just the on-fields.
	d.NeedWholeDocument = true
	return false
}

func (s *MergeStage) OptimizeAt(i int, p *Pipeline) bool { return false }

func (s *MergeStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if s.writer == nil {
		return nil, fmt.Errorf("%w: $merge has no writer attached", ErrInvalidStage)
	}
	if err := s.writer.MergeDocuments(s.into, s.on, docs); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *MergeStage) Serialize() *document.Document {
	body := document.D("into", document.String(s.into))
	vals := make([]document.Value, len(s.on))
	for i, f := range s.on {
		vals[i] = document.String(f)
	}
	body.Set("on", document.Array(vals))
	return document.D("$merge", document.Object(body))
}

// SearchStage runs a full-text search against the collection's text index. It
// must be the first stage: it produces documents instead of consuming them.
type SearchStage struct {
	query string

	// cachedSyntaxTree is the parsed query, computed lazily and dropped when
	// the stage migrates to a shard.
	cachedSyntaxTree *document.Document
}

// NewSearchStage builds a $search over the given query text.
func NewSearchStage(query string) *SearchStage {
	return &SearchStage{query: query}
}

func parseSearchStage(spec document.Value) (Stage, error) {
	switch spec.Kind() {
	case document.KindString:
		return NewSearchStage(spec.Str()), nil
	case document.KindObject:
		q, ok := spec.Document().GetValue("query")
		if !ok || q.Kind() != document.KindString {
			return nil, fmt.Errorf("%w: $search requires a query string", ErrInvalidStage)
		}
		return NewSearchStage(q.Str()), nil
	}
	return nil, fmt.Errorf("%w: $search requires a string or object", ErrInvalidStage)
}

// Query returns the search text.
func (s *SearchStage) Query() string { return s.query }

func (s *SearchStage) Kind() StageKind { return StageSearch }

func (s *SearchStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:   Streaming,
		Position: PositionFirst,
	}
}

func (s *SearchStage) Distributed() *DistributedPlanLogic {
	// Every shard searches its own slice of the index; results combine at
	// the merge point unordered.
	return &DistributedPlanLogic{
		ShardsStage: s,
		NeedsSplit:  true,
	}
}

func (s *SearchStage) EngineCompatibility() EngineCompat { return EngineIncompatible }

func (s *SearchStage) ModifiedPaths() ModifiedPaths {
	return ModifiedPaths{AllPaths: true}
}

func (s *SearchStage) AddDependencies(d *Deps) bool {
	d.NeedWholeDocument = true
	return false
}

func (s *SearchStage) OptimizeAt(i int, p *Pipeline) bool { return false }

// AbandonCache drops the locally parsed query so a shard re-parses against
// its own index metadata.
func (s *SearchStage) AbandonCache() { s.cachedSyntaxTree = nil }

func (s *SearchStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	// The orchestrator lowers $search into a text index scan; reaching here
	// means the stage was executed without a backing plan.
	return nil, fmt.Errorf("%w: $search requires an execution plan", ErrInvalidStage)
}

func (s *SearchStage) Serialize() *document.Document {
	return document.D("$search", document.Object(
		document.D("query", document.String(s.query))))
}
