package aggregation

import (
	"fmt"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

// GeoNearStage emits documents ordered by distance from a point. It must be
// the first stage and is always lowered into a geo index scan by the
// execution orchestrator.
type GeoNearStage struct {
	key           string
	near          [2]float64
	distanceField string
	spherical     bool
	maxDistance   float64
	// filter is the optional embedded query predicate.
	filter *query.Predicate
}

// NewGeoNearStage builds a $geoNear over the named geo-indexed field.
func NewGeoNearStage(key string, near [2]float64, distanceField string, spherical bool) *GeoNearStage {
	return &GeoNearStage{key: key, near: near, distanceField: distanceField, spherical: spherical}
}

func parseGeoNearStage(spec document.Value) (Stage, error) {
	if spec.Kind() != document.KindObject {
		return nil, fmt.Errorf("%w: $geoNear requires an object", ErrInvalidStage)
	}
	doc := spec.Document()
	nearV, ok := doc.GetValue("near")
	if !ok || nearV.Kind() != document.KindArray || len(nearV.Array()) != 2 {
		return nil, fmt.Errorf("%w: $geoNear requires a [lon, lat] near point", ErrInvalidStage)
	}
	var near [2]float64
	for i, v := range nearV.Array() {
		f, ok := v.AsDouble()
		if !ok {
			return nil, fmt.Errorf("%w: $geoNear near coordinates must be numeric", ErrInvalidStage)
		}
		near[i] = f
	}
	keyV, ok := doc.GetValue("key")
	if !ok || keyV.Kind() != document.KindString {
		return nil, fmt.Errorf("%w: $geoNear requires a key field", ErrInvalidStage)
	}
	s := NewGeoNearStage(keyV.Str(), near, "", false)
	if v, ok := doc.GetValue("distanceField"); ok && v.Kind() == document.KindString {
		s.distanceField = v.Str()
	}
	if v, ok := doc.GetValue("spherical"); ok {
		s.spherical = v.Kind() == document.KindBool && v.Bool()
	}
	if v, ok := doc.GetValue("maxDistance"); ok {
		if f, ok := v.AsDouble(); ok {
			s.maxDistance = f
		}
	}
	if v, ok := doc.GetValue("query"); ok {
		if v.Kind() != document.KindObject {
			return nil, fmt.Errorf("%w: $geoNear query must be an object", ErrInvalidStage)
		}
		pred, err := ParsePredicate(v.Document())
		if err != nil {
			return nil, err
		}
		s.filter = pred
	}
	return s, nil
}

// Key returns the geo-indexed field.
func (s *GeoNearStage) Key() string { return s.key }

// Near returns the query point.
func (s *GeoNearStage) Near() [2]float64 { return s.near }

// DistanceField returns the output path for the computed distance, empty when
// none was requested.
func (s *GeoNearStage) DistanceField() string { return s.distanceField }

// Spherical reports whether distances use spherical geometry.
func (s *GeoNearStage) Spherical() bool { return s.spherical }

// Filter returns the embedded query predicate, nil when absent.
func (s *GeoNearStage) Filter() *query.Predicate { return s.filter }

func (s *GeoNearStage) Kind() StageKind { return StageGeoNear }

func (s *GeoNearStage) Constraints() StageConstraints {
	return StageConstraints{
		Stream:   Streaming,
		Position: PositionFirst,
	}
}

func (s *GeoNearStage) Distributed() *DistributedPlanLogic {
	// Shards search their own geo index; streams merge ordered by distance
	// when a distance field exists to merge on.
	logic := &DistributedPlanLogic{ShardsStage: s, NeedsSplit: true}
	if s.distanceField != "" {
		logic.MergeSortPattern = document.D(s.distanceField, document.Int32(1))
	}
	return logic
}

func (s *GeoNearStage) EngineCompatibility() EngineCompat { return EngineIncompatible }

func (s *GeoNearStage) ModifiedPaths() ModifiedPaths {
	if s.distanceField == "" {
		return ModifiedPaths{}
	}
	return ModifiedPaths{Paths: []string{s.distanceField}}
}

func (s *GeoNearStage) AddDependencies(d *Deps) bool {
	d.NeedWholeDocument = true
	return false
}

func (s *GeoNearStage) OptimizeAt(i int, p *Pipeline) bool { return false }

func (s *GeoNearStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	// The orchestrator lowers $geoNear into a geo index scan; reaching here
	// means the stage was executed without a backing plan.
	return nil, fmt.Errorf("%w: $geoNear requires an execution plan", ErrInvalidStage)
}

func (s *GeoNearStage) Serialize() *document.Document {
	body := document.D(
		"key", document.String(s.key),
		"near", document.Array([]document.Value{
			document.Double(s.near[0]), document.Double(s.near[1]),
		}),
	)
	if s.distanceField != "" {
		body.Set("distanceField", document.String(s.distanceField))
	}
	if s.spherical {
		body.Set("spherical", document.Bool(true))
	}
	if s.maxDistance > 0 {
		body.Set("maxDistance", document.Double(s.maxDistance))
	}
	if s.filter != nil {
		body.Set("query", document.String(s.filter.String()))
	}
	return document.D("$geoNear", document.Object(body))
}
