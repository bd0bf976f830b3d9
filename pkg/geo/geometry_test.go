package geo

import (
	"math"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
)

func TestDistance(t *testing.T) {
	d := Distance(NewPoint(0, 0), NewPoint(3, 4))
	if d != 5 {
		t.Errorf("Expected distance 5, got %f", d)
	}
}

func TestHaversine(t *testing.T) {
	// Prague to Brno is roughly 185 km.
	prague := NewPoint(14.4378, 50.0755)
	brno := NewPoint(16.6068, 49.1951)
	d := Haversine(prague, brno)
	if d < 180000 || d > 190000 {
		t.Errorf("Expected roughly 185km, got %f meters", d)
	}

	if d := Haversine(prague, prague); d != 0 {
		t.Errorf("Expected zero distance to self, got %f", d)
	}
}

func TestHaversineAntipodal(t *testing.T) {
	d := Haversine(NewPoint(0, 0), NewPoint(180, 0))
	expected := math.Pi * earthRadiusMeters
	if math.Abs(d-expected) > 1 {
		t.Errorf("Expected half circumference %f, got %f", expected, d)
	}
}

func TestBoundingBox(t *testing.T) {
	bb := BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 10}
	if !bb.Contains(NewPoint(5, 5)) {
		t.Error("Expected point inside box")
	}
	if !bb.Contains(NewPoint(0, 10)) {
		t.Error("Expected border point inside box")
	}
	if bb.Contains(NewPoint(11, 5)) {
		t.Error("Expected point outside box")
	}

	other := BoundingBox{MinLon: 8, MinLat: 8, MaxLon: 20, MaxLat: 20}
	if !bb.Intersects(other) {
		t.Error("Expected overlapping boxes to intersect")
	}
	far := BoundingBox{MinLon: 30, MinLat: 30, MaxLon: 40, MaxLat: 40}
	if bb.Intersects(far) {
		t.Error("Expected disjoint boxes not to intersect")
	}
}

func TestPointInPolygon(t *testing.T) {
	square := &Polygon{Rings: [][]Point{{
		{0, 0}, {10, 0}, {10, 10}, {0, 10},
	}}}
	if !PointInPolygon(NewPoint(5, 5), square) {
		t.Error("Expected center inside square")
	}
	if PointInPolygon(NewPoint(15, 5), square) {
		t.Error("Expected point outside square")
	}

	withHole := &Polygon{Rings: [][]Point{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}},
	}}
	if PointInPolygon(NewPoint(5, 5), withHole) {
		t.Error("Expected point in hole to be outside")
	}
	if !PointInPolygon(NewPoint(2, 2), withHole) {
		t.Error("Expected point beside hole to be inside")
	}
}

func TestPolygonBounds(t *testing.T) {
	p := &Polygon{Rings: [][]Point{{
		{1, 2}, {7, 3}, {4, 9},
	}}}
	bb, ok := p.Bounds()
	if !ok {
		t.Fatal("Expected bounds for a non-empty polygon")
	}
	if bb.MinLon != 1 || bb.MaxLon != 7 || bb.MinLat != 2 || bb.MaxLat != 9 {
		t.Errorf("Expected bounds [1 2 7 9], got %+v", bb)
	}

	if _, ok := (&Polygon{}).Bounds(); ok {
		t.Error("Expected no bounds for an empty polygon")
	}
}

func TestPointFromValueLegacyArray(t *testing.T) {
	v := document.Array([]document.Value{document.Double(14.4), document.Int64(50)})
	p, err := PointFromValue(v)
	if err != nil {
		t.Fatalf("Failed to parse point: %v", err)
	}
	if p.Lon != 14.4 || p.Lat != 50 {
		t.Errorf("Expected (14.4, 50), got %+v", p)
	}
}

func TestPointFromValueGeoJSON(t *testing.T) {
	v := document.Object(document.D(
		"type", document.String("Point"),
		"coordinates", document.Array([]document.Value{
			document.Double(16.6), document.Double(49.2),
		}),
	))
	p, err := PointFromValue(v)
	if err != nil {
		t.Fatalf("Failed to parse point: %v", err)
	}
	if p.Lon != 16.6 || p.Lat != 49.2 {
		t.Errorf("Expected (16.6, 49.2), got %+v", p)
	}
}

func TestPointFromValueEmbeddedDocument(t *testing.T) {
	v := document.Object(document.D(
		"lng", document.Double(1),
		"lat", document.Double(2),
	))
	p, err := PointFromValue(v)
	if err != nil {
		t.Fatalf("Failed to parse point: %v", err)
	}
	if p.Lon != 1 || p.Lat != 2 {
		t.Errorf("Expected (1, 2), got %+v", p)
	}
}

func TestPointFromValueRejectsBadShapes(t *testing.T) {
	cases := []document.Value{
		document.String("nope"),
		document.Array([]document.Value{document.Double(1)}),
		document.Array([]document.Value{document.String("a"), document.String("b")}),
		document.Object(document.D("only", document.Double(1))),
	}
	for i, v := range cases {
		if _, err := PointFromValue(v); err == nil {
			t.Errorf("Case %d: expected an error for %s", i, v)
		}
	}
}
