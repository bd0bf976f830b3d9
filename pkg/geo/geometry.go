// Package geo provides the planar and spherical geometry used by $geoNear
// execution: point extraction from document values, distance computation and
// point-in-polygon tests.
package geo

import (
	"fmt"
	"math"

	"github.com/corvusdb/corvus/pkg/document"
)

// Point is a position: [x, y] for planar geometry, [longitude, latitude] in
// degrees for spherical geometry.
type Point struct {
	Lon float64
	Lat float64
}

// NewPoint creates a point from longitude/x and latitude/y.
func NewPoint(lon, lat float64) Point {
	return Point{Lon: lon, Lat: lat}
}

// BoundingBox is an axis-aligned rectangle.
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains reports whether a point lies within the box, borders included.
func (bb BoundingBox) Contains(p Point) bool {
	return p.Lon >= bb.MinLon && p.Lon <= bb.MaxLon &&
		p.Lat >= bb.MinLat && p.Lat <= bb.MaxLat
}

// Intersects reports whether two boxes overlap.
func (bb BoundingBox) Intersects(other BoundingBox) bool {
	return !(bb.MaxLon < other.MinLon || bb.MinLon > other.MaxLon ||
		bb.MaxLat < other.MinLat || bb.MinLat > other.MaxLat)
}

// Polygon is a closed ring set: the first ring is the outer boundary, the
// rest are holes.
type Polygon struct {
	Rings [][]Point
}

// Bounds returns the bounding box of the outer ring, or false for an empty
// polygon.
func (p *Polygon) Bounds() (BoundingBox, bool) {
	if len(p.Rings) == 0 || len(p.Rings[0]) == 0 {
		return BoundingBox{}, false
	}
	first := p.Rings[0][0]
	bb := BoundingBox{MinLon: first.Lon, MaxLon: first.Lon, MinLat: first.Lat, MaxLat: first.Lat}
	for _, pt := range p.Rings[0] {
		bb.MinLon = math.Min(bb.MinLon, pt.Lon)
		bb.MaxLon = math.Max(bb.MaxLon, pt.Lon)
		bb.MinLat = math.Min(bb.MinLat, pt.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, pt.Lat)
	}
	return bb, true
}

// Distance returns the planar Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx := b.Lon - a.Lon
	dy := b.Lat - a.Lat
	return math.Sqrt(dx*dx + dy*dy)
}

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	deltaLat := toRadians(b.Lat - a.Lat)
	deltaLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// PointInPolygon reports whether the point lies inside the polygon's outer
// ring and outside every hole, by ray casting.
func PointInPolygon(point Point, polygon *Polygon) bool {
	if len(polygon.Rings) == 0 {
		return false
	}
	if !pointInRing(point, polygon.Rings[0]) {
		return false
	}
	for _, hole := range polygon.Rings[1:] {
		if pointInRing(point, hole) {
			return false
		}
	}
	return true
}

func pointInRing(point Point, ring []Point) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if ((yi > point.Lat) != (yj > point.Lat)) &&
			(point.Lon < (xj-xi)*(point.Lat-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// PointFromValue extracts a point from a stored document value. Three forms
// are accepted: a legacy [lon, lat] array, a GeoJSON object
// {"type": "Point", "coordinates": [lon, lat]}, and an embedded document
// whose first two fields are numeric.
func PointFromValue(v document.Value) (Point, error) {
	switch v.Kind() {
	case document.KindArray:
		arr := v.Array()
		if len(arr) != 2 {
			return Point{}, fmt.Errorf("legacy coordinates must have 2 elements, got %d", len(arr))
		}
		lon, ok := arr[0].AsDouble()
		if !ok {
			return Point{}, fmt.Errorf("invalid longitude %s", arr[0])
		}
		lat, ok := arr[1].AsDouble()
		if !ok {
			return Point{}, fmt.Errorf("invalid latitude %s", arr[1])
		}
		return Point{Lon: lon, Lat: lat}, nil
	case document.KindObject:
		doc := v.Document()
		if coords, ok := doc.GetValue("coordinates"); ok {
			return PointFromValue(coords)
		}
		keys := doc.Keys()
		if len(keys) < 2 {
			return Point{}, fmt.Errorf("point document needs 2 numeric fields")
		}
		first, _ := doc.GetValue(keys[0])
		second, _ := doc.GetValue(keys[1])
		lon, ok1 := first.AsDouble()
		lat, ok2 := second.AsDouble()
		if !ok1 || !ok2 {
			return Point{}, fmt.Errorf("point document fields must be numeric")
		}
		return Point{Lon: lon, Lat: lat}, nil
	}
	return Point{}, fmt.Errorf("cannot read a point from a %s value", v.Kind())
}
