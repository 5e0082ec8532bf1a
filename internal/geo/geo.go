// Package geo provides the geometry predicates the pipeline depends on:
// inclusive intersection between SRID 4326 geometries, UN/LOCODE ellipse
// construction and WKT round-tripping. All operations are planar; the
// service never reprojects.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

const metersPerDegree = 111320.0

// Intersects reports whether the two geometries share at least one point.
// The test is inclusive: geometries that only touch on an edge or vertex
// intersect. Nil or empty geometries intersect nothing.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if IsEmpty(a) || IsEmpty(b) {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	switch g := a.(type) {
	case orb.Point:
		return containsPoint(b, g)
	case orb.MultiPoint:
		for _, p := range g {
			if containsPoint(b, p) {
				return true
			}
		}
		return false
	case orb.Bound:
		return Intersects(g.ToPolygon(), b)
	case orb.Ring:
		return Intersects(orb.Polygon{g}, b)
	case orb.LineString:
		return lineIntersects(g, b)
	case orb.Polygon:
		return polygonIntersects(g, b)
	case orb.MultiPolygon:
		for _, p := range g {
			if polygonIntersects(p, b) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, sub := range g {
			if Intersects(sub, b) {
				return true
			}
		}
		return false
	}
	return false
}

// IsEmpty reports whether the geometry carries no coordinates.
func IsEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Ring:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiPoint:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	}
	return false
}

func containsPoint(g orb.Geometry, p orb.Point) bool {
	switch v := g.(type) {
	case orb.Point:
		return v.Equal(p)
	case orb.MultiPoint:
		for _, q := range v {
			if q.Equal(p) {
				return true
			}
		}
		return false
	case orb.Bound:
		return v.Contains(p)
	case orb.Ring:
		return planar.RingContains(v, p)
	case orb.LineString:
		for i := 0; i+1 < len(v); i++ {
			if onSegment(v[i], v[i+1], p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	case orb.Collection:
		for _, sub := range v {
			if containsPoint(sub, p) {
				return true
			}
		}
		return false
	}
	return false
}

func lineIntersects(l orb.LineString, g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Point, orb.MultiPoint:
		return Intersects(v, l)
	case orb.Bound:
		return lineIntersects(l, v.ToPolygon())
	case orb.Ring:
		return lineIntersects(l, orb.Polygon{v})
	case orb.LineString:
		for i := 0; i+1 < len(l); i++ {
			for j := 0; j+1 < len(v); j++ {
				if segmentsIntersect(l[i], l[i+1], v[j], v[j+1]) {
					return true
				}
			}
		}
		return false
	case orb.Polygon:
		for _, p := range l {
			if planar.PolygonContains(v, p) {
				return true
			}
		}
		for _, ring := range v {
			if lineIntersects(l, orb.LineString(ring)) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, p := range v {
			if lineIntersects(l, p) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, sub := range v {
			if lineIntersects(l, sub) {
				return true
			}
		}
		return false
	}
	return false
}

func polygonIntersects(p orb.Polygon, g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Point, orb.MultiPoint, orb.LineString:
		return Intersects(v, p)
	case orb.Bound:
		return polygonIntersects(p, v.ToPolygon())
	case orb.Ring:
		return polygonIntersects(p, orb.Polygon{v})
	case orb.Polygon:
		if len(p) == 0 || len(v) == 0 {
			return false
		}
		for _, q := range p[0] {
			if planar.PolygonContains(v, q) {
				return true
			}
		}
		for _, q := range v[0] {
			if planar.PolygonContains(p, q) {
				return true
			}
		}
		return lineIntersects(orb.LineString(p[0]), orb.LineString(v[0]))
	case orb.MultiPolygon:
		for _, q := range v {
			if polygonIntersects(p, q) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, sub := range v {
			if polygonIntersects(p, sub) {
				return true
			}
		}
		return false
	}
	return false
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(a, b, p orb.Point) bool {
	if math.Abs(cross(a, b, p)) > 1e-12 {
		return false
	}
	return math.Min(a[0], b[0])-1e-12 <= p[0] && p[0] <= math.Max(a[0], b[0])+1e-12 &&
		math.Min(a[1], b[1])-1e-12 <= p[1] && p[1] <= math.Max(a[1], b[1])+1e-12
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return onSegment(q1, q2, p1) || onSegment(q1, q2, p2) ||
		onSegment(p1, p2, q1) || onSegment(p1, p2, q2)
}

// Ellipse approximates an ellipse centred on the given point with the axis
// lengths expressed in meters, as a closed 32-vertex polygon. Longitude
// scaling follows the latitude of the centre.
func Ellipse(center orb.Point, semiMajorMeters, semiMinorMeters float64) orb.Polygon {
	const segments = 32

	latScale := 1.0 / metersPerDegree
	lonScale := 1.0 / (metersPerDegree * math.Cos(center[1]*math.Pi/180))

	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / segments
		ring = append(ring, orb.Point{
			center[0] + semiMajorMeters*math.Cos(theta)*lonScale,
			center[1] + semiMinorMeters*math.Sin(theta)*latScale,
		})
	}
	return orb.Polygon{ring}
}

// WholeWorld returns the polygon covering the full SRID 4326 extent. It is
// the fallback subscription geometry when a request declares no filter.
func WholeWorld() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{-180, -90}, {180, -90}, {180, 90}, {-180, 90}, {-180, -90},
	}}
}

// ParseWKT decodes a WKT geometry string.
func ParseWKT(s string) (orb.Geometry, error) {
	return wkt.Unmarshal(s)
}

// MarshalWKT encodes a geometry as WKT.
func MarshalWKT(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return wkt.MarshalString(g)
}
