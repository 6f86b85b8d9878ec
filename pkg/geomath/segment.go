package geomath

import "math"

// degenerateSegmentMeters is the length below which a segment is treated as
// a single point.
const degenerateSegmentMeters = 0.01

// PointToSegmentDistance returns the shortest distance in meters from p to
// the segment a-b. The segment is projected onto a local equirectangular
// plane centered on p, which is accurate for the sub-kilometer segments that
// route geometry is made of.
func PointToSegmentDistance(p, a, b Point) float64 {
	if Distance(a, b) < degenerateSegmentMeters {
		return Distance(p, a)
	}

	cosLat := math.Cos(toRadians(p.Lat))
	project := func(q Point) (float64, float64) {
		x := toRadians(q.Lon-p.Lon) * cosLat * EarthRadiusMeters
		y := toRadians(q.Lat-p.Lat) * EarthRadiusMeters
		return x, y
	}

	ax, ay := project(a)
	bx, by := project(b)
	dx, dy := bx-ax, by-ay

	// p is the origin of the projected plane
	t := -(ax*dx + ay*dy) / (dx*dx + dy*dy)
	switch {
	case t <= 0:
		return Distance(p, a)
	case t >= 1:
		return Distance(p, b)
	}

	cx, cy := ax+t*dx, ay+t*dy
	return math.Hypot(cx, cy)
}

// PointToPolylineDistance returns the minimum distance from p to any
// consecutive segment of line. A single-point line degenerates to the
// distance to that point; an empty line returns +Inf.
func PointToPolylineDistance(p Point, line []Point) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, line[0])
	}

	best := math.Inf(1)
	for i := 0; i+1 < len(line); i++ {
		if d := PointToSegmentDistance(p, line[i], line[i+1]); d < best {
			best = d
		}
	}
	return best
}

// PolylineLength sums the haversine length of consecutive segments.
func PolylineLength(line []Point) float64 {
	total := 0.0
	for i := 0; i+1 < len(line); i++ {
		total += Distance(line[i], line[i+1])
	}
	return total
}

// BoundingBox is an axis-aligned lat/lon rectangle. Boxes crossing the
// antimeridian are not supported.
type BoundingBox struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Around returns the box enclosing a circle of radius meters around center.
func Around(center Point, radiusMeters float64) BoundingBox {
	north := Destination(center.Lat, center.Lon, 0, radiusMeters)
	south := Destination(center.Lat, center.Lon, 180, radiusMeters)
	east := Destination(center.Lat, center.Lon, 90, radiusMeters)
	west := Destination(center.Lat, center.Lon, 270, radiusMeters)
	return BoundingBox{
		MinLat: south.Lat,
		MinLon: west.Lon,
		MaxLat: north.Lat,
		MaxLon: east.Lon,
	}
}
