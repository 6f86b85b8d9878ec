// Package tiles implements the tiered map-tile cache: an LRU-bounded live
// tier fed by downloads and prefetch, read-only trip tiers tied to
// downloaded trips, and a unified source that resolves a tile through them
// in priority order.
package tiles

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

// MaxZoom is the deepest zoom level the cache accepts
const MaxZoom = 22

// PrefetchZooms lists prefetch zoom levels from most to least useful
var PrefetchZooms = []int{15, 14, 16, 13, 12, 17, 11, 10, 9, 8}

// Coordinate is a slippy-map tile address
type Coordinate struct {
	Zoom int `json:"z"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// ID returns the "Z-X-Y" key
func (c Coordinate) ID() string {
	return fmt.Sprintf("%d-%d-%d", c.Zoom, c.X, c.Y)
}

func (c Coordinate) String() string { return c.ID() }

// Valid reports whether the coordinate exists at its zoom level
func (c Coordinate) Valid() bool {
	if c.Zoom < 0 || c.Zoom > MaxZoom {
		return false
	}
	n := 1 << uint(c.Zoom)
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Bounds returns the tile's extent in degrees
func (c Coordinate) Bounds() geomath.BoundingBox {
	b := c.tile().Bound()
	return geomath.BoundingBox{
		MinLat: b.Min.Lat(),
		MinLon: b.Min.Lon(),
		MaxLat: b.Max.Lat(),
		MaxLon: b.Max.Lon(),
	}
}

// Center returns the tile centre
func (c Coordinate) Center() geomath.Point {
	center := c.tile().Center()
	return geomath.Point{Lat: center.Lat(), Lon: center.Lon()}
}

func (c Coordinate) tile() maptile.Tile {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Zoom))
}

// At returns the tile containing p at zoom
func At(p geomath.Point, zoom int) Coordinate {
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p.Lat))
	lon := math.Max(-180, math.Min(180, p.Lon))
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))

	c := Coordinate{Zoom: zoom, X: int(t.X), Y: int(t.Y)}
	n := 1 << uint(zoom)
	c.X = clamp(c.X, 0, n-1)
	c.Y = clamp(c.Y, 0, n-1)
	return c
}

const maxMercatorLat = 85.05112878

// TileRange is an inclusive rectangle of tiles at one zoom
type TileRange struct {
	Zoom       int
	MinX, MaxX int
	MinY, MaxY int
}

// Count returns the number of tiles in the range
func (r TileRange) Count() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Coordinates lists the range row by row
func (r TileRange) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, r.Count())
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			out = append(out, Coordinate{Zoom: r.Zoom, X: x, Y: y})
		}
	}
	return out
}

// CoveringRange returns the tiles at zoom that cover a circle of radius
// meters around center
func CoveringRange(center geomath.Point, radiusMeters float64, zoom int) TileRange {
	return BoundsRange(geomath.Around(center, radiusMeters), zoom)
}

// BoundsRange returns the tiles at zoom that cover box
func BoundsRange(box geomath.BoundingBox, zoom int) TileRange {
	nw := At(geomath.Point{Lat: box.MaxLat, Lon: box.MinLon}, zoom)
	se := At(geomath.Point{Lat: box.MinLat, Lon: box.MaxLon}, zoom)
	return TileRange{
		Zoom: zoom,
		MinX: nw.X,
		MaxX: se.X,
		MinY: nw.Y,
		MaxY: se.Y,
	}
}

// PrefetchPlan returns the covering ranges for every prefetch zoom level in
// priority order
func PrefetchPlan(center geomath.Point, radiusMeters float64) []TileRange {
	plan := make([]TileRange, 0, len(PrefetchZooms))
	for _, z := range PrefetchZooms {
		plan = append(plan, CoveringRange(center, radiusMeters, z))
	}
	return plan
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
