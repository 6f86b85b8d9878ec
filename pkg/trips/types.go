// Package trips supplies trip metadata to the engine: the graph of places
// and segments a trip covers, and the list of trips whose map tiles were
// downloaded for offline use.
package trips

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
)

var (
	ErrTripNotFound = errors.New("trip not found")
	ErrNoGraph      = errors.New("trip has no graph")
)

// DownloadStatus is the state of a trip's offline tile download
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
)

// DownloadedTrip describes a trip whose tile region was downloaded
type DownloadedTrip struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Bounds       geomath.BoundingBox `json:"bounds"`
	Status       DownloadStatus      `json:"status"`
	MinZoom      int                 `json:"min_zoom"`
	MaxZoom      int                 `json:"max_zoom"`
	TileCount    int                 `json:"tile_count"`
	DownloadedAt time.Time           `json:"downloaded_at"`
}

// IsComplete reports whether the trip's tiles may serve the trip tier
func (t DownloadedTrip) IsComplete() bool {
	return t.Status == StatusCompleted
}

// Contains reports whether p lies inside the trip's bounding box
func (t DownloadedTrip) Contains(p geomath.Point) bool {
	return t.Bounds.Contains(p)
}

// TripNode is a place or waypoint as stored in trip metadata
type TripNode struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// TripEdge is a directed travel segment as stored in trip metadata
type TripEdge struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	DistanceKm float64         `json:"distance_km"`
	Mode       string          `json:"mode"`
	Type       string          `json:"type"`
	Geometry   []geomath.Point `json:"geometry,omitempty"`
}

// TripGraph is the raw node/edge metadata for one trip
type TripGraph struct {
	TripID string     `json:"trip_id"`
	Nodes  []TripNode `json:"nodes"`
	Edges  []TripEdge `json:"edges"`
}

// Provider is the trip-metadata source consumed by the engine
type Provider interface {
	// DownloadedTrips lists every trip with a tile download record
	DownloadedTrips(ctx context.Context) ([]DownloadedTrip, error)
	// TripGraph returns the navigation metadata for one trip
	TripGraph(ctx context.Context, tripID string) (*TripGraph, error)
}

// CompletedTrips filters a trip list down to completed downloads
func CompletedTrips(all []DownloadedTrip) []DownloadedTrip {
	out := make([]DownloadedTrip, 0, len(all))
	for _, t := range all {
		if t.IsComplete() {
			out = append(out, t)
		}
	}
	return out
}
