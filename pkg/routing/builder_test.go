package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/navigation"
)

// harbourGraph is P -(drive 1.1 km)-> Q -(walk 1.1 km, bent)-> R
func harbourGraph() *navigation.Graph {
	g := navigation.NewGraph("harbour")
	g.AddNode(navigation.Node{ID: "P", Name: "Port", Latitude: 0, Longitude: 0})
	g.AddNode(navigation.Node{ID: "Q", Name: "Quay", Latitude: 0, Longitude: 0.01})
	g.AddNode(navigation.Node{ID: "R", Name: "Ridge", Latitude: 0.01, Longitude: 0.01})
	g.AddEdge(navigation.Edge{FromNodeID: "P", ToNodeID: "Q", DistanceKm: 1.1, TransportMode: navigation.ModeDriving})
	g.AddEdge(navigation.Edge{
		FromNodeID:    "Q",
		ToNodeID:      "R",
		DistanceKm:    1.1,
		TransportMode: navigation.ModeWalking,
		RouteGeometry: []geomath.Point{
			{Lat: 0, Lon: 0.01},
			{Lat: 0.005, Lon: 0.012},
			{Lat: 0.01, Lon: 0.01},
		},
	})
	return g
}

func TestFromSegmentPath(t *testing.T) {
	g := harbourGraph()

	route, err := FromSegmentPath(g, []string{"P", "Q", "R"}, "")
	require.NoError(t, err)

	assert.Equal(t, SourceGraph, route.Source)
	assert.False(t, route.IsDirectRoute)
	assert.Equal(t, "Ridge", route.DestinationName)
	assert.InDelta(t, 2200.0, route.TotalDistanceMeters, 1e-9)

	// straight P-Q, then the bent geometry without repeating Q
	require.Len(t, route.Waypoints, 4)
	assert.Equal(t, geomath.Point{Lat: 0, Lon: 0}, route.Waypoints[0])
	assert.Equal(t, geomath.Point{Lat: 0.005, Lon: 0.012}, route.Waypoints[2])

	driving := time.Duration(1.1 / DrivingSpeedKmh * float64(time.Hour))
	walking := time.Duration(1.1 / WalkingSpeedKmh * float64(time.Hour))
	assert.InDelta(t, float64(driving+walking), float64(route.EstimatedDuration), float64(time.Millisecond))

	require.Len(t, route.Steps, 3)
	assert.Equal(t, ManeuverDepart, route.Steps[0].Maneuver)
	assert.Equal(t, "Drive to Quay", route.Steps[0].Instruction)
	assert.Equal(t, "Walk to Ridge", route.Steps[1].Instruction)
	assert.Equal(t, ManeuverArrive, route.Steps[2].Maneuver)
}

func TestFromSegmentPath_Errors(t *testing.T) {
	g := harbourGraph()
	g.AddEdge(navigation.Edge{FromNodeID: "R", ToNodeID: "ghost", DistanceKm: 1})

	tests := []struct {
		name string
		path []string
	}{
		{"empty", nil},
		{"unknown start", []string{"X", "Q"}},
		{"missing edge", []string{"Q", "P"}},
		{"dangling edge", []string{"R", "ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSegmentPath(g, tt.path, "")
			assert.True(t, errors.Is(err, ErrNoRoute), "got %v", err)
		})
	}
}

func TestBuildDirectRoute(t *testing.T) {
	from := geomath.Point{Lat: 0, Lon: 0}
	to := Destination{Name: "Lighthouse", Point: geomath.Point{Lat: 0, Lon: 1}}

	route := BuildDirectRoute(from, to, ProfileWalking)

	assert.True(t, route.IsDirectRoute)
	assert.Equal(t, SourceDirect, route.Source)
	assert.Equal(t, []geomath.Point{from, to.Point}, route.Waypoints)
	assert.InDelta(t, 90.0, route.InitialBearing, 1e-9)
	assert.InDelta(t, geomath.Distance(from, to.Point), route.TotalDistanceMeters, 1e-9)

	wantHours := route.TotalDistanceMeters / 1000 / WalkingSpeedKmh
	assert.InDelta(t, wantHours, route.EstimatedDuration.Hours(), 1e-9)
	assert.Contains(t, route.Steps[0].Instruction, "east")
	assert.Equal(t, "Arrive at Lighthouse", route.Steps[1].Instruction)
}

func TestBuildDirectRoutes(t *testing.T) {
	from := geomath.Point{}
	routes := BuildDirectRoutes(from, []Destination{
		{Name: "north", Point: geomath.Point{Lat: 1}},
		{Name: "south", Point: geomath.Point{Lat: -1}},
	}, ProfileDriving)

	require.Len(t, routes, 2)
	assert.InDelta(t, 0.0, routes[0].InitialBearing, 1e-9)
	assert.InDelta(t, 180.0, routes[1].InitialBearing, 1e-9)
}

func TestDecodeGeometry(t *testing.T) {
	// the reference example from the encoded polyline format docs
	points, err := DecodeGeometry("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Lat, 1e-9)
	assert.InDelta(t, -120.2, points[0].Lon, 1e-9)
	assert.InDelta(t, 43.252, points[2].Lat, 1e-9)
	assert.InDelta(t, -126.453, points[2].Lon, 1e-9)

	roundTrip, err := DecodeGeometry(EncodeGeometry(points))
	require.NoError(t, err)
	assert.Equal(t, len(points), len(roundTrip))

	_, err = DecodeGeometry("_p~iF~ps|U_")
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestFromOsrmResponse(t *testing.T) {
	geometry := EncodeGeometry([]geomath.Point{{Lat: 52.5, Lon: 13.4}, {Lat: 52.51, Lon: 13.41}})
	resp := &OSRMResponse{
		Code: "Ok",
		Routes: []OSRMRoute{{
			Geometry: geometry,
			Distance: 1500,
			Duration: 180,
			Legs: []OSRMLeg{{Steps: []OSRMStep{
				{Name: "Unter den Linden", Distance: 1000, Duration: 120, Maneuver: OSRMManeuver{Type: "depart", BearingAfter: 90}},
				{Name: "Friedrichstrasse", Distance: 500, Duration: 60, Maneuver: OSRMManeuver{Type: "turn", Modifier: "left"}},
				{Maneuver: OSRMManeuver{Type: "arrive"}},
			}}},
		}},
	}

	route, err := FromOsrmResponse(resp, "Museum")
	require.NoError(t, err)
	assert.False(t, route.IsDirectRoute)
	assert.Equal(t, SourceNetwork, route.Source)
	assert.Equal(t, 1500.0, route.TotalDistanceMeters)
	assert.Equal(t, 3*time.Minute, route.EstimatedDuration)
	require.Len(t, route.Steps, 3)
	assert.Equal(t, "Head east on Unter den Linden", route.Steps[0].Instruction)
	assert.Equal(t, "Turn left onto Friedrichstrasse", route.Steps[1].Instruction)
	assert.Equal(t, ManeuverTurn, route.Steps[1].Maneuver)
	assert.Equal(t, ManeuverArrive, route.Steps[2].Maneuver)

	_, err = FromOsrmResponse(&OSRMResponse{Code: "NoRoute"}, "")
	assert.True(t, errors.Is(err, ErrNoRoute))
	_, err = FromOsrmResponse(&OSRMResponse{Code: "Ok"}, "")
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestFromCachedRoute(t *testing.T) {
	cached := &CachedRoute{
		Geometry:        EncodeGeometry([]geomath.Point{{Lat: 1, Lon: 1}, {Lat: 1.01, Lon: 1}}),
		DistanceMeters:  1112,
		DurationSeconds: 90,
		DestinationName: "Cafe",
		Steps:           []RouteStep{{Instruction: "Continue", Maneuver: ManeuverContinue}},
	}

	route, err := FromCachedRoute(cached)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, route.Source)
	assert.Equal(t, "Cafe", route.DestinationName)
	assert.Equal(t, 90*time.Second, route.EstimatedDuration)
	assert.Equal(t, cached.Steps, route.Steps)

	_, err = FromCachedRoute(nil)
	assert.True(t, errors.Is(err, ErrNoRoute))
}
