// Package routing turns graph paths, external routing responses and plain
// coordinates into turn-by-turn routes, and chooses between those sources
// when a caller asks for directions.
package routing

import (
	"errors"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/navigation"
)

var (
	// ErrNoRoute means the source could not produce a route
	ErrNoRoute = errors.New("no route")
	// ErrOffline means a network source was skipped for lack of connectivity
	ErrOffline = errors.New("device offline")
	// ErrRoutingUnavailable means the external service failed or is not configured
	ErrRoutingUnavailable = errors.New("routing service unavailable")
)

// Profile is the travel profile passed to the external routing service
type Profile string

const (
	ProfileDriving Profile = "driving"
	ProfileWalking Profile = "walking"
	ProfileCycling Profile = "cycling"
)

// Maneuver names the action a step asks for
type Maneuver string

const (
	ManeuverDepart   Maneuver = "depart"
	ManeuverContinue Maneuver = "continue"
	ManeuverTurn     Maneuver = "turn"
	ManeuverFerry    Maneuver = "ferry"
	ManeuverBoard    Maneuver = "board"
	ManeuverArrive   Maneuver = "arrive"
)

// Source names where a route came from
type Source string

const (
	SourceGraph   Source = "graph"
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceDirect  Source = "direct"
)

// Travel speeds in km/h
const (
	WalkingSpeedKmh = 5.0
	CyclingSpeedKmh = 15.0
	DrivingSpeedKmh = 50.0
	TransitSpeedKmh = 30.0
	FlightSpeedKmh  = 800.0
	FerrySpeedKmh   = 25.0
	DefaultSpeedKmh = 40.0
)

// RouteStep is one instruction in a route
type RouteStep struct {
	Instruction    string        `json:"instruction"`
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"duration"`
	Maneuver       Maneuver      `json:"maneuver"`
	Street         string        `json:"street,omitempty"`
}

// NavigationRoute is an immutable built route
type NavigationRoute struct {
	Waypoints           []geomath.Point `json:"waypoints"`
	Steps               []RouteStep     `json:"steps"`
	DestinationName     string          `json:"destination_name"`
	TotalDistanceMeters float64         `json:"total_distance_meters"`
	EstimatedDuration   time.Duration   `json:"estimated_duration"`
	IsDirectRoute       bool            `json:"is_direct_route"`
	// InitialBearing is only meaningful for direct routes
	InitialBearing float64 `json:"initial_bearing"`
	Source         Source  `json:"source"`
}

// Origin returns the first waypoint
func (r *NavigationRoute) Origin() geomath.Point {
	if len(r.Waypoints) == 0 {
		return geomath.Point{}
	}
	return r.Waypoints[0]
}

// Destination returns the last waypoint
func (r *NavigationRoute) Destination() geomath.Point {
	if len(r.Waypoints) == 0 {
		return geomath.Point{}
	}
	return r.Waypoints[len(r.Waypoints)-1]
}

// ModeSpeedKmh returns the assumed speed for a transport mode
func ModeSpeedKmh(mode navigation.TransportMode) float64 {
	switch mode {
	case navigation.ModeWalking:
		return WalkingSpeedKmh
	case navigation.ModeCycling:
		return CyclingSpeedKmh
	case navigation.ModeDriving:
		return DrivingSpeedKmh
	case navigation.ModeTransit:
		return TransitSpeedKmh
	case navigation.ModeFlight:
		return FlightSpeedKmh
	case navigation.ModeFerry:
		return FerrySpeedKmh
	default:
		return DefaultSpeedKmh
	}
}

// ProfileSpeedKmh returns the assumed speed for a routing profile
func ProfileSpeedKmh(p Profile) float64 {
	switch p {
	case ProfileWalking:
		return WalkingSpeedKmh
	case ProfileCycling:
		return CyclingSpeedKmh
	case ProfileDriving:
		return DrivingSpeedKmh
	default:
		return DefaultSpeedKmh
	}
}

// ProfileForMode maps a transport mode onto the closest routing profile
func ProfileForMode(mode navigation.TransportMode) Profile {
	switch mode {
	case navigation.ModeWalking:
		return ProfileWalking
	case navigation.ModeCycling:
		return ProfileCycling
	default:
		return ProfileDriving
	}
}

// travelTime converts a distance at a speed into a duration
func travelTime(distanceMeters, speedKmh float64) time.Duration {
	if speedKmh <= 0 || distanceMeters <= 0 {
		return 0
	}
	hours := distanceMeters / 1000 / speedKmh
	return time.Duration(hours * float64(time.Hour))
}
