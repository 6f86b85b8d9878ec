package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/twpayne/go-polyline"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/navigation"
)

// Destination is a named target for direct routes
type Destination struct {
	Name  string
	Point geomath.Point
}

// FromSegmentPath builds a route along a graph path. Each edge contributes
// its detailed geometry, or a straight segment when it has none.
func FromSegmentPath(g *navigation.Graph, path []string, destinationName string) (*NavigationRoute, error) {
	if g == nil || len(path) == 0 {
		return nil, ErrNoRoute
	}

	first, ok := g.Node(path[0])
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", ErrNoRoute, path[0])
	}
	last, ok := g.Node(path[len(path)-1])
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", ErrNoRoute, path[len(path)-1])
	}
	if destinationName == "" {
		destinationName = last.Name
	}

	route := &NavigationRoute{
		Waypoints:       []geomath.Point{first.Point()},
		DestinationName: destinationName,
		Source:          SourceGraph,
	}

	for i := 0; i+1 < len(path); i++ {
		edge, ok := g.GetEdgeBetween(path[i], path[i+1])
		if !ok {
			return nil, fmt.Errorf("%w: no edge %s->%s", ErrNoRoute, path[i], path[i+1])
		}
		geometry := g.EdgeGeometry(edge)
		if geometry == nil {
			return nil, fmt.Errorf("%w: dangling edge %s->%s", ErrNoRoute, path[i], path[i+1])
		}
		route.Waypoints = appendGeometry(route.Waypoints, geometry)

		meters := edge.DistanceKm * 1000
		if meters <= 0 {
			meters = geomath.PolylineLength(geometry)
		}
		duration := travelTime(meters, ModeSpeedKmh(edge.TransportMode))

		to, _ := g.Node(edge.ToNodeID)
		maneuver := ManeuverContinue
		if i == 0 {
			maneuver = ManeuverDepart
		}
		switch edge.TransportMode {
		case navigation.ModeFerry:
			maneuver = ManeuverFerry
		case navigation.ModeTransit, navigation.ModeFlight:
			maneuver = ManeuverBoard
		}

		route.Steps = append(route.Steps, RouteStep{
			Instruction:    segmentInstruction(edge.TransportMode, to.Name),
			DistanceMeters: meters,
			Duration:       duration,
			Maneuver:       maneuver,
			Street:         to.Name,
		})
		route.TotalDistanceMeters += meters
		route.EstimatedDuration += duration
	}

	route.Steps = append(route.Steps, arriveStep(destinationName))
	return route, nil
}

// appendGeometry adds line to waypoints, dropping a repeated junction point
func appendGeometry(waypoints, line []geomath.Point) []geomath.Point {
	if len(waypoints) > 0 && len(line) > 0 && waypoints[len(waypoints)-1] == line[0] {
		line = line[1:]
	}
	return append(waypoints, line...)
}

func segmentInstruction(mode navigation.TransportMode, to string) string {
	if to == "" {
		to = "the next stop"
	}
	switch mode {
	case navigation.ModeWalking:
		return "Walk to " + to
	case navigation.ModeCycling:
		return "Cycle to " + to
	case navigation.ModeTransit:
		return "Take transit to " + to
	case navigation.ModeFlight:
		return "Fly to " + to
	case navigation.ModeFerry:
		return "Take the ferry to " + to
	default:
		return "Drive to " + to
	}
}

func arriveStep(destination string) RouteStep {
	instruction := "Arrive at destination"
	if destination != "" {
		instruction = "Arrive at " + destination
	}
	return RouteStep{Instruction: instruction, Maneuver: ManeuverArrive, Street: destination}
}

// CachedRoute is a previous external routing result
type CachedRoute struct {
	Origin          geomath.Point `json:"origin"`
	Destination     geomath.Point `json:"destination"`
	Profile         Profile       `json:"profile"`
	Geometry        string        `json:"geometry"`
	DistanceMeters  float64       `json:"distance_meters"`
	DurationSeconds float64       `json:"duration_seconds"`
	Steps           []RouteStep   `json:"steps"`
	DestinationName string        `json:"destination_name"`
	CachedAt        time.Time     `json:"cached_at"`
}

// FromCachedRoute rebuilds a route from a cache entry
func FromCachedRoute(c *CachedRoute) (*NavigationRoute, error) {
	if c == nil {
		return nil, ErrNoRoute
	}
	route, err := FromOsrmCoordinates(c.Geometry, c.DistanceMeters, c.DurationSeconds, c.DestinationName)
	if err != nil {
		return nil, err
	}
	if len(c.Steps) > 0 {
		route.Steps = append([]RouteStep(nil), c.Steps...)
	}
	route.Source = SourceCache
	return route, nil
}

// FromOsrmResponse builds a route from the first alternative of a response
func FromOsrmResponse(resp *OSRMResponse, destinationName string) (*NavigationRoute, error) {
	if resp == nil || !strings.EqualFold(resp.Code, "Ok") || len(resp.Routes) == 0 {
		return nil, ErrNoRoute
	}
	best := resp.Routes[0]

	route, err := FromOsrmCoordinates(best.Geometry, best.Distance, best.Duration, destinationName)
	if err != nil {
		return nil, err
	}

	var steps []RouteStep
	for _, leg := range best.Legs {
		for _, s := range leg.Steps {
			steps = append(steps, RouteStep{
				Instruction:    osrmInstruction(s),
				DistanceMeters: s.Distance,
				Duration:       seconds(s.Duration),
				Maneuver:       osrmManeuver(s.Maneuver.Type),
				Street:         s.Name,
			})
		}
	}
	if len(steps) > 0 {
		route.Steps = steps
	}
	route.Source = SourceNetwork
	return route, nil
}

// FromOsrmCoordinates builds a route from an encoded polyline plus the
// distance and duration the service reported for it
func FromOsrmCoordinates(encoded string, distanceMeters, durationSeconds float64, destinationName string) (*NavigationRoute, error) {
	waypoints, err := DecodeGeometry(encoded)
	if err != nil {
		return nil, err
	}
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: geometry has %d points", ErrNoRoute, len(waypoints))
	}

	return &NavigationRoute{
		Waypoints: waypoints,
		Steps: []RouteStep{
			{
				Instruction:    "Follow the route",
				DistanceMeters: distanceMeters,
				Duration:       seconds(durationSeconds),
				Maneuver:       ManeuverDepart,
			},
			arriveStep(destinationName),
		},
		DestinationName:     destinationName,
		TotalDistanceMeters: distanceMeters,
		EstimatedDuration:   seconds(durationSeconds),
		IsDirectRoute:       false,
		Source:              SourceNetwork,
	}, nil
}

// DecodeGeometry decodes a precision-5 encoded polyline
func DecodeGeometry(encoded string) ([]geomath.Point, error) {
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode geometry: %v", ErrNoRoute, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in geometry", ErrNoRoute, len(rest))
	}
	points := make([]geomath.Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, geomath.Point{Lat: c[0], Lon: c[1]})
	}
	return points, nil
}

// EncodeGeometry is the inverse of DecodeGeometry
func EncodeGeometry(points []geomath.Point) string {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return string(polyline.EncodeCoords(coords))
}

// BuildDirectRoute builds a straight-line route between two points
func BuildDirectRoute(from geomath.Point, to Destination, profile Profile) *NavigationRoute {
	meters := geomath.Distance(from, to.Point)
	duration := travelTime(meters, ProfileSpeedKmh(profile))
	bearing := geomath.Bearing(from, to.Point)

	return &NavigationRoute{
		Waypoints: []geomath.Point{from, to.Point},
		Steps: []RouteStep{
			{
				Instruction:    fmt.Sprintf("Head %s for %s", compassPoint(bearing), formatDistance(meters)),
				DistanceMeters: meters,
				Duration:       duration,
				Maneuver:       ManeuverDepart,
			},
			arriveStep(to.Name),
		},
		DestinationName:     to.Name,
		TotalDistanceMeters: meters,
		EstimatedDuration:   duration,
		IsDirectRoute:       true,
		InitialBearing:      bearing,
		Source:              SourceDirect,
	}
}

// BuildDirectRoutes builds one direct route per destination
func BuildDirectRoutes(from geomath.Point, destinations []Destination, profile Profile) []*NavigationRoute {
	routes := make([]*NavigationRoute, 0, len(destinations))
	for _, d := range destinations {
		routes = append(routes, BuildDirectRoute(from, d, profile))
	}
	return routes
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

var compassPoints = []string{"north", "northeast", "east", "southeast", "south", "southwest", "west", "northwest"}

func compassPoint(bearing float64) string {
	idx := int((geomath.NormalizeBearing(bearing)+22.5)/45) % 8
	return compassPoints[idx]
}

func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}

func osrmManeuver(t string) Maneuver {
	switch t {
	case "depart":
		return ManeuverDepart
	case "arrive":
		return ManeuverArrive
	case "turn", "end of road", "fork", "on ramp", "off ramp", "roundabout", "rotary", "exit roundabout":
		return ManeuverTurn
	default:
		return ManeuverContinue
	}
}

func osrmInstruction(s OSRMStep) string {
	m := s.Maneuver
	onto := ""
	if s.Name != "" {
		onto = " onto " + s.Name
	}
	switch m.Type {
	case "depart":
		if s.Name != "" {
			return fmt.Sprintf("Head %s on %s", compassPoint(m.BearingAfter), s.Name)
		}
		return "Head " + compassPoint(m.BearingAfter)
	case "arrive":
		return "Arrive at destination"
	case "turn", "end of road", "fork":
		if m.Modifier != "" {
			return "Turn " + m.Modifier + onto
		}
		return "Turn" + onto
	case "roundabout", "rotary":
		return "Enter the roundabout and exit" + onto
	default:
		if m.Modifier != "" && m.Modifier != "straight" {
			return "Continue " + m.Modifier + onto
		}
		return "Continue" + onto
	}
}
