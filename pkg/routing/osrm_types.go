package routing

// OSRMResponse is the body of an OSRM /route/v1 reply
type OSRMResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message,omitempty"`
	Routes    []OSRMRoute    `json:"routes"`
	Waypoints []OSRMWaypoint `json:"waypoints"`
}

// OSRMRoute is one alternative in a response
type OSRMRoute struct {
	Geometry string    `json:"geometry"`
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Legs     []OSRMLeg `json:"legs"`
}

// OSRMLeg is the part of a route between two input coordinates
type OSRMLeg struct {
	Summary  string     `json:"summary"`
	Distance float64    `json:"distance"`
	Duration float64    `json:"duration"`
	Steps    []OSRMStep `json:"steps"`
}

// OSRMStep is one maneuver within a leg
type OSRMStep struct {
	Name     string       `json:"name"`
	Mode     string       `json:"mode"`
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Geometry string       `json:"geometry"`
	Maneuver OSRMManeuver `json:"maneuver"`
}

// OSRMManeuver describes the action at the start of a step
type OSRMManeuver struct {
	Type          string    `json:"type"`
	Modifier      string    `json:"modifier,omitempty"`
	BearingBefore float64   `json:"bearing_before"`
	BearingAfter  float64   `json:"bearing_after"`
	Location      []float64 `json:"location"`
}

// OSRMWaypoint is an input coordinate snapped to the road network
type OSRMWaypoint struct {
	Name     string    `json:"name"`
	Location []float64 `json:"location"`
}
