// Package geomath provides the distance, bearing and projection primitives
// shared by the navigation graph and the tile cache.
//
// All functions take and return degrees; radians are used only internally.
// Distances are in meters unless the function name says otherwise.
package geomath

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used for all great-circle math.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Haversine returns the great-circle distance between two coordinates in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// HaversineKm is Haversine in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) / 1000
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// InitialBearing returns the forward azimuth from the first coordinate to the
// second, normalized to [0, 360).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLambda := toRadians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return NormalizeBearing(toDegrees(math.Atan2(y, x)))
}

// Bearing is InitialBearing for points.
func Bearing(from, to Point) float64 {
	return InitialBearing(from.Lat, from.Lon, to.Lat, to.Lon)
}

// NormalizeBearing maps any angle in degrees into [0, 360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	// math.Mod(-0.0000001, 360) + 360 rounds to 360
	if b >= 360 {
		b = 0
	}
	return b
}

// Destination projects a point from a start coordinate along a bearing for
// the given distance in meters.
func Destination(lat, lon, bearingDeg, distanceMeters float64) Point {
	delta := distanceMeters / EarthRadiusMeters
	theta := toRadians(bearingDeg)
	phi1 := toRadians(lat)
	lambda1 := toRadians(lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) +
		math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	lon2 := math.Mod(toDegrees(lambda2)+540, 360) - 180
	return Point{Lat: toDegrees(phi2), Lon: lon2}
}

// Speed returns distance/elapsed in meters per second, or 0 when elapsed is
// not positive.
func Speed(distanceMeters float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return distanceMeters / elapsed.Seconds()
}

// BearingDifference returns the signed smallest rotation from bearing a to
// bearing b, in [-180, 180]. Positive means clockwise (a right turn).
func BearingDifference(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}
