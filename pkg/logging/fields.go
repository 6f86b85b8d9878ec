package logging

import (
	"fmt"
	"time"
)

const componentKey = "component"

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component names the subsystem emitting the line
func Component(name string) Field {
	return String(componentKey, name)
}

// Tile tags a line with a slippy-map tile id ("z-x-y")
func Tile(z, x, y int) Field {
	return String("tile", fmt.Sprintf("%d-%d-%d", z, x, y))
}

func Tier(name string) Field {
	return String("tier", name)
}

func TripID(id string) Field {
	return String("trip_id", id)
}

func NodeID(id string) Field {
	return String("node_id", id)
}

func Zoom(z int) Field {
	return Int("zoom", z)
}

func Bytes(n int64) Field {
	return Int64("bytes", n)
}

func Location(lat, lon float64) Field {
	return String("location", fmt.Sprintf("%.5f,%.5f", lat, lon))
}

func Meters(key string, m float64) Field {
	return Float64(key+"_m", m)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}
