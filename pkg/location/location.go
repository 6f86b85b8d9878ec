// Package location feeds device position fixes onto the engine's event bus.
// A Source has an explicit Start/Stop lifetime and publishes every accepted
// fix on pubsub.TopicLocationFix.
package location

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/pubsub"
)

var (
	ErrAlreadyStarted = errors.New("location source already started")
	ErrInvalidFix     = errors.New("invalid location fix")
)

// Fix is one position report
type Fix struct {
	Lat            float64   `json:"lat" validate:"latitude"`
	Lon            float64   `json:"lon" validate:"longitude"`
	AccuracyMeters float64   `json:"accuracy_m,omitempty" validate:"gte=0"`
	SpeedMps       float64   `json:"speed_mps,omitempty"`
	Bearing        float64   `json:"bearing,omitempty"`
	Time           time.Time `json:"time"`
}

// Point returns the fix position
func (f Fix) Point() geomath.Point {
	return geomath.Point{Lat: f.Lat, Lon: f.Lon}
}

var validate = validator.New()

// Validate rejects fixes that are off the globe or not numbers
func (f Fix) Validate() error {
	if math.IsNaN(f.Lat) || math.IsNaN(f.Lon) || math.IsNaN(f.AccuracyMeters) {
		return fmt.Errorf("%w: not a number", ErrInvalidFix)
	}
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	return nil
}

// Source produces fixes until stopped
type Source interface {
	Start() error
	Stop() error
}

// gate drops invalid and out-of-order fixes before they reach the bus
type gate struct {
	bus  *pubsub.PubSub
	last time.Time
}

// offer publishes f when it is valid and not older than the last fix. Fixes
// without a timestamp are stamped with now.
func (g *gate) offer(f Fix, now time.Time) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, err
	}
	if f.Time.IsZero() {
		f.Time = now
	}
	if f.Time.Before(g.last) {
		return false, nil
	}
	g.last = f.Time
	g.bus.Publish(pubsub.TopicLocationFix, f)
	return true, nil
}
