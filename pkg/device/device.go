// Package device exposes the host conditions the engine consults before
// doing network work: Internet reachability and battery state.
package device

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
)

// LowBatteryPercent is the charge below which background work pauses
// unless the device is charging
const LowBatteryPercent = 20.0

// Connectivity reports whether the Internet is reachable. Implementations
// must answer without blocking.
type Connectivity interface {
	HasInternet() bool
}

// BatteryStatus is a point-in-time battery reading
type BatteryStatus struct {
	Percent  float64
	Charging bool
}

// Battery reports battery state. ok is false when the platform cannot tell.
type Battery interface {
	Status() (status BatteryStatus, ok bool)
}

// IsLowBattery reports whether background work should pause. A nil battery
// or an unknown reading never blocks work.
func IsLowBattery(b Battery) bool {
	if b == nil {
		return false
	}
	st, ok := b.Status()
	if !ok {
		return false
	}
	return st.Percent < LowBatteryPercent && !st.Charging
}

// Switch is a Connectivity whose state is set explicitly
type Switch struct {
	online atomic.Bool
}

// NewSwitch returns a switch in the given state
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

func (s *Switch) HasInternet() bool { return s.online.Load() }

// Set changes the reported state
func (s *Switch) Set(online bool) { s.online.Store(online) }

// FixedBattery always reports the same reading
type FixedBattery struct {
	Reading BatteryStatus
	Known   bool
}

func (b FixedBattery) Status() (BatteryStatus, bool) { return b.Reading, b.Known }

// Probe tracks reachability of a URL in the background so HasInternet can
// answer from memory
type Probe struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   logging.Logger
	online   atomic.Bool
}

// NewProbe creates a probe that starts out online
func NewProbe(url string, interval time.Duration, logger logging.Logger) *Probe {
	p := &Probe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logging.ForComponent(logger, "connectivity"),
	}
	p.online.Store(true)
	return p
}

func (p *Probe) HasInternet() bool { return p.online.Load() }

// Run probes until ctx is done
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return
	}
	resp, err := p.client.Do(req)
	online := err == nil
	if resp != nil {
		resp.Body.Close()
	}
	if was := p.online.Swap(online); was != online {
		p.logger.Info("connectivity changed", logging.Bool("online", online))
	}
}
