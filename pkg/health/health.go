package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewHealthChecker creates a checker with DefaultCheckTimeout
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		timeout:   DefaultCheckTimeout,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// SetTimeout changes the per-check deadline
func (hc *HealthChecker) SetTimeout(d time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if d > 0 {
		hc.timeout = d
	}
}

// Register adds a check to every probe in probes. Registering a name again
// replaces the earlier check.
func (hc *HealthChecker) Register(name string, probes Probe, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for i, r := range hc.checks {
		if r.name == name {
			hc.checks[i] = registration{name: name, probes: probes, fn: check}
			return
		}
	}
	hc.checks = append(hc.checks, registration{name: name, probes: probes, fn: check})
}

// Names lists the checks a probe runs, in registration order
func (hc *HealthChecker) Names(probe Probe) []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	var names []string
	for _, r := range hc.checks {
		if r.probes&probe != 0 {
			names = append(names, r.name)
		}
	}
	return names
}

// Check runs the full check set
func (hc *HealthChecker) Check(ctx context.Context) Response {
	return hc.run(ctx, ProbeHealth)
}

// CheckReadiness runs the readiness checks
func (hc *HealthChecker) CheckReadiness(ctx context.Context) Response {
	return hc.run(ctx, ProbeReady)
}

// CheckLiveness runs the liveness checks
func (hc *HealthChecker) CheckLiveness(ctx context.Context) Response {
	return hc.run(ctx, ProbeLive)
}

// run executes the selected checks concurrently. A check that misses its
// deadline is reported unhealthy; the worst status wins.
func (hc *HealthChecker) run(ctx context.Context, probe Probe) Response {
	hc.mu.RLock()
	var selected []registration
	for _, r := range hc.checks {
		if r.probes&probe != 0 {
			selected = append(selected, r)
		}
	}
	timeout := hc.timeout
	hc.mu.RUnlock()

	results := make([]Check, len(selected))
	var wg sync.WaitGroup
	for i, r := range selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = hc.runOne(ctx, r, timeout)
		}()
	}
	wg.Wait()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: hc.now(),
		Checks:    make(map[string]Check, len(results)),
		Uptime:    time.Since(hc.startedAt).Truncate(time.Second),
	}
	for _, c := range results {
		response.Checks[c.Name] = c
		if c.Status != StatusHealthy {
			response.Failing = append(response.Failing, c.Name)
		}
		if c.Status.worse(response.Status) {
			response.Status = c.Status
		}
	}
	sort.Strings(response.Failing)
	return response
}

func (hc *HealthChecker) runOne(ctx context.Context, r registration, timeout time.Duration) Check {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := hc.now()
	done := make(chan Check, 1)
	go func() { done <- r.fn(cctx) }()

	var c Check
	select {
	case c = <-done:
	case <-cctx.Done():
		c = Check{Status: StatusUnhealthy, Message: "check timed out"}
	}
	c.Name = r.name
	if c.Status == "" {
		c.Status = StatusHealthy
	}
	c.LastChecked = start
	c.Duration = hc.now().Sub(start)
	return c
}
