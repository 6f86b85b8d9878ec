// Package health aggregates component checks for the engine's /health,
// /ready and /live endpoints.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether s outranks o
func (s Status) worse(o Status) bool {
	return s.rank() > o.rank()
}

func (s Status) rank() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return 0
}

// Probe selects which endpoints run a check
type Probe uint8

const (
	ProbeHealth Probe = 1 << iota
	ProbeReady
	ProbeLive
)

// DefaultCheckTimeout bounds a single check
const DefaultCheckTimeout = 2 * time.Second

// Check is the result of one component check
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc runs one check. ctx carries the per-check deadline.
type CheckFunc func(ctx context.Context) Check

type registration struct {
	name   string
	probes Probe
	fn     CheckFunc
}

// HealthChecker holds the engine's registered checks
type HealthChecker struct {
	mu        sync.RWMutex
	checks    []registration
	timeout   time.Duration
	startedAt time.Time
	now       func() time.Time
}

// Response is the aggregate answer of one probe
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Failing   []string         `json:"failing,omitempty"`
	Uptime    time.Duration    `json:"uptime_seconds"`
}
