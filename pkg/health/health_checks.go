package health

import (
	"context"
	"fmt"
)

// Capacity thresholds, as a share of the configured limit
const (
	CapacityDegradedPercent  = 90.0
	CapacityUnhealthyPercent = 150.0
)

// DatabaseCheck reports whether a database answers a ping
func DatabaseCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name: "database",
		}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// CapacityCheck reports a bounded store's usage against its limit. Usage at
// the prefetch guard threshold is degraded; usage far past the limit means
// eviction is not keeping up.
func CapacityCheck(name string, getUsage func(ctx context.Context) (used, limit int64, err error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    name,
			Details: make(map[string]any),
		}

		used, limit, err := getUsage(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["used_bytes"] = used
		check.Details["limit_bytes"] = limit
		if limit <= 0 {
			check.Status = StatusHealthy
			check.Message = "Unbounded"
			return check
		}

		usagePercent := float64(used) / float64(limit) * 100
		check.Details["usage_percent"] = usagePercent

		switch {
		case usagePercent > CapacityUnhealthyPercent:
			check.Status = StatusUnhealthy
			check.Message = "Eviction is not keeping up"
		case usagePercent >= CapacityDegradedPercent:
			check.Status = StatusDegraded
			check.Message = "Near capacity, prefetch suspended"
		default:
			check.Status = StatusHealthy
			check.Message = "Within capacity"
		}

		return check
	}
}

// ConnectivityCheck reports whether the engine can reach the network.
// Offline is degraded, not unhealthy: cached tiles and graph routes still work.
func ConnectivityCheck(online func() bool) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:   "connectivity",
			Status: StatusHealthy,
		}
		if online() {
			check.Message = "Online"
		} else {
			check.Status = StatusDegraded
			check.Message = "Offline, serving cached data only"
		}
		return check
	}
}

// GraphCheck reports the loaded navigation graph
func GraphCheck(getGraph func() (tripID string, nodes, edges int, loaded bool)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "navigation_graph",
			Status:  StatusHealthy,
			Details: make(map[string]any),
		}

		tripID, nodes, edges, loaded := getGraph()
		if !loaded {
			check.Message = "No trip loaded"
			return check
		}
		check.Details["trip_id"] = tripID
		check.Details["nodes"] = nodes
		check.Details["edges"] = edges
		check.Message = fmt.Sprintf("%d nodes, %d edges", nodes, edges)
		return check
	}
}

// MemoryCheck compares heap in use against memory obtained from the OS
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}

// ClosedCheck is unhealthy once closed reports true
func ClosedCheck(closed func() bool) CheckFunc {
	return func(context.Context) Check {
		if closed() {
			return Check{Status: StatusUnhealthy, Message: "closed"}
		}
		return Check{Status: StatusHealthy, Message: "running"}
	}
}
