package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func healthy(context.Context) Check   { return Check{Status: StatusHealthy} }
func degraded(context.Context) Check  { return Check{Status: StatusDegraded} }
func unhealthy(context.Context) Check { return Check{Status: StatusUnhealthy} }

func TestRegisterSelectsProbes(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("tile_metadata", ProbeHealth|ProbeReady, healthy)
	hc.Register("live_tiles", ProbeHealth, healthy)
	hc.Register("engine", ProbeHealth|ProbeLive, healthy)
	hc.Register("trip_database", ProbeReady, healthy)

	if got, want := hc.Names(ProbeHealth), []string{"tile_metadata", "live_tiles", "engine"}; !reflect.DeepEqual(got, want) {
		t.Errorf("health probe runs %v, want %v", got, want)
	}
	if got, want := hc.Names(ProbeReady), []string{"tile_metadata", "trip_database"}; !reflect.DeepEqual(got, want) {
		t.Errorf("readiness probe runs %v, want %v", got, want)
	}
	if got, want := hc.Names(ProbeLive), []string{"engine"}; !reflect.DeepEqual(got, want) {
		t.Errorf("liveness probe runs %v, want %v", got, want)
	}

	resp := hc.CheckReadiness(context.Background())
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 readiness results, got %d", len(resp.Checks))
	}
	if c := resp.Checks["trip_database"]; c.Name != "trip_database" {
		t.Errorf("result not named after its registration: %+v", c)
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("engine", ProbeLive, unhealthy)
	hc.Register("engine", ProbeLive, healthy)

	resp := hc.CheckLiveness(context.Background())
	if len(resp.Checks) != 1 || resp.Status != StatusHealthy {
		t.Errorf("expected the replacement check only, got %+v", resp)
	}
}

func TestWorstStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		checks []CheckFunc
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []CheckFunc{healthy, healthy}, StatusHealthy},
		{"offline device", []CheckFunc{healthy, degraded}, StatusDegraded},
		{"unhealthy beats degraded", []CheckFunc{degraded, unhealthy, healthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for i, fn := range tt.checks {
				hc.Register(string(rune('a'+i)), ProbeHealth, fn)
			}
			resp := hc.Check(context.Background())
			if resp.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, resp.Status)
			}
		})
	}
}

func TestFailingListsNonHealthyChecks(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register("tile_metadata", ProbeHealth, unhealthy)
	hc.Register("connectivity", ProbeHealth, degraded)
	hc.Register("memory", ProbeHealth, healthy)

	resp := hc.Check(context.Background())
	if want := []string{"connectivity", "tile_metadata"}; !reflect.DeepEqual(resp.Failing, want) {
		t.Errorf("expected failing %v, got %v", want, resp.Failing)
	}
}

func TestSlowCheckTimesOut(t *testing.T) {
	hc := NewHealthChecker()
	hc.SetTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	hc.Register("trip_database", ProbeReady, func(ctx context.Context) Check {
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		return Check{Status: StatusHealthy}
	})
	hc.Register("tile_metadata", ProbeReady, healthy)

	start := time.Now()
	resp := hc.CheckReadiness(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("readiness waited %v for a stuck check", elapsed)
	}
	c := resp.Checks["trip_database"]
	if c.Status != StatusUnhealthy || c.Message != "check timed out" {
		t.Errorf("expected timed out check, got %+v", c)
	}
	if resp.Checks["tile_metadata"].Status != StatusHealthy {
		t.Error("a slow check must not affect the others")
	}
}

func TestDatabaseCheck(t *testing.T) {
	ok := DatabaseCheck(func(ctx context.Context) error {
		if _, has := ctx.Deadline(); !has {
			t.Error("ping should run under the check deadline")
		}
		return nil
	})
	hc := NewHealthChecker()
	hc.Register("tile_metadata", ProbeReady, ok)
	if c := hc.CheckReadiness(context.Background()).Checks["tile_metadata"]; c.Status != StatusHealthy || c.Message != "Connected" {
		t.Errorf("unexpected result %+v", c)
	}

	down := DatabaseCheck(func(context.Context) error { return errors.New("database is locked") })(context.Background())
	if down.Status != StatusUnhealthy || down.Message != "database is locked" {
		t.Errorf("unexpected result %+v", down)
	}
}

func TestCapacityCheck(t *testing.T) {
	const limit = 100 << 20
	tests := []struct {
		name   string
		used   int64
		limit  int64
		err    error
		status Status
		msg    string
	}{
		{"empty cache", 0, limit, nil, StatusHealthy, "Within capacity"},
		{"just under the prefetch guard", limit*89/100, limit, nil, StatusHealthy, "Within capacity"},
		{"at the prefetch guard", limit * 9 / 10, limit, nil, StatusDegraded, "Near capacity, prefetch suspended"},
		{"eviction falling behind", limit * 2, limit, nil, StatusUnhealthy, "Eviction is not keeping up"},
		{"no cap configured", 5 << 30, 0, nil, StatusHealthy, "Unbounded"},
		{"usage query fails", 0, limit, errors.New("sql: database is closed"), StatusUnhealthy, "sql: database is closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := CapacityCheck("live_tiles", func(context.Context) (int64, int64, error) {
				return tt.used, tt.limit, tt.err
			})(context.Background())
			if check.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, check.Status)
			}
			if check.Message != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, check.Message)
			}
		})
	}
}

func TestConnectivityCheck(t *testing.T) {
	online := true
	check := ConnectivityCheck(func() bool { return online })

	if c := check(context.Background()); c.Status != StatusHealthy {
		t.Errorf("online should be healthy, got %s", c.Status)
	}
	online = false
	if c := check(context.Background()); c.Status != StatusDegraded {
		t.Errorf("offline should be degraded, got %s", c.Status)
	}
}

func TestGraphCheck(t *testing.T) {
	empty := GraphCheck(func() (string, int, int, bool) { return "", 0, 0, false })(context.Background())
	if empty.Status != StatusHealthy || empty.Message != "No trip loaded" {
		t.Errorf("unexpected result %+v", empty)
	}

	loaded := GraphCheck(func() (string, int, int, bool) { return "lake-geneva", 3, 2, true })(context.Background())
	if loaded.Message != "3 nodes, 2 edges" || loaded.Details["trip_id"] != "lake-geneva" {
		t.Errorf("unexpected result %+v", loaded)
	}
}

func TestClosedCheck(t *testing.T) {
	closed := false
	check := ClosedCheck(func() bool { return closed })
	if c := check(context.Background()); c.Status != StatusHealthy {
		t.Errorf("running engine should be healthy, got %s", c.Status)
	}
	closed = true
	if c := check(context.Background()); c.Status != StatusUnhealthy {
		t.Errorf("closed engine should be unhealthy, got %s", c.Status)
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		health   int
		binaries int
	}{
		{"healthy", StatusHealthy, http.StatusOK, http.StatusOK},
		{"degraded keeps /health up", StatusDegraded, http.StatusOK, http.StatusServiceUnavailable},
		{"unhealthy", StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			hc.Register("engine", ProbeHealth|ProbeReady|ProbeLive, func(context.Context) Check {
				return Check{Status: tt.status}
			})

			handlers := []struct {
				path string
				h    http.HandlerFunc
				want int
			}{
				{"/health", hc.HTTPHandler(), tt.health},
				{"/ready", hc.ReadinessHandler(), tt.binaries},
				{"/live", hc.LivenessHandler(), tt.binaries},
			}
			for _, hh := range handlers {
				rec := httptest.NewRecorder()
				hh.h(rec, httptest.NewRequest(http.MethodGet, hh.path, nil))

				if rec.Code != hh.want {
					t.Errorf("%s: expected %d, got %d", hh.path, hh.want, rec.Code)
				}
				if rec.Header().Get("Content-Type") != "application/json" {
					t.Errorf("%s: expected Content-Type application/json", hh.path)
				}
				var resp Response
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("%s: decode: %v", hh.path, err)
				}
				if resp.Status != tt.status {
					t.Errorf("%s: expected %s, got %s", hh.path, tt.status, resp.Status)
				}
			}
		})
	}
}
