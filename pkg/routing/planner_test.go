package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-geoengine/pkg/device"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
	"github.com/dd0wney/cluso-geoengine/pkg/navigation"
)

// fakeOSRM serves a fixed two-point route and counts requests
func fakeOSRM(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(OSRMResponse{Code: "InvalidUrl"})
			return
		}
		if r.URL.Query().Get("geometries") != "polyline" || r.URL.Query().Get("steps") != "true" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(OSRMResponse{Code: "InvalidQuery"})
			return
		}
		json.NewEncoder(w).Encode(OSRMResponse{
			Code: "Ok",
			Routes: []OSRMRoute{{
				Geometry: EncodeGeometry([]geomath.Point{{Lat: 48.85, Lon: 2.35}, {Lat: 48.86, Lon: 2.36}}),
				Distance: 1400,
				Duration: 200,
			}},
		})
	}))
}

func newClient(url string, conn device.Connectivity) *OSRMClient {
	return NewOSRMClient(OSRMClientConfig{BaseURL: url, RequestsPerSecond: 100}, conn, metrics.NewRegistry(), logging.NewNopLogger())
}

func TestOSRMClient_FetchRoute(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls)
	defer srv.Close()

	client := newClient(srv.URL, device.NewSwitch(true))
	resp, err := client.FetchRoute(context.Background(), geomath.Point{Lat: 48.85, Lon: 2.35}, geomath.Point{Lat: 48.86, Lon: 2.36}, ProfileDriving)
	require.NoError(t, err)
	assert.Equal(t, "Ok", resp.Code)
	assert.Equal(t, 1400.0, resp.Routes[0].Distance)

	_, err = client.FetchRoute(context.Background(), geomath.Point{}, geomath.Point{}, Profile("boat"))
	assert.True(t, errors.Is(err, ErrRoutingUnavailable), "got %v", err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOSRMClient_Offline(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls)
	defer srv.Close()

	client := newClient(srv.URL, device.NewSwitch(false))
	_, err := client.FetchRoute(context.Background(), geomath.Point{}, geomath.Point{}, ProfileDriving)
	assert.True(t, errors.Is(err, ErrOffline))
	assert.Zero(t, calls.Load(), "offline must not touch the network")

	unconfigured := newClient("", nil)
	_, err = unconfigured.FetchRoute(context.Background(), geomath.Point{}, geomath.Point{}, ProfileDriving)
	assert.True(t, errors.Is(err, ErrRoutingUnavailable))
}

func TestOSRMClient_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(OSRMResponse{Code: "NoRoute", Message: "Impossible route"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, nil).FetchRoute(context.Background(), geomath.Point{}, geomath.Point{Lat: 1}, ProfileDriving)
	assert.True(t, errors.Is(err, ErrNoRoute), "got %v", err)
}

func TestOSRMClient_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOSRM(t, &calls)
	defer srv.Close()

	client := NewOSRMClient(OSRMClientConfig{BaseURL: srv.URL, RequestsPerSecond: 1}, nil, metrics.NewRegistry(), logging.NewNopLogger())

	_, err := client.FetchRoute(context.Background(), geomath.Point{}, geomath.Point{Lat: 1}, ProfileDriving)
	require.NoError(t, err)

	// the bucket is empty now; a short deadline cannot wait a full second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.FetchRoute(ctx, geomath.Point{}, geomath.Point{Lat: 1}, ProfileDriving)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

// stubFetcher returns canned responses
type stubFetcher struct {
	resp  *OSRMResponse
	err   error
	calls int
}

func (s *stubFetcher) FetchRoute(ctx context.Context, origin, destination geomath.Point, profile Profile) (*OSRMResponse, error) {
	s.calls++
	return s.resp, s.err
}

func okResponse() *OSRMResponse {
	return &OSRMResponse{
		Code: "Ok",
		Routes: []OSRMRoute{{
			Geometry: EncodeGeometry([]geomath.Point{{Lat: 10, Lon: 10}, {Lat: 10.1, Lon: 10.1}}),
			Distance: 15000,
			Duration: 1200,
		}},
	}
}

func TestPlanner_PrefersGraph(t *testing.T) {
	holder := navigation.NewHolder(harbourGraph())
	fetcher := &stubFetcher{resp: okResponse()}
	planner := NewPlanner(holder, NewRouteCache(4, time.Minute), fetcher, metrics.NewRegistry(), logging.NewNopLogger())

	route, err := planner.BuildRoute(context.Background(), RouteRequest{
		Origin:      geomath.Point{Lat: 0, Lon: 0},
		Destination: Destination{Name: "Ridge", Point: geomath.Point{Lat: 0.01, Lon: 0.01}},
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGraph, route.Source)
	assert.Zero(t, fetcher.calls)
}

func TestPlanner_FallbackChain(t *testing.T) {
	fetcher := &stubFetcher{resp: okResponse()}
	cache := NewRouteCache(4, time.Minute)
	planner := NewPlanner(navigation.NewHolder(harbourGraph()), cache, fetcher, metrics.NewRegistry(), logging.NewNopLogger())

	// far from the graph: network first, cached afterwards
	req := RouteRequest{
		Origin:      geomath.Point{Lat: 10, Lon: 10},
		Destination: Destination{Name: "Market", Point: geomath.Point{Lat: 10.1, Lon: 10.1}},
	}

	route, err := planner.BuildRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, route.Source)
	assert.Equal(t, 1, cache.Size())

	route, err = planner.BuildRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, route.Source)
	assert.Equal(t, 1, fetcher.calls, "cached route must not refetch")
	assert.Equal(t, "Market", route.DestinationName)
}

func TestPlanner_DirectWhenOffline(t *testing.T) {
	fetcher := &stubFetcher{err: ErrOffline}
	planner := NewPlanner(nil, NewRouteCache(4, time.Minute), fetcher, metrics.NewRegistry(), logging.NewNopLogger())

	route, err := planner.BuildRoute(context.Background(), RouteRequest{
		Origin:      geomath.Point{Lat: 10, Lon: 10},
		Destination: Destination{Name: "Market", Point: geomath.Point{Lat: 10.1, Lon: 10.1}},
		Profile:     ProfileWalking,
	})
	require.NoError(t, err)
	assert.Equal(t, SourceDirect, route.Source)
	assert.True(t, route.IsDirectRoute)
}

func TestPlanner_GraphUnreachableFallsThrough(t *testing.T) {
	g := harbourGraph()
	// R is in range of the origin but nothing leads back to P
	planner := NewPlanner(navigation.NewHolder(g), nil, nil, metrics.NewRegistry(), logging.NewNopLogger())

	route, err := planner.BuildRoute(context.Background(), RouteRequest{
		Origin:      geomath.Point{Lat: 0.01, Lon: 0.01},
		Destination: Destination{Name: "Port", Point: geomath.Point{Lat: 0, Lon: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, SourceDirect, route.Source)
}

func TestPlanner_Cancelled(t *testing.T) {
	planner := NewPlanner(nil, nil, &stubFetcher{err: context.Canceled}, metrics.NewRegistry(), logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := planner.BuildRoute(ctx, RouteRequest{Destination: Destination{Point: geomath.Point{Lat: 1}}})
	assert.True(t, errors.Is(err, context.Canceled))
}
