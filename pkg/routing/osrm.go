package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dd0wney/cluso-geoengine/pkg/device"
	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
)

// RouteFetcher asks an external service for a route
type RouteFetcher interface {
	FetchRoute(ctx context.Context, origin, destination geomath.Point, profile Profile) (*OSRMResponse, error)
}

// OSRMClientConfig configures an OSRMClient
type OSRMClientConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
}

// OSRMClient calls an OSRM-compatible /route/v1 endpoint. Requests are
// serialized and paced by a token bucket.
type OSRMClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	mu        sync.Mutex
	conn      device.Connectivity
	metrics   *metrics.Registry
	logger    logging.Logger
}

// NewOSRMClient creates a client. conn may be nil to always attempt requests.
func NewOSRMClient(cfg OSRMClientConfig, conn device.Connectivity, reg *metrics.Registry, logger logging.Logger) *OSRMClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &OSRMClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		conn:      conn,
		metrics:   reg,
		logger:    logging.ForComponent(logger, "osrm"),
	}
}

// FetchRoute requests a full-overview polyline route with steps
func (c *OSRMClient) FetchRoute(ctx context.Context, origin, destination geomath.Point, profile Profile) (*OSRMResponse, error) {
	if c.baseURL == "" {
		return nil, ErrRoutingUnavailable
	}
	if c.conn != nil && !c.conn.HasInternet() {
		return nil, ErrOffline
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.do(ctx, origin, destination, profile)
	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() != nil {
			status = "cancelled"
		}
	}
	c.metrics.RecordRoutingRequest(status, time.Since(start))
	if err != nil {
		c.logger.Warn("route request failed",
			logging.String("profile", string(profile)),
			logging.Error(err))
		return nil, err
	}
	return resp, nil
}

func (c *OSRMClient) do(ctx context.Context, origin, destination geomath.Point, profile Profile) (*OSRMResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.routeURL(origin, destination, profile), nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrRoutingUnavailable, err)
	}

	var out OSRMResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: status %d: %v", ErrRoutingUnavailable, res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK || !strings.EqualFold(out.Code, "Ok") {
		// OSRM reports NoRoute and friends with a 400 and a JSON body
		if strings.EqualFold(out.Code, "NoRoute") {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("%w: status %d code %q: %s", ErrRoutingUnavailable, res.StatusCode, out.Code, out.Message)
	}
	return &out, nil
}

func (c *OSRMClient) routeURL(origin, destination geomath.Point, profile Profile) string {
	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", origin.Lon, origin.Lat, destination.Lon, destination.Lat)
	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "polyline")
	q.Set("steps", "true")
	return fmt.Sprintf("%s/route/v1/%s/%s?%s", c.baseURL, url.PathEscape(string(profile)), coords, q.Encode())
}
