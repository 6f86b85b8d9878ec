package routing

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
	"github.com/dd0wney/cluso-geoengine/pkg/navigation"
)

// RouteRequest asks for directions from Origin to Destination
type RouteRequest struct {
	Origin      geomath.Point
	Destination Destination
	// DestinationNodeID pins the graph target. When empty the node nearest
	// the destination is used if it lies within segment routing range.
	DestinationNodeID string
	Profile           Profile
}

// Planner resolves a request through graph, cached, network and direct
// sources in that order
type Planner struct {
	graphs  *navigation.Holder
	cache   *RouteCache
	fetcher RouteFetcher
	metrics *metrics.Registry
	logger  logging.Logger
}

// NewPlanner creates a planner. graphs, cache and fetcher may each be nil to
// skip that source.
func NewPlanner(graphs *navigation.Holder, cache *RouteCache, fetcher RouteFetcher, reg *metrics.Registry, logger logging.Logger) *Planner {
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &Planner{
		graphs:  graphs,
		cache:   cache,
		fetcher: fetcher,
		metrics: reg,
		logger:  logging.ForComponent(logger, "planner"),
	}
}

// BuildRoute always returns a route unless ctx is cancelled: the direct
// route is the offline fallback
func (p *Planner) BuildRoute(ctx context.Context, req RouteRequest) (*NavigationRoute, error) {
	if req.Profile == "" {
		req.Profile = ProfileDriving
	}
	start := time.Now()

	route, err := p.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	p.metrics.RecordRouteBuild(string(route.Source), time.Since(start))
	p.logger.Debug("route built",
		logging.String("source", string(route.Source)),
		logging.Meters("distance", route.TotalDistanceMeters),
		logging.Latency(time.Since(start)))
	return route, nil
}

func (p *Planner) resolve(ctx context.Context, req RouteRequest) (*NavigationRoute, error) {
	if route := p.fromGraph(req); route != nil {
		return route, nil
	}

	if p.cache != nil {
		if cached, ok := p.cache.Get(req.Origin, req.Destination.Point, req.Profile); ok {
			route, err := FromCachedRoute(cached)
			if err == nil {
				return route, nil
			}
			p.logger.Warn("cached route unusable", logging.Error(err))
		}
	}

	if p.fetcher != nil {
		route, err := p.fromNetwork(ctx, req)
		if err == nil {
			return route, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrOffline) {
			p.logger.Info("falling back to direct route", logging.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BuildDirectRoute(req.Origin, req.Destination, req.Profile), nil
}

func (p *Planner) fromGraph(req RouteRequest) *NavigationRoute {
	if p.graphs == nil {
		return nil
	}
	g := p.graphs.Load()
	if g == nil || !g.IsWithinSegmentRoutingRange(req.Origin.Lat, req.Origin.Lon) {
		return nil
	}

	from := g.FindNearestNode(req.Origin.Lat, req.Origin.Lon)
	toID := req.DestinationNodeID
	if toID == "" {
		if !g.IsWithinSegmentRoutingRange(req.Destination.Point.Lat, req.Destination.Point.Lon) {
			return nil
		}
		toID = g.FindNearestNode(req.Destination.Point.Lat, req.Destination.Point.Lon).ID
	}

	searchStart := time.Now()
	path := g.FindPath(from.ID, toID)
	p.metrics.RecordPathSearch(len(path) > 0, time.Since(searchStart))
	if len(path) < 2 {
		return nil
	}

	route, err := FromSegmentPath(g, path, req.Destination.Name)
	if err != nil {
		p.logger.Warn("graph path unusable", logging.Error(err))
		return nil
	}
	return route
}

func (p *Planner) fromNetwork(ctx context.Context, req RouteRequest) (*NavigationRoute, error) {
	resp, err := p.fetcher.FetchRoute(ctx, req.Origin, req.Destination.Point, req.Profile)
	if err != nil {
		return nil, err
	}
	route, err := FromOsrmResponse(resp, req.Destination.Name)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		best := resp.Routes[0]
		p.cache.Put(&CachedRoute{
			Origin:          req.Origin,
			Destination:     req.Destination.Point,
			Profile:         req.Profile,
			Geometry:        best.Geometry,
			DistanceMeters:  best.Distance,
			DurationSeconds: best.Duration,
			Steps:           route.Steps,
			DestinationName: req.Destination.Name,
		})
		p.metrics.RouteCacheEntries.Set(float64(p.cache.Size()))
	}
	return route, nil
}
