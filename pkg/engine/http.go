package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/location"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/routing"
	"github.com/dd0wney/cluso-geoengine/pkg/server"
	"github.com/dd0wney/cluso-geoengine/pkg/tiles"
	"github.com/dd0wney/cluso-geoengine/pkg/trips"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Header naming the tier that served a tile
const TileSourceHeader = server.TileSourceHeader

type handlers struct {
	e      *Engine
	logger logging.Logger
}

// NewRouter exposes the engine over HTTP
func NewRouter(e *Engine) *mux.Router {
	h := &handlers{e: e, logger: logging.ForComponent(e.logger, "http")}

	r := mux.NewRouter()
	r.Use(server.MetricsMiddleware(e.metrics), server.LoggingMiddleware(e.logger))

	r.HandleFunc("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png", h.getTile).Methods(http.MethodGet)
	r.HandleFunc("/route", h.getRoute).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.getStats).Methods(http.MethodGet)
	r.HandleFunc("/prefetch", h.postPrefetch).Methods(http.MethodPost)
	r.HandleFunc("/location", h.postLocation).Methods(http.MethodPost)
	r.HandleFunc("/cache", h.deleteCache).Methods(http.MethodDelete)
	r.HandleFunc("/trips", h.listTrips).Methods(http.MethodGet)
	r.HandleFunc("/trips/{id}/download", h.downloadTrip).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/load", h.loadTrip).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(e.metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	r.HandleFunc("/health", e.health.HTTPHandler())
	r.HandleFunc("/ready", e.health.ReadinessHandler())
	r.HandleFunc("/live", e.health.LivenessHandler())
	return r
}

func (h *handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("encode response", logging.Error(err))
	}
}

func (h *handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// ParsePoint reads "lat,lon" in degrees
func ParsePoint(s string) (geomath.Point, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return geomath.Point{}, fmt.Errorf("want lat,lon: %q", s)
	}
	p := geomath.Point{}
	var err error
	if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return geomath.Point{}, fmt.Errorf("latitude: %w", err)
	}
	if p.Lon, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
		return geomath.Point{}, fmt.Errorf("longitude: %w", err)
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return geomath.Point{}, fmt.Errorf("out of range: %q", s)
	}
	return p, nil
}

// optionalPoint reads ?at=lat,lon when present
func optionalPoint(r *http.Request, key string) (*geomath.Point, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	p, err := ParsePoint(v)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (h *handlers) getTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	z, _ := strconv.Atoi(vars["z"])
	x, _ := strconv.Atoi(vars["x"])
	y, _ := strconv.Atoi(vars["y"])

	hint, err := optionalPoint(r, "at")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.e.source.GetTile(r.Context(), z, x, y, hint)
	w.Header().Set(TileSourceHeader, string(res.Source))
	switch {
	case errors.Is(err, tiles.ErrInvalidTile):
		h.respondError(w, http.StatusBadRequest, "invalid tile coordinate")
		return
	case err != nil:
		h.respondError(w, http.StatusNotFound, "tile unavailable")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	if res.TripID != "" {
		w.Header().Set("X-Trip-ID", res.TripID)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

func (h *handlers) getRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := ParsePoint(q.Get("from"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := ParsePoint(q.Get("to"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	req := routing.RouteRequest{
		Origin:            from,
		Destination:       routing.Destination{Name: q.Get("name"), Point: to},
		DestinationNodeID: q.Get("node"),
		Profile:           routing.Profile(q.Get("profile")),
	}
	switch req.Profile {
	case "", routing.ProfileDriving, routing.ProfileWalking, routing.ProfileCycling:
	default:
		h.respondError(w, http.StatusBadRequest, "unknown profile")
		return
	}

	route, err := h.e.Route(r.Context(), req)
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "route failed")
		return
	}
	h.respondJSON(w, http.StatusOK, route)
}

func (h *handlers) getStats(w http.ResponseWriter, r *http.Request) {
	stats := h.e.source.Stats(r.Context())
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, stats.String())
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *handlers) postPrefetch(w http.ResponseWriter, r *http.Request) {
	at, err := optionalPoint(r, "at")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if at == nil {
		st := h.e.live.State()
		if !st.HasLocation {
			h.respondError(w, http.StatusBadRequest, "no location: pass ?at=lat,lon")
			return
		}
		at = &st.LastLocation
	}

	res, err := h.e.source.Prefetch(r.Context(), *at, nil)
	switch {
	case errors.Is(err, tiles.ErrPrefetchRunning):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tiles.ErrOffline):
		h.respondJSON(w, http.StatusServiceUnavailable, res)
	case err != nil:
		h.respondJSON(w, http.StatusAccepted, res)
	default:
		h.respondJSON(w, http.StatusOK, res)
	}
}

func (h *handlers) postLocation(w http.ResponseWriter, r *http.Request) {
	var fix location.Fix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := fix.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.e.PushFix(fix) {
		h.respondError(w, http.StatusServiceUnavailable, "location intake unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) deleteCache(w http.ResponseWriter, r *http.Request) {
	if err := h.e.source.ClearAll(r.Context()); err != nil {
		h.logger.Error("clear cache", logging.Error(err))
		h.respondError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listTrips(w http.ResponseWriter, r *http.Request) {
	all, err := h.e.trips.DownloadedTrips(r.Context())
	if err != nil {
		h.logger.Error("list trips", logging.Error(err))
		h.respondError(w, http.StatusInternalServerError, "list trips failed")
		return
	}
	if all == nil {
		all = []trips.DownloadedTrip{}
	}
	h.respondJSON(w, http.StatusOK, all)
}

func (h *handlers) downloadTrip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.e.DownloadTrip(r.Context(), id, nil)
	switch {
	case errors.Is(err, ErrUnknownTrip):
		h.respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.respondJSON(w, http.StatusAccepted, res)
	default:
		h.respondJSON(w, http.StatusOK, res)
	}
}

func (h *handlers) loadTrip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.e.LoadTrip(r.Context(), id)
	switch {
	case errors.Is(err, trips.ErrTripNotFound), errors.Is(err, trips.ErrNoGraph):
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.logger.Error("load trip", logging.TripID(id), logging.Error(err))
		h.respondError(w, http.StatusInternalServerError, "load failed")
		return
	}
	g := h.e.Graph()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"trip_id": g.TripID,
		"nodes":   g.NodeCount(),
		"edges":   g.EdgeCount(),
	})
}
