// README: Google Maps adapter for route geometry, traffic-aware ETAs and traffic level.
package maps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"ridetrack/internal/metrics"
	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

var (
	ErrNoRoute      = errors.New("no route found")
	ErrInvalidPoint = errors.New("invalid coordinates")
)

// ProviderError wraps every failed call to the mapping provider.
type ProviderError struct {
	Op     string
	Status string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("maps %s failed (%s): %v", e.Op, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type TrafficLevel string

const (
	TrafficLight    TrafficLevel = "light"
	TrafficModerate TrafficLevel = "moderate"
	TrafficHeavy    TrafficLevel = "heavy"
)

type ETA struct {
	DistanceMeters           float64   `json:"distance_meters"`
	DurationSeconds          float64   `json:"duration_seconds"`
	DurationInTrafficSeconds float64   `json:"duration_in_traffic_seconds"`
	ArrivalAt                time.Time `json:"arrival_at"`
}

type TrafficCondition struct {
	Level                    TrafficLevel `json:"level"`
	Ratio                    float64      `json:"ratio"`
	DurationSeconds          float64      `json:"duration_seconds"`
	DurationInTrafficSeconds float64      `json:"duration_in_traffic_seconds"`
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client  *maps.Client
	cache   *RouteCache
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewRouteService creates a RouteService with the given API key. cache may
// be nil. Extra client options are appended after the key.
func NewRouteService(apiKey string, timeout time.Duration, cache *RouteCache, logger *slog.Logger, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RouteService{client: client, cache: cache, timeout: timeout, logger: logger, now: time.Now}, nil
}

// Route fetches a driving route through the optional waypoints.
func (s *RouteService) Route(ctx context.Context, origin, destination types.Point, waypoints []types.Point) (*tracking.Route, error) {
	if !origin.Valid() || !destination.Valid() {
		return nil, ErrInvalidPoint
	}
	points := append([]types.Point{origin, destination}, waypoints...)
	for _, p := range waypoints {
		if !p.Valid() {
			return nil, ErrInvalidPoint
		}
	}

	key := routeKey(points)
	if route, ok := s.cachedRoute(ctx, key); ok {
		metrics.TrackProviderRequest("directions", "OK", true, 0)
		return route, nil
	}

	req := &maps.DirectionsRequest{
		Origin:        origin.LatLng(),
		Destination:   destination.LatLng(),
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
	}
	for _, w := range waypoints {
		req.Waypoints = append(req.Waypoints, w.LatLng())
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	routes, _, err := s.client.Directions(cctx, req)
	if err != nil {
		perr := providerError("directions", err)
		metrics.TrackProviderRequest("directions", perr.Status, false, time.Since(start))
		return nil, perr
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		metrics.TrackProviderRequest("directions", "ZERO_RESULTS", false, time.Since(start))
		return nil, &ProviderError{Op: "directions", Status: "ZERO_RESULTS", Err: ErrNoRoute}
	}
	metrics.TrackProviderRequest("directions", "OK", false, time.Since(start))

	route := toRoute(routes[0])
	s.storeRoute(ctx, key, route)
	return route, nil
}

// ETA returns the traffic-aware travel estimate for departing now.
func (s *RouteService) ETA(ctx context.Context, origin, destination types.Point) (*ETA, error) {
	if !origin.Valid() || !destination.Valid() {
		return nil, ErrInvalidPoint
	}
	req := &maps.DistanceMatrixRequest{
		Origins:       []string{origin.LatLng()},
		Destinations:  []string{destination.LatLng()},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		TrafficModel:  maps.TrafficModelBestGuess,
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	resp, err := s.client.DistanceMatrix(cctx, req)
	if err != nil {
		perr := providerError("distance_matrix", err)
		metrics.TrackProviderRequest("distance_matrix", perr.Status, false, time.Since(start))
		return nil, perr
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		metrics.TrackProviderRequest("distance_matrix", "ZERO_RESULTS", false, time.Since(start))
		return nil, &ProviderError{Op: "distance_matrix", Status: "ZERO_RESULTS", Err: ErrNoRoute}
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		metrics.TrackProviderRequest("distance_matrix", el.Status, false, time.Since(start))
		return nil, &ProviderError{Op: "distance_matrix", Status: el.Status, Err: ErrNoRoute}
	}
	metrics.TrackProviderRequest("distance_matrix", "OK", false, time.Since(start))

	eta := &ETA{
		DistanceMeters:           float64(el.Distance.Meters),
		DurationSeconds:          el.Duration.Seconds(),
		DurationInTrafficSeconds: el.DurationInTraffic.Seconds(),
	}
	travel := el.DurationInTraffic
	if travel <= 0 {
		travel = el.Duration
	}
	eta.ArrivalAt = s.now().Add(travel)
	return eta, nil
}

// Traffic classifies congestion by the ratio of traffic to free-flow duration.
func (s *RouteService) Traffic(ctx context.Context, origin, destination types.Point) (*TrafficCondition, error) {
	eta, err := s.ETA(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	ratio := 1.0
	if eta.DurationSeconds > 0 && eta.DurationInTrafficSeconds > 0 {
		ratio = eta.DurationInTrafficSeconds / eta.DurationSeconds
	}
	return &TrafficCondition{
		Level:                    ClassifyTraffic(ratio),
		Ratio:                    ratio,
		DurationSeconds:          eta.DurationSeconds,
		DurationInTrafficSeconds: eta.DurationInTrafficSeconds,
	}, nil
}

func ClassifyTraffic(ratio float64) TrafficLevel {
	switch {
	case ratio > 1.5:
		return TrafficHeavy
	case ratio > 1.2:
		return TrafficModerate
	default:
		return TrafficLight
	}
}

func (s *RouteService) cachedRoute(ctx context.Context, key string) (*tracking.Route, bool) {
	if s.cache == nil {
		return nil, false
	}
	var route tracking.Route
	found, err := s.cache.Get(ctx, key, &route)
	if err != nil {
		s.logger.Warn("route cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &route, true
}

func (s *RouteService) storeRoute(ctx context.Context, key string, route *tracking.Route) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, route); err != nil {
		s.logger.Warn("route cache write failed", "key", key, "error", err)
	}
}

func toRoute(r maps.Route) *tracking.Route {
	out := &tracking.Route{}
	for _, leg := range r.Legs {
		out.Legs = append(out.Legs, tracking.RouteLeg{
			Start:           types.Point{Lat: leg.StartLocation.Lat, Lng: leg.StartLocation.Lng},
			End:             types.Point{Lat: leg.EndLocation.Lat, Lng: leg.EndLocation.Lng},
			DistanceMeters:  float64(leg.Distance.Meters),
			DurationSeconds: leg.Duration.Seconds(),
		})
		out.DistanceMeters += float64(leg.Distance.Meters)
		out.DurationSeconds += leg.Duration.Seconds()
	}
	if path, err := r.OverviewPolyline.Decode(); err == nil {
		for _, p := range path {
			out.Polyline = append(out.Polyline, types.Point{Lat: p.Lat, Lng: p.Lng})
		}
	}
	return out
}

// providerError extracts the API status from errors shaped
// "maps: STATUS - message".
func providerError(op string, err error) *ProviderError {
	status := "ERROR"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "TIMEOUT"
	case errors.Is(err, context.Canceled):
		status = "CANCELED"
	default:
		msg := err.Error()
		if rest, ok := strings.CutPrefix(msg, "maps: "); ok {
			if i := strings.Index(rest, " "); i > 0 {
				status = rest[:i]
			} else if rest != "" {
				status = rest
			}
		}
	}
	return &ProviderError{Op: op, Status: status, Err: err}
}
