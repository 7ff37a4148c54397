// README: Handler tests over the full router with the in-memory tracking store.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httpapi "ridetrack/internal/http"
	"ridetrack/internal/maps"
	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

// stubPlanner is a test double for handlers.RoutePlanner.
type stubPlanner struct {
	route   *tracking.Route
	eta     *maps.ETA
	traffic *maps.TrafficCondition
	err     error
	calls   int
}

func (p *stubPlanner) Route(_ context.Context, _, _ types.Point, _ []types.Point) (*tracking.Route, error) {
	p.calls++
	return p.route, p.err
}

func (p *stubPlanner) ETA(_ context.Context, _, _ types.Point) (*maps.ETA, error) {
	p.calls++
	return p.eta, p.err
}

func (p *stubPlanner) Traffic(_ context.Context, _, _ types.Point) (*maps.TrafficCondition, error) {
	p.calls++
	return p.traffic, p.err
}

// stubArchive is a test double for handlers.AlertArchive.
type stubArchive struct {
	alerts []tracking.TrackingAlert
	err    error
}

func (a *stubArchive) ListByDriver(_ context.Context, driverID types.ID, limit int) ([]tracking.TrackingAlert, error) {
	if a.err != nil {
		return nil, a.err
	}
	var out []tracking.TrackingAlert
	for _, al := range a.alerts {
		if al.DriverID == driverID && len(out) < limit {
			out = append(out, al)
		}
	}
	return out, nil
}

// downStore fails every driver read the way an unreachable Redis does.
type downStore struct {
	*tracking.MemoryStore
}

func (downStore) GetDriver(context.Context, types.ID) (*tracking.DriverTrackingState, error) {
	return nil, fmt.Errorf("%w: get driver: dial tcp: connection refused", tracking.ErrStoreUnavailable)
}

type testEnv struct {
	router  http.Handler
	svc     *tracking.Service
	planner *stubPlanner
}

type envOption func(*httpapi.ServerDeps)

func withPlanner(p *stubPlanner) envOption {
	return func(d *httpapi.ServerDeps) { d.Planner = p }
}

func withArchive(a *stubArchive) envOption {
	return func(d *httpapi.ServerDeps) { d.Archive = a }
}

func newEnv(t *testing.T, store tracking.Store, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if store == nil {
		store = tracking.NewMemoryStore()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := tracking.NewService(tracking.Deps{Store: store, Logger: logger})
	deps := httpapi.ServerDeps{Tracking: svc, Logger: logger}
	for _, o := range opts {
		o(&deps)
	}
	env := &testEnv{router: httpapi.NewServer(deps).Routes(), svc: svc}
	if p, ok := deps.Planner.(*stubPlanner); ok {
		env.planner = p
	}
	return env
}

func doRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func testRoute() tracking.Route {
	return tracking.Route{
		Legs: []tracking.RouteLeg{{
			Start:           types.Point{Lat: 24.86, Lng: 67.01},
			End:             types.Point{Lat: 24.88, Lng: 67.03},
			DistanceMeters:  3000,
			DurationSeconds: 600,
		}},
		DistanceMeters:  3000,
		DurationSeconds: 600,
	}
}

func location(lat, lng, speed float64) map[string]any {
	return map[string]any{"latitude": lat, "longitude": lng, "speed_kmh": speed}
}

// ------------------------------------------------------------------
// Driver lifecycle
// ------------------------------------------------------------------

func TestDriverLifecycle(t *testing.T) {
	env := newEnv(t, nil)

	w := doRequest(env.router, http.MethodPost, "/api/tracking/drivers/d1/start", map[string]any{
		"location": location(24.8607, 67.0011, 0),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d1/location", location(24.8610, 67.0015, 30))
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var state tracking.DriverTrackingState
	decode(t, w, &state)
	if state.CurrentLocation == nil || state.CurrentLocation.Latitude != 24.8610 {
		t.Errorf("current location = %+v", state.CurrentLocation)
	}

	w = doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d1/history?limit=5", nil)
	var hist struct {
		Locations []tracking.LocationSample `json:"locations"`
	}
	decode(t, w, &hist)
	if len(hist.Locations) != 2 || hist.Locations[0].SpeedKmh != 30 {
		t.Errorf("history = %+v", hist.Locations)
	}

	w = doRequest(env.router, http.MethodPost, "/api/tracking/drivers/d1/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}
	w = doRequest(env.router, http.MethodGet, "/api/tracking/nearby?lat=24.8607&lng=67.0011&radius_km=5", nil)
	var near struct {
		Count int `json:"count"`
	}
	decode(t, w, &near)
	if near.Count != 0 {
		t.Errorf("stopped driver still nearby: count=%d", near.Count)
	}
}

func TestStart_WithoutBody(t *testing.T) {
	env := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/tracking/drivers/d1/start", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateLocation_Validation(t *testing.T) {
	env := newEnv(t, nil)
	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"latitude out of range", "/api/tracking/drivers/d1/location", location(91, 0, 0), http.StatusBadRequest},
		{"longitude out of range", "/api/tracking/drivers/d1/location", location(0, -181, 0), http.StatusBadRequest},
		{"missing coordinates", "/api/tracking/drivers/d1/location", map[string]any{"speed_kmh": 10}, http.StatusBadRequest},
		{"bad driver id", "/api/tracking/drivers/d!1/location", location(1, 1, 0), http.StatusBadRequest},
		{"boundary coordinates", "/api/tracking/drivers/d1/location", location(90, 180, 0), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(env.router, http.MethodPut, tc.path, tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestGetDriver_NotTracked(t *testing.T) {
	env := newEnv(t, nil)
	w := doRequest(env.router, http.MethodGet, "/api/tracking/drivers/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAvailability(t *testing.T) {
	env := newEnv(t, nil)
	doRequest(env.router, http.MethodPost, "/api/tracking/drivers/d1/start", map[string]any{"location": location(24.86, 67.01, 0)})

	w := doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d1/availability", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing flag: expected 400, got %d", w.Code)
	}
	w = doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d1/availability", map[string]any{"online": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = doRequest(env.router, http.MethodGet, "/api/tracking/nearby?lat=24.86&lng=67.01", nil)
	var near struct {
		Count int `json:"count"`
	}
	decode(t, w, &near)
	if near.Count != 0 {
		t.Errorf("offline driver returned by nearby")
	}
}

func TestStoreUnavailable_Returns503(t *testing.T) {
	env := newEnv(t, downStore{tracking.NewMemoryStore()})
	w := doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d1", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	if body.Error != tracking.ErrStoreUnavailable.Error() {
		t.Errorf("error leaked details: %q", body.Error)
	}
}

// ------------------------------------------------------------------
// Proximity
// ------------------------------------------------------------------

func TestNearby(t *testing.T) {
	env := newEnv(t, nil)
	for i, off := range []float64{0.02, 0.001, 0.01} {
		path := fmt.Sprintf("/api/tracking/drivers/d%d/start", i)
		doRequest(env.router, http.MethodPost, path, map[string]any{"location": location(24.86+off, 67.01, 0)})
	}

	w := doRequest(env.router, http.MethodGet, "/api/tracking/nearby?lat=24.86&lng=67.01&radius_km=5&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Drivers []tracking.NearbyDriver `json:"drivers"`
		Count   int                     `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 2 || resp.Drivers[0].DriverID != "d1" || resp.Drivers[1].DriverID != "d2" {
		t.Errorf("nearby = %+v", resp.Drivers)
	}

	cases := []string{
		"/api/tracking/nearby?lng=67.01",
		"/api/tracking/nearby?lat=24.86&lng=67.01&radius_km=0",
		"/api/tracking/nearby?lat=95&lng=67.01",
		"/api/tracking/nearby?lat=24.86&lng=67.01&limit=x",
	}
	for _, path := range cases {
		if w := doRequest(env.router, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestBoundsAndHeatmap(t *testing.T) {
	env := newEnv(t, nil)
	doRequest(env.router, http.MethodPost, "/api/tracking/drivers/a/start", map[string]any{"location": location(24.861, 67.011, 0)})
	doRequest(env.router, http.MethodPost, "/api/tracking/drivers/b/start", map[string]any{"location": location(24.862, 67.012, 0)})
	doRequest(env.router, http.MethodPost, "/api/tracking/drivers/c/start", map[string]any{"location": location(25.5, 67.5, 0)})

	q := "north=24.9&south=24.8&east=67.1&west=67.0"
	w := doRequest(env.router, http.MethodGet, "/api/tracking/bounds?"+q, nil)
	var bounds struct {
		Count int `json:"count"`
	}
	decode(t, w, &bounds)
	if bounds.Count != 2 {
		t.Errorf("bounds count = %d, want 2", bounds.Count)
	}

	w = doRequest(env.router, http.MethodGet, "/api/tracking/heatmap?"+q+"&grid=0.01", nil)
	var heat struct {
		Cells []tracking.HeatCell `json:"cells"`
	}
	decode(t, w, &heat)
	if len(heat.Cells) != 1 || heat.Cells[0].Count != 2 {
		t.Errorf("heatmap = %+v", heat.Cells)
	}

	if w := doRequest(env.router, http.MethodGet, "/api/tracking/bounds?north=24.9", nil); w.Code != http.StatusBadRequest {
		t.Errorf("partial bounds: expected 400, got %d", w.Code)
	}
}

// ------------------------------------------------------------------
// Rides
// ------------------------------------------------------------------

func TestRideFlow(t *testing.T) {
	env := newEnv(t, nil)
	doRequest(env.router, http.MethodPost, "/api/tracking/drivers/d1/start", map[string]any{"location": location(24.86, 67.01, 0)})

	w := doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/start", map[string]any{
		"driver_id": "d1", "passenger_id": "p1", "route": testRoute(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ride start: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(env.router, http.MethodPost, "/api/tracking/rides/r2/start", map[string]any{
		"driver_id": "d1", "passenger_id": "p2", "route": testRoute(),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("second ride: expected 409, got %d", w.Code)
	}

	w = doRequest(env.router, http.MethodPut, "/api/tracking/rides/r1/location", location(24.87, 67.02, 40))
	if w.Code != http.StatusOK {
		t.Fatalf("ride update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p tracking.Progress
	decode(t, w, &p)
	if p.ProgressPercentage <= 0 || p.ProgressPercentage > 100 {
		t.Errorf("progress = %v", p.ProgressPercentage)
	}

	w = doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ride end: expected 200, got %d", w.Code)
	}
	var ended tracking.RideTrackingState
	decode(t, w, &ended)
	if ended.Status != tracking.RideCompleted || ended.EndedAt == nil {
		t.Errorf("ended ride = %+v", ended)
	}

	if w := doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/end", nil); w.Code != http.StatusNotFound {
		t.Errorf("second end: expected 404, got %d", w.Code)
	}
}

func TestRideStart_Errors(t *testing.T) {
	env := newEnv(t, nil)
	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"untracked driver", map[string]any{"driver_id": "nobody", "passenger_id": "p1", "route": testRoute()}, http.StatusNotFound},
		{"missing passenger", map[string]any{"driver_id": "d1", "route": testRoute()}, http.StatusBadRequest},
		{"empty route", map[string]any{"driver_id": "d1", "passenger_id": "p1", "route": tracking.Route{}}, http.StatusBadRequest},
		{"no route and no planner", map[string]any{
			"driver_id": "d1", "passenger_id": "p1",
			"origin": types.Point{Lat: 24.86, Lng: 67.01}, "destination": types.Point{Lat: 24.88, Lng: 67.03},
		}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/start", tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRideStart_OwnedByAnotherDriver(t *testing.T) {
	env := newEnv(t, nil)
	for _, id := range []string{"d1", "d2"} {
		doRequest(env.router, http.MethodPost, "/api/tracking/drivers/"+id+"/start", map[string]any{"location": location(24.86, 67.01, 0)})
	}
	w := doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/start", map[string]any{"driver_id": "d1", "passenger_id": "p1", "route": testRoute()})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/start", map[string]any{"driver_id": "d2", "passenger_id": "p2", "route": testRoute()})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/end", nil)
	w = doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/start", map[string]any{"driver_id": "d1", "passenger_id": "p1", "route": testRoute()})
	if w.Code != http.StatusConflict {
		t.Errorf("restart of completed ride: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRideStart_PlansRoute(t *testing.T) {
	route := testRoute()
	env := newEnv(t, nil, withPlanner(&stubPlanner{route: &route}))
	doRequest(env.router, http.MethodPost, "/api/tracking/drivers/d1/start", map[string]any{"location": location(24.86, 67.01, 0)})

	w := doRequest(env.router, http.MethodPost, "/api/tracking/rides/r1/start", map[string]any{
		"driver_id": "d1", "passenger_id": "p1",
		"origin": types.Point{Lat: 24.86, Lng: 67.01}, "destination": types.Point{Lat: 24.88, Lng: 67.03},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if env.planner.calls != 1 {
		t.Errorf("planner calls = %d, want 1", env.planner.calls)
	}
	var r tracking.RideTrackingState
	decode(t, w, &r)
	if r.ETASeconds != 600 {
		t.Errorf("eta = %v, want 600", r.ETASeconds)
	}
}

// ------------------------------------------------------------------
// Routes
// ------------------------------------------------------------------

func TestRoutes_ProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"quota", &maps.ProviderError{Op: "distance_matrix", Status: "OVER_QUERY_LIMIT", Err: errors.New("over limit")}, http.StatusBadGateway},
		{"no route", &maps.ProviderError{Op: "distance_matrix", Status: "ZERO_RESULTS", Err: maps.ErrNoRoute}, http.StatusNotFound},
		{"invalid point", maps.ErrInvalidPoint, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t, nil, withPlanner(&stubPlanner{err: tc.err}))
			w := doRequest(env.router, http.MethodGet, "/api/routes/eta?origin_lat=1&origin_lng=1&dest_lat=2&dest_lng=2", nil)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRoutes_Success(t *testing.T) {
	route := testRoute()
	planner := &stubPlanner{
		route:   &route,
		eta:     &maps.ETA{DistanceMeters: 3000, DurationSeconds: 600, DurationInTrafficSeconds: 720, ArrivalAt: time.Unix(0, 0).UTC()},
		traffic: &maps.TrafficCondition{Level: maps.TrafficLight, Ratio: 1.2},
	}
	env := newEnv(t, nil, withPlanner(planner))

	w := doRequest(env.router, http.MethodPost, "/api/routes", map[string]any{
		"origin": types.Point{Lat: 24.86, Lng: 67.01}, "destination": types.Point{Lat: 24.88, Lng: 67.03},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("plan: expected 200, got %d", w.Code)
	}
	w = doRequest(env.router, http.MethodGet, "/api/routes/traffic?origin_lat=1&origin_lng=1&dest_lat=2&dest_lng=2", nil)
	var tc maps.TrafficCondition
	decode(t, w, &tc)
	if tc.Level != maps.TrafficLight {
		t.Errorf("traffic level = %q", tc.Level)
	}
	if w := doRequest(env.router, http.MethodGet, "/api/routes/eta?origin_lat=1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing params: expected 400, got %d", w.Code)
	}
}

func TestRoutes_NotConfigured(t *testing.T) {
	env := newEnv(t, nil)
	w := doRequest(env.router, http.MethodGet, "/api/routes/eta?origin_lat=1&origin_lng=1&dest_lat=2&dest_lng=2", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

// ------------------------------------------------------------------
// Geofences and alerts
// ------------------------------------------------------------------

func TestGeofences(t *testing.T) {
	env := newEnv(t, nil)

	w := doRequest(env.router, http.MethodPut, "/api/tracking/geofences/airport", map[string]any{
		"center": types.Point{Lat: 24.9, Lng: 67.16}, "radius_meters": 2000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var g tracking.Geofence
	decode(t, w, &g)
	if g.AlertType != tracking.GeofenceOnBoth {
		t.Errorf("default alert type = %q", g.AlertType)
	}

	w = doRequest(env.router, http.MethodPut, "/api/tracking/geofences/bad", map[string]any{
		"center": types.Point{Lat: 24.9, Lng: 67.16}, "radius_meters": -1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid fence: expected 400, got %d", w.Code)
	}

	w = doRequest(env.router, http.MethodGet, "/api/tracking/geofences/check?lat=24.9&lng=67.161", nil)
	var inside struct {
		Inside []tracking.Geofence `json:"inside"`
	}
	decode(t, w, &inside)
	if len(inside.Inside) != 1 || inside.Inside[0].Name != "airport" {
		t.Errorf("check = %+v", inside.Inside)
	}

	if w := doRequest(env.router, http.MethodDelete, "/api/tracking/geofences/airport", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodDelete, "/api/tracking/geofences/airport", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestAlerts_SpeedingVisible(t *testing.T) {
	env := newEnv(t, nil)
	doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d1/location", location(24.86, 67.01, 150))
	doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d2/location", location(24.86, 67.01, 40))

	w := doRequest(env.router, http.MethodGet, "/api/tracking/alerts", nil)
	var all struct {
		Alerts []tracking.TrackingAlert `json:"alerts"`
	}
	decode(t, w, &all)
	if len(all.Alerts) != 1 || all.Alerts[0].Type != tracking.AlertSpeeding {
		t.Fatalf("alerts = %+v", all.Alerts)
	}

	w = doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d2/alerts", nil)
	var mine struct {
		Alerts []tracking.TrackingAlert `json:"alerts"`
	}
	decode(t, w, &mine)
	if len(mine.Alerts) != 0 {
		t.Errorf("d2 alerts = %+v", mine.Alerts)
	}
}

func TestDriverAlerts_FromArchive(t *testing.T) {
	archive := &stubArchive{alerts: []tracking.TrackingAlert{
		{ID: "a1", Type: tracking.AlertIdle, DriverID: "d1"},
		{ID: "a2", Type: tracking.AlertSpeeding, DriverID: "d1"},
		{ID: "a3", Type: tracking.AlertSpeeding, DriverID: "d9"},
	}}
	env := newEnv(t, nil, withArchive(archive))

	w := doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d1/alerts?limit=1", nil)
	var resp struct {
		Alerts []tracking.TrackingAlert `json:"alerts"`
	}
	decode(t, w, &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0].ID != "a1" {
		t.Errorf("archive alerts = %+v", resp.Alerts)
	}

	archive.err = errors.New("pool closed")
	if w := doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d1/alerts", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("archive failure: expected 503, got %d", w.Code)
	}
}

func TestBehavior_InsufficientData(t *testing.T) {
	env := newEnv(t, nil)
	doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d1/location", location(24.86, 67.01, 10))
	w := doRequest(env.router, http.MethodGet, "/api/tracking/drivers/d1/behavior", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	env := newEnv(t, nil)
	if w := doRequest(env.router, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	doRequest(env.router, http.MethodPut, "/api/tracking/drivers/d1/location", location(24.86, 67.01, 10))
	w := doRequest(env.router, http.MethodGet, "/api/tracking/stats", nil)
	var st tracking.Stats
	decode(t, w, &st)
	if st.IndexedDrivers != 1 {
		t.Errorf("indexed drivers = %d", st.IndexedDrivers)
	}
}
