package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"ridetrack/internal/types"
)

func testRoute() Route {
	start := types.Point{Lat: 24.86, Lng: 67.01}
	end := types.Point{Lat: 24.88, Lng: 67.03}
	return Route{
		Legs: []RouteLeg{{
			Start:           start,
			End:             end,
			DistanceMeters:  haversineMeters(start, end),
			DurationSeconds: 600,
		}},
	}
}

func TestComputeProgress(t *testing.T) {
	route := testRoute()
	tests := []struct {
		name    string
		loc     types.Point
		wantPct float64
		wantETA float64
	}{
		{"at origin", route.Origin(), 0, 600},
		{"at destination", route.Destination(), 100, 0},
		{"halfway", types.Point{Lat: 24.87, Lng: 67.02}, 50, 300},
		{"overshoot is capped", types.Point{Lat: 24.95, Lng: 67.1}, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, _, eta := computeProgress(&route, tt.loc)
			if math.Abs(pct-tt.wantPct) > 0.5 {
				t.Errorf("pct = %f, want %f", pct, tt.wantPct)
			}
			if math.Abs(eta-tt.wantETA) > 5 {
				t.Errorf("eta = %f, want %f", eta, tt.wantETA)
			}
		})
	}
}

func TestComputeProgress_ZeroLengthRoute(t *testing.T) {
	p := types.Point{Lat: 1, Lng: 1}
	route := Route{Legs: []RouteLeg{{Start: p, End: p}}}
	pct, _, eta := computeProgress(&route, p)
	if pct != 100 || eta != 0 {
		t.Errorf("got pct=%f eta=%f, want 100/0", pct, eta)
	}
}

func TestRideProgress_Monotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	route := testRoute()
	start := route.Origin()
	h.svc.StartTracking(ctx, "d1", &LocationSample{Latitude: start.Lat, Longitude: start.Lng})
	if _, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: route}); err != nil {
		t.Fatalf("StartRideTracking: %v", err)
	}

	last := -1.0
	for i := 0; i <= 10; i++ {
		f := float64(i) / 10
		h.clock.Advance(time.Minute)
		p, err := h.svc.UpdateRideTracking(ctx, "r1", h.sample(24.86+0.02*f, 67.01+0.02*f, 30))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if p.ProgressPercentage < last {
			t.Errorf("progress went backwards at step %d: %f < %f", i, p.ProgressPercentage, last)
		}
		last = p.ProgressPercentage
	}
	if math.Abs(last-100) > 0.5 {
		t.Errorf("final progress = %f, want 100", last)
	}
	if got := len(h.notifier.Calls()); got != 11 {
		t.Errorf("notifications = %d, want 11", got)
	}
}

func TestStartRideTracking_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "ghost", PassengerID: "p1", Route: testRoute()})
	if !errors.Is(err, ErrDriverNotTracked) {
		t.Errorf("untracked driver err = %v", err)
	}

	h.svc.StartTracking(ctx, "d1", nil)
	_, err = h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1"})
	if !errors.Is(err, ErrInvalidRoute) {
		t.Errorf("empty route err = %v", err)
	}

	if _, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()}); err != nil {
		t.Fatalf("first ride: %v", err)
	}
	if _, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()}); err != nil {
		t.Errorf("restarting the same ride should be idempotent: %v", err)
	}
	_, err = h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r2", DriverID: "d1", PassengerID: "p2", Route: testRoute()})
	if !errors.Is(err, ErrRideInProgress) {
		t.Errorf("second ride err = %v, want ErrRideInProgress", err)
	}
}

func TestEndRideTracking_UnknownAndCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.EndRideTracking(ctx, "nope"); !errors.Is(err, ErrRideTrackingNotFound) {
		t.Errorf("unknown ride err = %v", err)
	}

	h.svc.StartTracking(ctx, "d1", nil)
	h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()})
	if _, err := h.svc.EndRideTracking(ctx, "r1"); err != nil {
		t.Fatalf("EndRideTracking: %v", err)
	}
	if _, err := h.svc.EndRideTracking(ctx, "r1"); !errors.Is(err, ErrRideTrackingNotFound) {
		t.Errorf("second end err = %v", err)
	}
	if _, err := h.svc.UpdateRideTracking(ctx, "r1", h.sample(24.87, 67.02, 10)); !errors.Is(err, ErrRideTrackingNotFound) {
		t.Errorf("update after end err = %v", err)
	}
}

func TestEndToEndScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.StartTracking(ctx, "d1", &LocationSample{Latitude: 24.86, Longitude: 67.01}); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}
	if _, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()}); err != nil {
		t.Fatalf("StartRideTracking: %v", err)
	}
	h.clock.Advance(30 * time.Second)
	if _, err := h.svc.UpdateLocation(ctx, "d1", h.sample(24.87, 67.02, 40)); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}

	ride, _ := h.svc.GetRideTracking(ctx, "r1")
	if ride.ProgressPercentage <= 0 {
		t.Errorf("progress = %f, want > 0", ride.ProgressPercentage)
	}
	d, _ := h.svc.GetDriverState(ctx, "d1")
	if d.CurrentRideID != "r1" {
		t.Errorf("CurrentRideID = %q, want r1", d.CurrentRideID)
	}
	calls := h.notifier.Calls()
	if len(calls) != 1 || calls[0].PassengerID != "p1" {
		t.Errorf("notifications = %+v", calls)
	}

	if _, err := h.svc.EndRideTracking(ctx, "r1"); err != nil {
		t.Fatalf("EndRideTracking: %v", err)
	}
	d, _ = h.svc.GetDriverState(ctx, "d1")
	if d.CurrentRideID != "" {
		t.Errorf("CurrentRideID = %q after end", d.CurrentRideID)
	}
	ride, _ = h.svc.GetRideTracking(ctx, "r1")
	if ride.Status != RideCompleted || ride.EndedAt == nil {
		t.Errorf("ride = %+v, want completed", ride)
	}
}

func TestNotificationFailureDoesNotFailIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.notifier.err = errors.New("fcm down")

	h.svc.StartTracking(ctx, "d1", &LocationSample{Latitude: 24.86, Longitude: 67.01})
	h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()})
	if _, err := h.svc.UpdateLocation(ctx, "d1", h.sample(24.87, 67.02, 40)); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
}

// Updates racing a ride end must never leave the driver pointing at a
// completed ride, and no update may reopen it.
func TestConcurrentUpdatesVersusRideEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.StartTracking(ctx, "d1", &LocationSample{Latitude: 24.86, Longitude: 67.01})
	h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := h.svc.UpdateLocation(ctx, "d1", h.sample(24.87, 67.02, 30)); err != nil {
					t.Errorf("UpdateLocation: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := h.svc.EndRideTracking(ctx, "r1"); err != nil {
			t.Errorf("EndRideTracking: %v", err)
		}
	}()
	wg.Wait()

	d, _ := h.svc.GetDriverState(ctx, "d1")
	if d.CurrentRideID != "" {
		t.Errorf("driver still on ride %q", d.CurrentRideID)
	}
	ride, _ := h.svc.GetRideTracking(ctx, "r1")
	if ride.Status != RideCompleted {
		t.Errorf("ride status = %s, want completed", ride.Status)
	}
}

func TestStartRideTracking_RideOwnedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.StartTracking(ctx, "d1", &LocationSample{Latitude: 24.86, Longitude: 67.01})
	h.svc.StartTracking(ctx, "d2", &LocationSample{Latitude: 24.86, Longitude: 67.01})
	if _, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()}); err != nil {
		t.Fatalf("StartRideTracking: %v", err)
	}

	_, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d2", PassengerID: "p2", Route: testRoute()})
	if !errors.Is(err, ErrRideConflict) {
		t.Fatalf("taking over r1 err = %v, want ErrRideConflict", err)
	}
	ride, _ := h.svc.GetRideTracking(ctx, "r1")
	if ride.DriverID != "d1" || ride.PassengerID != "p1" {
		t.Errorf("ride reassigned: %+v", ride)
	}
	d2, _ := h.svc.GetDriverState(ctx, "d2")
	if d2.CurrentRideID != "" {
		t.Errorf("d2 CurrentRideID = %q", d2.CurrentRideID)
	}

	if _, err := h.svc.UpdateLocation(ctx, "d1", h.sample(24.87, 67.02, 30)); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	calls := h.notifier.Calls()
	if len(calls) != 1 || calls[0].PassengerID != "p1" || calls[0].DriverID != "d1" {
		t.Errorf("notifications = %+v", calls)
	}

	if _, err := h.svc.EndRideTracking(ctx, "r1"); err != nil {
		t.Fatalf("EndRideTracking: %v", err)
	}
	d1, _ := h.svc.GetDriverState(ctx, "d1")
	if d1.CurrentRideID != "" || !d1.Available() {
		t.Errorf("d1 after end = %+v", d1)
	}
}

func TestStartRideTracking_CompletedRideNotReopened(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.StartTracking(ctx, "d1", nil)
	h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()})
	if _, err := h.svc.EndRideTracking(ctx, "r1"); err != nil {
		t.Fatalf("EndRideTracking: %v", err)
	}

	_, err := h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d1", PassengerID: "p1", Route: testRoute()})
	if !errors.Is(err, ErrRideConflict) {
		t.Fatalf("restart err = %v, want ErrRideConflict", err)
	}
	ride, _ := h.svc.GetRideTracking(ctx, "r1")
	if ride.Status != RideCompleted {
		t.Errorf("status = %s, want completed", ride.Status)
	}
}

func TestAdvanceRide_RejectsForeignDriver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.StartTracking(ctx, "d2", &LocationSample{Latitude: 24.86, Longitude: 67.01})
	h.svc.StartRideTracking(ctx, StartRideCommand{RideID: "r1", DriverID: "d2", PassengerID: "p2", Route: testRoute()})

	if _, err := h.svc.advanceRide(ctx, "d1", "r1", h.sample(24.87, 67.02, 30)); !errors.Is(err, ErrRideConflict) {
		t.Errorf("err = %v, want ErrRideConflict", err)
	}
	ride, _ := h.svc.GetRideTracking(ctx, "r1")
	if ride.ProgressPercentage != 0 {
		t.Errorf("progress moved to %f", ride.ProgressPercentage)
	}
}
