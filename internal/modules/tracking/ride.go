// README: Ride progress tracking. Progress is the straight-line distance from the route origin over the route length.
package tracking

import (
	"context"
	"errors"
	"math"

	"ridetrack/internal/types"
)

type StartRideCommand struct {
	RideID      types.ID
	DriverID    types.ID
	PassengerID types.ID
	Route       Route
}

// StartRideTracking attaches a ride to a tracked driver. Starting the ride
// the driver is already on returns the existing record; a ride ID owned by
// another driver or already completed is rejected with ErrRideConflict.
func (s *Service) StartRideTracking(ctx context.Context, cmd StartRideCommand) (*RideTrackingState, error) {
	if cmd.RideID == "" || cmd.DriverID == "" || cmd.PassengerID == "" {
		return nil, ErrBadRequest
	}
	if err := validateRoute(cmd.Route); err != nil {
		return nil, err
	}

	unlock, err := s.lockDriver(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	// Serializes starts of the same ride ID across drivers. Always taken
	// after the driver lock.
	unlockRide, err := s.lockRide(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	defer unlockRide()

	d, err := s.getDriver(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}

	existing, err := s.getRide(ctx, cmd.RideID)
	switch {
	case errors.Is(err, ErrRideTrackingNotFound):
	case err != nil:
		return nil, err
	case existing.DriverID != cmd.DriverID || existing.Status != RideStarted:
		return nil, ErrRideConflict
	case d.CurrentRideID == cmd.RideID:
		return existing, nil
	}
	if d.CurrentRideID != "" {
		current, err := s.getRide(ctx, d.CurrentRideID)
		switch {
		case errors.Is(err, ErrRideTrackingNotFound):
			// Stale pointer to an expired ride; overwrite it.
		case err != nil:
			return nil, err
		case current.Status == RideStarted && current.RideID == cmd.RideID:
			return current, nil
		case current.Status == RideStarted:
			return nil, ErrRideInProgress
		}
	}

	now := s.now()
	r := &RideTrackingState{
		RideID:      cmd.RideID,
		DriverID:    cmd.DriverID,
		PassengerID: cmd.PassengerID,
		Status:      RideStarted,
		Route:       cmd.Route,
		ETASeconds:  cmd.Route.TotalDuration(),
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if d.CurrentLocation != nil {
		loc := *d.CurrentLocation
		r.CurrentLocation = &loc
	}

	// Ride first: the driver must never point at a missing ride.
	if err := s.putRide(ctx, r); err != nil {
		return nil, err
	}
	d.CurrentRideID = cmd.RideID
	d.UpdatedAt = now
	if err := s.putDriver(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("ride tracking started", "ride_id", r.RideID, "driver_id", r.DriverID, "passenger_id", r.PassengerID)
	return r, nil
}

// UpdateRideTracking applies one sample to an active ride and notifies the
// passenger. Unlike ingest, failures here are returned.
func (s *Service) UpdateRideTracking(ctx context.Context, rideID types.ID, sample LocationSample) (*Progress, error) {
	if !sample.Point().Valid() {
		return nil, ErrInvalidLocation
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != RideStarted {
		return nil, ErrRideTrackingNotFound
	}

	progress, err := s.advanceRideLocked(ctx, r.DriverID, rideID, sample)
	if err != nil {
		return nil, err
	}
	s.notifyPassenger(ctx, *progress)
	return progress, nil
}

func (s *Service) advanceRideLocked(ctx context.Context, driverID, rideID types.ID, sample LocationSample) (*Progress, error) {
	unlock, err := s.lockDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.advanceRide(ctx, driverID, rideID, sample)
}

// advanceRide must run under driverID's lock, and only moves rides that
// driver owns.
func (s *Service) advanceRide(ctx context.Context, driverID, rideID types.ID, sample LocationSample) (*Progress, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != RideStarted {
		return nil, ErrRideTrackingNotFound
	}
	if r.DriverID != driverID {
		return nil, ErrRideConflict
	}

	pct, traveled, eta := computeProgress(&r.Route, sample.Point())
	r.CurrentLocation = &sample
	r.ProgressPercentage = pct
	r.DistanceTraveledMeters = traveled
	r.ETASeconds = eta
	r.UpdatedAt = s.now()
	if err := s.putRide(ctx, r); err != nil {
		return nil, err
	}
	return &Progress{
		RideID:                 r.RideID,
		PassengerID:            r.PassengerID,
		DriverID:               r.DriverID,
		Location:               sample,
		ProgressPercentage:     pct,
		DistanceTraveledMeters: traveled,
		ETASeconds:             eta,
	}, nil
}

// EndRideTracking completes the ride and detaches it from the driver.
func (s *Service) EndRideTracking(ctx context.Context, rideID types.ID) (*RideTrackingState, error) {
	r, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockDriver(ctx, r.DriverID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent end may have won.
	r, err = s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != RideStarted {
		return nil, ErrRideTrackingNotFound
	}

	now := s.now()
	r.Status = RideCompleted
	r.EndedAt = &now
	r.UpdatedAt = now
	if err := s.putRide(ctx, r); err != nil {
		return nil, err
	}

	d, err := s.getDriver(ctx, r.DriverID)
	switch {
	case errors.Is(err, ErrDriverNotTracked):
		s.logger.Info("ride ended for expired driver record", "ride_id", rideID, "driver_id", r.DriverID)
		return r, nil
	case err != nil:
		return nil, err
	}
	if d.CurrentRideID == rideID {
		d.CurrentRideID = ""
		d.UpdatedAt = now
		if err := s.putDriver(ctx, d); err != nil {
			return nil, err
		}
	}
	s.logger.Info("ride tracking ended", "ride_id", rideID, "driver_id", r.DriverID)
	return r, nil
}

func (s *Service) GetRideTracking(ctx context.Context, rideID types.ID) (*RideTrackingState, error) {
	return s.getRide(ctx, rideID)
}

// computeProgress approximates progress by the straight-line distance from
// the route origin. A route without length counts as complete.
func computeProgress(route *Route, loc types.Point) (pct, traveledMeters, etaSeconds float64) {
	traveledMeters = haversineMeters(route.Origin(), loc)
	total := route.TotalDistance()
	if total <= 0 {
		return 100, traveledMeters, 0
	}
	pct = math.Min(100, traveledMeters/total*100)
	etaSeconds = route.TotalDuration() * (1 - pct/100)
	return pct, traveledMeters, etaSeconds
}

func validateRoute(r Route) error {
	if len(r.Legs) == 0 {
		return ErrInvalidRoute
	}
	for _, l := range r.Legs {
		if !l.Start.Valid() || !l.End.Valid() || l.DistanceMeters < 0 || l.DurationSeconds < 0 {
			return ErrInvalidRoute
		}
	}
	return nil
}
