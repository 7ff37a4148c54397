// README: Tracking service: location ingest, driver lifecycle and read paths over the Store.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ridetrack/internal/config"
	"ridetrack/internal/metrics"
	"ridetrack/internal/types"
)

// PassengerNotifier delivers ride progress to the passenger.
type PassengerNotifier interface {
	NotifyRideProgress(ctx context.Context, p Progress) error
}

// AlertSink receives every alert after it is written to the alert log.
type AlertSink interface {
	Publish(ctx context.Context, a TrackingAlert) error
}

type Deps struct {
	Store    Store
	Locker   Locker
	Notifier PassengerNotifier
	Sinks    []AlertSink
	Logger   *slog.Logger
	Config   config.TrackingConfig
	Now      func() time.Time
}

type Service struct {
	store    Store
	locker   Locker
	notifier PassengerNotifier
	sinks    []AlertSink
	logger   *slog.Logger
	cfg      config.TrackingConfig
	now      func() time.Time
	alerts   *alertEvaluator
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		locker:   d.Locker,
		notifier: d.Notifier,
		sinks:    d.Sinks,
		logger:   d.Logger,
		cfg:      d.Config,
		now:      d.Now,
	}
	if s.locker == nil {
		s.locker = NewMemoryLocker()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cfg == (config.TrackingConfig{}) {
		s.cfg = config.DefaultTracking()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.alerts = newAlertEvaluator(s.cfg.SpeedLimitKmh, s.cfg.MaxIdle)
	return s
}

// StartTracking (re)creates the driver record as active and online. A ride
// already attached to the driver is kept. When initial is set it becomes the
// current location, the first history entry and the geo index position.
func (s *Service) StartTracking(ctx context.Context, driverID types.ID, initial *LocationSample) (*DriverTrackingState, error) {
	if driverID == "" {
		return nil, ErrBadRequest
	}
	if initial != nil && !initial.Point().Valid() {
		return nil, ErrInvalidLocation
	}

	unlock, err := s.lockDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prior, err := s.getDriver(ctx, driverID)
	if err != nil && !errors.Is(err, ErrDriverNotTracked) {
		return nil, err
	}

	now := s.now()
	d := &DriverTrackingState{
		DriverID:          driverID,
		Status:            DriverActive,
		IsOnline:          true,
		LastSpeedUpdateAt: now,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	if prior != nil {
		d.CurrentRideID = prior.CurrentRideID
		d.CurrentLocation = prior.CurrentLocation
	}

	if initial == nil {
		if err := s.putDriver(ctx, d); err != nil {
			return nil, err
		}
		s.logger.Info("tracking started", "driver_id", driverID)
		return d, nil
	}

	sample := *initial
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	d.CurrentLocation = &sample
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.RecordLocation(sctx, d, sample, s.cfg.HistoryCap, s.cfg.RecordTTL); err != nil {
		return nil, err
	}
	s.logger.Info("tracking started", "driver_id", driverID, "lat", sample.Latitude, "lng", sample.Longitude)
	return d, nil
}

// UpdateLocation records one sample for the driver. Store failures are
// returned; alert delivery and passenger notification failures are only
// logged and counted.
func (s *Service) UpdateLocation(ctx context.Context, driverID types.ID, sample LocationSample) (*LocationSample, error) {
	if driverID == "" {
		return nil, ErrBadRequest
	}
	if !sample.Point().Valid() {
		metrics.LocationUpdates.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidLocation
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	alerts, progress, err := s.ingest(ctx, driverID, sample)
	if err != nil {
		metrics.LocationUpdates.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.LocationUpdates.WithLabelValues("ok").Inc()

	s.publishAlerts(ctx, alerts)
	if progress != nil {
		s.notifyPassenger(ctx, *progress)
	}
	return &sample, nil
}

// ingest runs the read-modify-write cycle under the driver lock.
func (s *Service) ingest(ctx context.Context, driverID types.ID, sample LocationSample) ([]TrackingAlert, *Progress, error) {
	unlock, err := s.lockDriver(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	prior, err := s.getDriver(ctx, driverID)
	if err != nil && !errors.Is(err, ErrDriverNotTracked) {
		return nil, nil, err
	}

	now := s.now()
	var next DriverTrackingState
	if prior != nil {
		next = *prior
	} else {
		next = DriverTrackingState{
			DriverID:          driverID,
			Status:            DriverActive,
			IsOnline:          true,
			LastSpeedUpdateAt: now,
			StartedAt:         now,
		}
	}

	eval := s.alerts.Evaluate(&next, sample, s.loadGeofences(ctx))
	next.LastSpeedUpdateAt = eval.LastSpeedUpdateAt
	next.LastIdleAlertAt = eval.LastIdleAlertAt
	next.CurrentLocation = &sample
	next.UpdatedAt = now

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.RecordLocation(sctx, &next, sample, s.cfg.HistoryCap, s.cfg.RecordTTL); err != nil {
		return nil, nil, err
	}

	if next.CurrentRideID == "" {
		return eval.Alerts, nil, nil
	}
	progress, err := s.advanceRide(ctx, driverID, next.CurrentRideID, sample)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("ride_progress").Inc()
		s.logger.Warn("ride progress update failed", "driver_id", driverID, "ride_id", next.CurrentRideID, "error", err)
		return eval.Alerts, nil, nil
	}
	return eval.Alerts, progress, nil
}

// StopTracking takes the driver out of the geo index and marks it inactive.
// History is left to expire.
func (s *Service) StopTracking(ctx context.Context, driverID types.ID) error {
	unlock, err := s.lockDriver(ctx, driverID)
	if err != nil {
		return err
	}
	defer unlock()

	d, err := s.getDriver(ctx, driverID)
	if err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.RemoveFromIndex(sctx, driverID); err != nil {
		return err
	}

	d.Status = DriverInactive
	d.IsOnline = false
	d.UpdatedAt = s.now()
	if err := s.putDriver(ctx, d); err != nil {
		return err
	}
	s.logger.Info("tracking stopped", "driver_id", driverID)
	return nil
}

// SetAvailability toggles whether the driver shows up in proximity results.
func (s *Service) SetAvailability(ctx context.Context, driverID types.ID, online bool) (*DriverTrackingState, error) {
	unlock, err := s.lockDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := s.getDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	d.IsOnline = online
	d.UpdatedAt = s.now()
	if err := s.putDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDriverState(ctx context.Context, driverID types.ID) (*DriverTrackingState, error) {
	return s.getDriver(ctx, driverID)
}

// GetLocationHistory returns up to limit samples, newest first. A
// non-positive or oversized limit means the full retained history.
func (s *Service) GetLocationHistory(ctx context.Context, driverID types.ID, limit int) ([]LocationSample, error) {
	if limit <= 0 || limit > s.cfg.HistoryCap {
		limit = s.cfg.HistoryCap
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	samples, err := s.store.History(sctx, driverID, limit)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []LocationSample{}
	}
	return samples, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	s.pruneIndex(ctx)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.store.IndexedCount(sctx)
	if err != nil {
		return nil, err
	}
	fences, err := s.store.ListGeofences(sctx)
	if err != nil {
		return nil, err
	}
	return &Stats{IndexedDrivers: n, Geofences: len(fences)}, nil
}

func (s *Service) lockDriver(ctx context.Context, driverID types.ID) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	return s.locker.Lock(lctx, "driver:"+string(driverID))
}

func (s *Service) lockRide(ctx context.Context, rideID types.ID) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	return s.locker.Lock(lctx, "ride:"+string(rideID))
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) getDriver(ctx context.Context, id types.ID) (*DriverTrackingState, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetDriver(sctx, id)
}

func (s *Service) putDriver(ctx context.Context, d *DriverTrackingState) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.PutDriver(sctx, d, s.cfg.RecordTTL)
}

func (s *Service) getRide(ctx context.Context, id types.ID) (*RideTrackingState, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetRide(sctx, id)
}

func (s *Service) putRide(ctx context.Context, r *RideTrackingState) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.PutRide(sctx, r, s.cfg.RecordTTL)
}

// notifyPassenger is fire-and-forget. It runs after the driver lock is
// released and is bounded by its own timeout.
func (s *Service) notifyPassenger(ctx context.Context, p Progress) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyRideProgress(nctx, p); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notify").Inc()
		s.logger.Warn("passenger notification failed", "ride_id", p.RideID, "passenger_id", p.PassengerID, "error", err)
	}
}
