// README: Alert evaluation (speeding, idle, geofence transitions) and fan-out to the alert log and sinks.
package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ridetrack/internal/metrics"
)

type alertEvaluator struct {
	speedLimitKmh float64
	maxIdle       time.Duration
	newID         func() string
}

func newAlertEvaluator(speedLimitKmh float64, maxIdle time.Duration) *alertEvaluator {
	return &alertEvaluator{speedLimitKmh: speedLimitKmh, maxIdle: maxIdle, newID: uuid.NewString}
}

// evaluation is the outcome for one sample: the alerts to raise and the
// marker timestamps the driver record must carry afterwards.
type evaluation struct {
	Alerts            []TrackingAlert
	LastSpeedUpdateAt time.Time
	LastIdleAlertAt   time.Time
}

// Evaluate inspects sample against the driver's state before the sample is
// applied. It does not mutate prev.
func (e *alertEvaluator) Evaluate(prev *DriverTrackingState, sample LocationSample, fences []Geofence) evaluation {
	out := evaluation{
		LastSpeedUpdateAt: prev.LastSpeedUpdateAt,
		LastIdleAlertAt:   prev.LastIdleAlertAt,
	}
	loc := map[string]any{"latitude": sample.Latitude, "longitude": sample.Longitude}

	if sample.SpeedKmh > e.speedLimitKmh {
		out.Alerts = append(out.Alerts, e.alert(AlertSpeeding, prev, sample, withLocation(loc, map[string]any{
			"speed_kmh": sample.SpeedKmh,
			"limit_kmh": e.speedLimitKmh,
		})))
	}

	if sample.SpeedKmh > 0 {
		out.LastSpeedUpdateAt = sample.Timestamp
	} else {
		ref := latest(prev.LastSpeedUpdateAt, prev.LastIdleAlertAt, prev.StartedAt)
		if idle := sample.Timestamp.Sub(ref); !ref.IsZero() && idle > e.maxIdle {
			out.Alerts = append(out.Alerts, e.alert(AlertIdle, prev, sample, withLocation(loc, map[string]any{
				"idle_seconds": idle.Seconds(),
			})))
			out.LastIdleAlertAt = sample.Timestamp
		}
	}

	for _, g := range fences {
		wasInside := prev.CurrentLocation != nil && g.Contains(prev.CurrentLocation.Point())
		isInside := g.Contains(sample.Point())
		switch {
		case !wasInside && isInside && g.AlertType != GeofenceOnExit:
			out.Alerts = append(out.Alerts, e.alert(AlertGeofenceEnter, prev, sample, withLocation(loc, map[string]any{"geofence": g.Name})))
		case wasInside && !isInside && g.AlertType != GeofenceOnEnter:
			out.Alerts = append(out.Alerts, e.alert(AlertGeofenceExit, prev, sample, withLocation(loc, map[string]any{"geofence": g.Name})))
		}
	}
	return out
}

func (e *alertEvaluator) alert(t AlertType, d *DriverTrackingState, sample LocationSample, data map[string]any) TrackingAlert {
	return TrackingAlert{
		ID:        e.newID(),
		Type:      t,
		DriverID:  d.DriverID,
		Data:      data,
		Timestamp: sample.Timestamp,
	}
}

func withLocation(loc, data map[string]any) map[string]any {
	for k, v := range loc {
		data[k] = v
	}
	return data
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}

// publishAlerts appends each alert to the alert log and hands it to every
// sink. Failures are logged and counted, never returned.
func (s *Service) publishAlerts(ctx context.Context, alerts []TrackingAlert) {
	for _, a := range alerts {
		metrics.AlertsEmitted.WithLabelValues(string(a.Type)).Inc()
		s.logger.Info("tracking alert", "alert_id", a.ID, "type", a.Type, "driver_id", a.DriverID)

		sctx, cancel := s.storeCtx(context.WithoutCancel(ctx))
		if err := s.store.AppendAlert(sctx, a, s.cfg.AlertLogCap); err != nil {
			metrics.SideEffectFailures.WithLabelValues("alert_log").Inc()
			s.logger.Warn("alert log append failed", "alert_id", a.ID, "error", err)
		}
		cancel()

		for _, sink := range s.sinks {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
			if err := sink.Publish(nctx, a); err != nil {
				metrics.SideEffectFailures.WithLabelValues("alert_sink").Inc()
				s.logger.Warn("alert sink publish failed", "alert_id", a.ID, "error", err)
			}
			cancel()
		}
	}
}

// RecentAlerts returns up to limit alerts from the log, newest first.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]TrackingAlert, error) {
	if limit <= 0 || limit > s.cfg.AlertLogCap {
		limit = s.cfg.AlertLogCap
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	alerts, err := s.store.RecentAlerts(sctx, limit)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []TrackingAlert{}
	}
	return alerts, nil
}
