// README: Geofence registry; fences are checked against every ingested sample.
package tracking

import (
	"context"
	"strings"

	"ridetrack/internal/metrics"
	"ridetrack/internal/types"
)

// UpsertGeofence creates or replaces the named fence.
func (s *Service) UpsertGeofence(ctx context.Context, g Geofence) (*Geofence, error) {
	g.Name = strings.TrimSpace(g.Name)
	if g.AlertType == "" {
		g.AlertType = GeofenceOnBoth
	}
	if g.Name == "" || !g.Center.Valid() || g.RadiusMeters <= 0 {
		return nil, ErrInvalidGeofence
	}
	switch g.AlertType {
	case GeofenceOnEnter, GeofenceOnExit, GeofenceOnBoth:
	default:
		return nil, ErrInvalidGeofence
	}
	g.CreatedAt = s.now()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.PutGeofence(sctx, g); err != nil {
		return nil, err
	}
	s.logger.Info("geofence saved", "geofence", g.Name, "radius_m", g.RadiusMeters)
	return &g, nil
}

// DeleteGeofence reports whether a fence with that name existed.
func (s *Service) DeleteGeofence(ctx context.Context, name string) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.DeleteGeofence(sctx, name)
}

func (s *Service) ListGeofences(ctx context.Context) ([]Geofence, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	fences, err := s.store.ListGeofences(sctx)
	if err != nil {
		return nil, err
	}
	if fences == nil {
		fences = []Geofence{}
	}
	return fences, nil
}

// CheckGeofences returns the fences containing p.
func (s *Service) CheckGeofences(ctx context.Context, p types.Point) ([]Geofence, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	fences, err := s.ListGeofences(ctx)
	if err != nil {
		return nil, err
	}
	inside := []Geofence{}
	for _, g := range fences {
		if g.Contains(p) {
			inside = append(inside, g)
		}
	}
	return inside, nil
}

// loadGeofences feeds the alert evaluator. A failed read skips geofence
// checks for this sample rather than failing ingest.
func (s *Service) loadGeofences(ctx context.Context) []Geofence {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	fences, err := s.store.ListGeofences(sctx)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("geofence_load").Inc()
		s.logger.Warn("geofence load failed", "error", err)
		return nil
	}
	return fences
}
