// README: Proximity reads over the geo index: nearby drivers, drivers in a box and a density heatmap.
package tracking

import (
	"context"
	"math"
	"sort"
	"time"

	"ridetrack/internal/metrics"
	"ridetrack/internal/types"
)

const defaultHeatmapGridDeg = 0.01

// GetNearbyDrivers returns available drivers within q.RadiusKm of q.Point,
// nearest first. The index is cut to q.Limit before availability filtering,
// so fewer than q.Limit drivers may come back.
func (s *Service) GetNearbyDrivers(ctx context.Context, q NearbyQuery) ([]NearbyDriver, error) {
	start := time.Now()
	defer func() { metrics.ProximityDuration.Observe(time.Since(start).Seconds()) }()

	if !q.Point.Valid() {
		return nil, ErrInvalidLocation
	}
	if q.RadiusKm <= 0 || math.IsNaN(q.RadiusKm) {
		return nil, ErrBadRequest
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultNearby
	}
	if limit > s.cfg.MaxNearby {
		limit = s.cfg.MaxNearby
	}

	s.pruneIndex(ctx)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	hits, err := s.store.Nearby(sctx, q.Point, q.RadiusKm, limit)
	if err != nil {
		return nil, err
	}
	return s.resolveHits(ctx, hits, func(d *DriverTrackingState) bool { return d.Available() })
}

// GetDriversInBounds returns online drivers positioned inside b, nearest to
// its center first.
func (s *Service) GetDriversInBounds(ctx context.Context, b Bounds) ([]NearbyDriver, error) {
	hits, err := s.hitsInBounds(ctx, b)
	if err != nil {
		return nil, err
	}
	return s.resolveHits(ctx, hits, func(d *DriverTrackingState) bool { return d.IsOnline })
}

// DriverHeatmap buckets online drivers inside b into gridDeg x gridDeg cells.
// Cells are keyed by their center and ordered by count, densest first.
func (s *Service) DriverHeatmap(ctx context.Context, b Bounds, gridDeg float64) ([]HeatCell, error) {
	if gridDeg == 0 {
		gridDeg = defaultHeatmapGridDeg
	}
	if gridDeg < 0 || gridDeg > 10 || math.IsNaN(gridDeg) {
		return nil, ErrBadRequest
	}
	drivers, err := s.GetDriversInBounds(ctx, b)
	if err != nil {
		return nil, err
	}

	type cellKey struct{ row, col int64 }
	counts := make(map[cellKey]int)
	for _, d := range drivers {
		k := cellKey{
			row: int64(math.Floor(d.Location.Lat / gridDeg)),
			col: int64(math.Floor(d.Location.Lng / gridDeg)),
		}
		counts[k]++
	}

	cells := make([]HeatCell, 0, len(counts))
	for k, n := range counts {
		cells = append(cells, HeatCell{
			Lat:   (float64(k.row) + 0.5) * gridDeg,
			Lng:   (float64(k.col) + 0.5) * gridDeg,
			Count: n,
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Count != cells[j].Count {
			return cells[i].Count > cells[j].Count
		}
		if cells[i].Lat != cells[j].Lat {
			return cells[i].Lat < cells[j].Lat
		}
		return cells[i].Lng < cells[j].Lng
	})
	return cells, nil
}

func (s *Service) hitsInBounds(ctx context.Context, b Bounds) ([]GeoHit, error) {
	if !b.Valid() {
		return nil, ErrBadRequest
	}
	w, h := boxSizeKm(b)
	center := b.Center()

	s.pruneIndex(ctx)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	hits, err := s.store.InBox(sctx, center, w, h)
	if err != nil {
		return nil, err
	}
	inside := hits[:0]
	for _, hit := range hits {
		if b.Contains(hit.Position) {
			inside = append(inside, hit)
		}
	}
	return inside, nil
}

// resolveHits batch-reads the records behind index hits and keeps the ones
// accepted by keep, preserving hit order. Index entries whose record has
// expired are skipped.
func (s *Service) resolveHits(ctx context.Context, hits []GeoHit, keep func(*DriverTrackingState) bool) ([]NearbyDriver, error) {
	out := []NearbyDriver{}
	if len(hits) == 0 {
		return out, nil
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.DriverID
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	records, err := s.store.GetDrivers(sctx, ids)
	if err != nil {
		return nil, err
	}

	for i, d := range records {
		if d == nil || !keep(d) {
			continue
		}
		nd := NearbyDriver{
			DriverID:   hits[i].DriverID,
			DistanceKm: hits[i].DistanceKm,
			Location:   hits[i].Position,
			UpdatedAt:  d.UpdatedAt,
		}
		if d.CurrentLocation != nil {
			nd.SpeedKmh = d.CurrentLocation.SpeedKmh
			nd.HeadingDegrees = d.CurrentLocation.HeadingDegrees
		}
		out = append(out, nd)
	}
	return out, nil
}

// pruneIndex drops geo entries for drivers without a location update inside
// the record TTL, so expired drivers neither occupy search slots nor count
// as indexed. Failures only cost accuracy and are logged.
func (s *Service) pruneIndex(ctx context.Context) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.store.PruneIndex(sctx, s.now().Add(-s.cfg.RecordTTL))
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("index_prune").Inc()
		s.logger.Warn("geo index prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned expired drivers from geo index", "count", n)
	}
}
