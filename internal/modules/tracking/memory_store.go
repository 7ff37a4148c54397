// README: In-memory Store used when Redis is not configured, and by tests.
package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridetrack/internal/types"
)

type memoryDriver struct {
	state     DriverTrackingState
	expiresAt time.Time
}

type memoryHistory struct {
	samples   []LocationSample // newest first
	expiresAt time.Time
}

type memoryRide struct {
	state     RideTrackingState
	expiresAt time.Time
}

// MemoryStore mirrors RedisStore semantics, including record expiry, inside
// one process.
type MemoryStore struct {
	mu        sync.RWMutex
	drivers   map[types.ID]*memoryDriver
	history   map[types.ID]*memoryHistory
	geo       map[types.ID]types.Point
	seen      map[types.ID]time.Time
	rides     map[types.ID]*memoryRide
	alerts    []TrackingAlert // newest first
	geofences map[string]Geofence
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers:   make(map[types.ID]*memoryDriver),
		history:   make(map[types.ID]*memoryHistory),
		geo:       make(map[types.ID]types.Point),
		seen:      make(map[types.ID]time.Time),
		rides:     make(map[types.ID]*memoryRide),
		geofences: make(map[string]Geofence),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for expiry checks.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) PutDriver(_ context.Context, d *DriverTrackingState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.DriverID] = &memoryDriver{state: copyDriver(d), expiresAt: s.now().Add(ttl)}
	if _, ok := s.seen[d.DriverID]; ok {
		s.seen[d.DriverID] = d.UpdatedAt
	}
	return nil
}

func (s *MemoryStore) GetDriver(_ context.Context, id types.ID) (*DriverTrackingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.liveDriver(id)
	if d == nil {
		return nil, ErrDriverNotTracked
	}
	out := copyDriver(d)
	return &out, nil
}

func (s *MemoryStore) GetDrivers(_ context.Context, ids []types.ID) ([]*DriverTrackingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DriverTrackingState, len(ids))
	for i, id := range ids {
		if d := s.liveDriver(id); d != nil {
			cp := copyDriver(d)
			out[i] = &cp
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordLocation(_ context.Context, d *DriverTrackingState, sample LocationSample, historyCap int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires := s.now().Add(ttl)
	s.drivers[d.DriverID] = &memoryDriver{state: copyDriver(d), expiresAt: expires}

	h := s.history[d.DriverID]
	if h == nil || !s.now().Before(h.expiresAt) {
		h = &memoryHistory{}
		s.history[d.DriverID] = h
	}
	h.samples = append([]LocationSample{sample}, h.samples...)
	if historyCap > 0 && len(h.samples) > historyCap {
		h.samples = h.samples[:historyCap]
	}
	h.expiresAt = expires

	s.geo[d.DriverID] = sample.Point()
	s.seen[d.DriverID] = d.UpdatedAt
	return nil
}

func (s *MemoryStore) RemoveFromIndex(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.geo, id)
	delete(s.seen, id)
	return nil
}

func (s *MemoryStore) PruneIndex(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.seen {
		if at.After(cutoff) {
			continue
		}
		delete(s.geo, id)
		delete(s.seen, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) History(_ context.Context, id types.ID, limit int) ([]LocationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[id]
	if h == nil || !s.now().Before(h.expiresAt) || limit <= 0 {
		return nil, nil
	}
	if limit > len(h.samples) {
		limit = len(h.samples)
	}
	out := make([]LocationSample, limit)
	copy(out, h.samples[:limit])
	return out, nil
}

func (s *MemoryStore) Nearby(_ context.Context, p types.Point, radiusKm float64, limit int) ([]GeoHit, error) {
	s.mu.RLock()
	var hits []GeoHit
	for id, pos := range s.geo {
		dist := haversineKm(p.Lat, p.Lng, pos.Lat, pos.Lng)
		if dist <= radiusKm {
			hits = append(hits, GeoHit{DriverID: id, DistanceKm: dist, Position: pos})
		}
	}
	s.mu.RUnlock()

	sortByDistance(hits, func(h GeoHit) float64 { return h.DistanceKm })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) InBox(_ context.Context, p types.Point, widthKm, heightKm float64) ([]GeoHit, error) {
	s.mu.RLock()
	var hits []GeoHit
	for id, pos := range s.geo {
		dy := haversineKm(p.Lat, p.Lng, pos.Lat, p.Lng)
		dx := haversineKm(pos.Lat, p.Lng, pos.Lat, pos.Lng)
		if dx <= widthKm/2 && dy <= heightKm/2 {
			hits = append(hits, GeoHit{
				DriverID:   id,
				DistanceKm: haversineKm(p.Lat, p.Lng, pos.Lat, pos.Lng),
				Position:   pos,
			})
		}
	}
	s.mu.RUnlock()

	sortByDistance(hits, func(h GeoHit) float64 { return h.DistanceKm })
	return hits, nil
}

func (s *MemoryStore) IndexedCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.geo)), nil
}

func (s *MemoryStore) PutRide(_ context.Context, r *RideTrackingState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rides[r.RideID] = &memoryRide{state: copyRide(r), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) GetRide(_ context.Context, id types.ID) (*RideTrackingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rides[id]
	if !ok || !s.now().Before(r.expiresAt) {
		return nil, ErrRideTrackingNotFound
	}
	out := copyRide(&r.state)
	return &out, nil
}

func (s *MemoryStore) AppendAlert(_ context.Context, a TrackingAlert, logCap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append([]TrackingAlert{a}, s.alerts...)
	if logCap > 0 && len(s.alerts) > logCap {
		s.alerts = s.alerts[:logCap]
	}
	return nil
}

func (s *MemoryStore) RecentAlerts(_ context.Context, limit int) ([]TrackingAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	if limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]TrackingAlert, limit)
	copy(out, s.alerts[:limit])
	return out, nil
}

func (s *MemoryStore) PutGeofence(_ context.Context, g Geofence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geofences[g.Name] = g
	return nil
}

func (s *MemoryStore) DeleteGeofence(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.geofences[name]
	delete(s.geofences, name)
	return ok, nil
}

func (s *MemoryStore) ListGeofences(_ context.Context) ([]Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Geofence, 0, len(s.geofences))
	for _, g := range s.geofences {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// liveDriver must be called with s.mu held.
func (s *MemoryStore) liveDriver(id types.ID) *DriverTrackingState {
	d, ok := s.drivers[id]
	if !ok || !s.now().Before(d.expiresAt) {
		return nil
	}
	return &d.state
}

func copyDriver(d *DriverTrackingState) DriverTrackingState {
	out := *d
	if d.CurrentLocation != nil {
		loc := *d.CurrentLocation
		out.CurrentLocation = &loc
	}
	return out
}

func copyRide(r *RideTrackingState) RideTrackingState {
	out := *r
	out.Route.Legs = append([]RouteLeg(nil), r.Route.Legs...)
	out.Route.Polyline = append([]types.Point(nil), r.Route.Polyline...)
	if r.CurrentLocation != nil {
		loc := *r.CurrentLocation
		out.CurrentLocation = &loc
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}
