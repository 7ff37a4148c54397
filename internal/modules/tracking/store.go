// README: Store contract for the geo index and tracking records; Redis and in-memory implementations.
package tracking

import (
	"context"
	"time"

	"ridetrack/internal/types"
)

// GeoHit is one geo index match.
type GeoHit struct {
	DriverID   types.ID
	DistanceKm float64
	Position   types.Point
}

// Store is the single source of truth for live tracking state. Every method
// is one round trip (or one transaction) against the backing store; failures
// other than "not found" are reported wrapped in ErrStoreUnavailable.
type Store interface {
	// PutDriver overwrites the driver record and refreshes its TTL.
	PutDriver(ctx context.Context, d *DriverTrackingState, ttl time.Duration) error
	// GetDriver returns ErrDriverNotTracked when no record exists.
	GetDriver(ctx context.Context, id types.ID) (*DriverTrackingState, error)
	// GetDrivers returns records in the order of ids; missing drivers are nil.
	GetDrivers(ctx context.Context, ids []types.ID) ([]*DriverTrackingState, error)
	// RecordLocation atomically writes the driver record, prepends the sample
	// to history (trimmed to historyCap) and upserts the geo index.
	RecordLocation(ctx context.Context, d *DriverTrackingState, sample LocationSample, historyCap int, ttl time.Duration) error
	// RemoveFromIndex drops the driver from the geo index only.
	RemoveFromIndex(ctx context.Context, id types.ID) error
	// PruneIndex drops index entries whose last location update is at or
	// before cutoff, returning how many were removed.
	PruneIndex(ctx context.Context, cutoff time.Time) (int64, error)
	// History returns up to limit samples, newest first.
	History(ctx context.Context, id types.ID, limit int) ([]LocationSample, error)
	// Nearby returns indexed drivers within radiusKm of p, nearest first.
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]GeoHit, error)
	// InBox returns indexed drivers inside the widthKm x heightKm box centered on p.
	InBox(ctx context.Context, p types.Point, widthKm, heightKm float64) ([]GeoHit, error)
	// IndexedCount is the number of drivers in the geo index.
	IndexedCount(ctx context.Context) (int64, error)

	PutRide(ctx context.Context, r *RideTrackingState, ttl time.Duration) error
	// GetRide returns ErrRideTrackingNotFound when no record exists.
	GetRide(ctx context.Context, id types.ID) (*RideTrackingState, error)

	AppendAlert(ctx context.Context, a TrackingAlert, logCap int) error
	RecentAlerts(ctx context.Context, limit int) ([]TrackingAlert, error)

	PutGeofence(ctx context.Context, g Geofence) error
	DeleteGeofence(ctx context.Context, name string) (bool, error)
	ListGeofences(ctx context.Context) ([]Geofence, error)
}
