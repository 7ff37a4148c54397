// README: Tracking records (driver state, location samples, ride progress, geofences, alerts).
package tracking

import (
	"time"

	"ridetrack/internal/types"
)

type DriverStatus string

const (
	DriverActive   DriverStatus = "active"
	DriverInactive DriverStatus = "inactive"
)

type RideStatus string

const (
	RideStarted   RideStatus = "started"
	RideCompleted RideStatus = "completed"
)

type AlertType string

const (
	AlertSpeeding      AlertType = "speeding"
	AlertIdle          AlertType = "idle"
	AlertGeofenceEnter AlertType = "geofence_enter"
	AlertGeofenceExit  AlertType = "geofence_exit"
)

type GeofenceAlertType string

const (
	GeofenceOnEnter GeofenceAlertType = "enter"
	GeofenceOnExit  GeofenceAlertType = "exit"
	GeofenceOnBoth  GeofenceAlertType = "both"
)

// LocationSample is one position report. Immutable once recorded.
type LocationSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	SpeedKmh       float64   `json:"speed_kmh"`
	HeadingDegrees float64   `json:"heading_degrees"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s LocationSample) Point() types.Point {
	return types.Point{Lat: s.Latitude, Lng: s.Longitude}
}

// DriverTrackingState is the live record of one driver.
type DriverTrackingState struct {
	DriverID          types.ID        `json:"driver_id"`
	Status            DriverStatus    `json:"status"`
	IsOnline          bool            `json:"is_online"`
	CurrentLocation   *LocationSample `json:"current_location,omitempty"`
	CurrentRideID     types.ID        `json:"current_ride_id,omitempty"`
	LastSpeedUpdateAt time.Time       `json:"last_speed_update_at"`
	LastIdleAlertAt   time.Time       `json:"last_idle_alert_at"`
	StartedAt         time.Time       `json:"started_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Available reports whether the driver can be offered a ride.
func (d *DriverTrackingState) Available() bool {
	return d.IsOnline && d.Status == DriverActive && d.CurrentRideID == "" && d.CurrentLocation != nil
}

type RouteLeg struct {
	Start           types.Point `json:"start"`
	End             types.Point `json:"end"`
	DistanceMeters  float64     `json:"distance_meters"`
	DurationSeconds float64     `json:"duration_seconds"`
}

// Route is the planned path fetched from the mapping provider at ride start.
type Route struct {
	Legs            []RouteLeg    `json:"legs"`
	DistanceMeters  float64       `json:"distance_meters"`
	DurationSeconds float64       `json:"duration_seconds"`
	Polyline        []types.Point `json:"polyline,omitempty"`
}

// Origin is the start of the first leg.
func (r *Route) Origin() types.Point {
	if len(r.Legs) == 0 {
		return types.Point{}
	}
	return r.Legs[0].Start
}

// Destination is the end of the last leg.
func (r *Route) Destination() types.Point {
	if len(r.Legs) == 0 {
		return types.Point{}
	}
	return r.Legs[len(r.Legs)-1].End
}

// TotalDistance falls back to the sum of legs when the route total is missing.
func (r *Route) TotalDistance() float64 {
	if r.DistanceMeters > 0 {
		return r.DistanceMeters
	}
	var sum float64
	for _, l := range r.Legs {
		sum += l.DistanceMeters
	}
	return sum
}

func (r *Route) TotalDuration() float64 {
	if r.DurationSeconds > 0 {
		return r.DurationSeconds
	}
	var sum float64
	for _, l := range r.Legs {
		sum += l.DurationSeconds
	}
	return sum
}

type RideTrackingState struct {
	RideID                 types.ID        `json:"ride_id"`
	DriverID               types.ID        `json:"driver_id"`
	PassengerID            types.ID        `json:"passenger_id"`
	Status                 RideStatus      `json:"status"`
	Route                  Route           `json:"route"`
	CurrentLocation        *LocationSample `json:"current_location,omitempty"`
	ProgressPercentage     float64         `json:"progress_percentage"`
	DistanceTraveledMeters float64         `json:"distance_traveled_meters"`
	ETASeconds             float64         `json:"eta_seconds"`
	StartedAt              time.Time       `json:"started_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	EndedAt                *time.Time      `json:"ended_at,omitempty"`
}

// Progress is the derived view pushed to the passenger on every update.
type Progress struct {
	RideID                 types.ID       `json:"ride_id"`
	PassengerID            types.ID       `json:"passenger_id"`
	DriverID               types.ID       `json:"driver_id"`
	Location               LocationSample `json:"location"`
	ProgressPercentage     float64        `json:"progress_percentage"`
	DistanceTraveledMeters float64        `json:"distance_traveled_meters"`
	ETASeconds             float64        `json:"eta_seconds"`
}

type Geofence struct {
	Name         string            `json:"name"`
	Center       types.Point       `json:"center"`
	RadiusMeters float64           `json:"radius_meters"`
	AlertType    GeofenceAlertType `json:"alert_type"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Contains reports whether p lies inside the fence.
func (g Geofence) Contains(p types.Point) bool {
	return haversineMeters(g.Center, p) <= g.RadiusMeters
}

type TrackingAlert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	DriverID  types.ID       `json:"driver_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type NearbyQuery struct {
	Point    types.Point
	RadiusKm float64
	Limit    int
}

type NearbyDriver struct {
	DriverID       types.ID    `json:"driver_id"`
	DistanceKm     float64     `json:"distance_km"`
	Location       types.Point `json:"location"`
	SpeedKmh       float64     `json:"speed_kmh"`
	HeadingDegrees float64     `json:"heading_degrees"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Bounds is a lat/lng rectangle. West must not exceed East.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b Bounds) Valid() bool {
	ne := types.Point{Lat: b.North, Lng: b.East}
	sw := types.Point{Lat: b.South, Lng: b.West}
	return ne.Valid() && sw.Valid() && b.North >= b.South && b.East >= b.West
}

func (b Bounds) Center() types.Point {
	return types.Point{Lat: (b.North + b.South) / 2, Lng: (b.East + b.West) / 2}
}

func (b Bounds) Contains(p types.Point) bool {
	return p.Lat <= b.North && p.Lat >= b.South && p.Lng <= b.East && p.Lng >= b.West
}

type HeatCell struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int     `json:"count"`
}

type BehaviorReport struct {
	DriverID               types.ID  `json:"driver_id"`
	SampleCount            int       `json:"sample_count"`
	TotalDistanceKm        float64   `json:"total_distance_km"`
	TotalDurationSeconds   float64   `json:"total_duration_seconds"`
	AverageSpeedKmh        float64   `json:"average_speed_kmh"`
	MaxSpeedKmh            float64   `json:"max_speed_kmh"`
	SpeedingEvents         int       `json:"speeding_events"`
	HardBrakingEvents      int       `json:"hard_braking_events"`
	HardAccelerationEvents int       `json:"hard_acceleration_events"`
	SafetyScore            int       `json:"safety_score"`
	AnalyzedAt             time.Time `json:"analyzed_at"`
}

type Stats struct {
	IndexedDrivers int64 `json:"indexed_drivers"`
	Geofences      int   `json:"geofences"`
}
