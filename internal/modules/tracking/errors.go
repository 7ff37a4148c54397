package tracking

import "errors"

var (
	ErrInvalidLocation      = errors.New("invalid location")
	ErrDriverNotTracked     = errors.New("driver not tracked")
	ErrRideTrackingNotFound = errors.New("ride tracking not found")
	ErrStoreUnavailable     = errors.New("tracking store unavailable")
	ErrInsufficientData     = errors.New("insufficient location history")
	ErrInvalidRoute         = errors.New("invalid route")
	ErrRideInProgress       = errors.New("driver already has an active ride")
	ErrRideConflict         = errors.New("ride already assigned or completed")
	ErrInvalidGeofence      = errors.New("invalid geofence")
	ErrBadRequest           = errors.New("bad request")
)
