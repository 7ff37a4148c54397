// README: Ride tracking handlers. Ride start plans the route through the RoutePlanner unless the caller supplies one.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/maps"
	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

// RoutePlanner is the mapping provider surface the HTTP layer needs.
type RoutePlanner interface {
	Route(ctx context.Context, origin, destination types.Point, waypoints []types.Point) (*tracking.Route, error)
	ETA(ctx context.Context, origin, destination types.Point) (*maps.ETA, error)
	Traffic(ctx context.Context, origin, destination types.Point) (*maps.TrafficCondition, error)
}

type RideHandler struct {
	tracking *tracking.Service
	planner  RoutePlanner
}

// NewRideHandler builds the handler. planner may be nil, in which case
// ride start requires an explicit route.
func NewRideHandler(svc *tracking.Service, planner RoutePlanner) *RideHandler {
	return &RideHandler{tracking: svc, planner: planner}
}

type startRideReq struct {
	DriverID    string          `json:"driver_id"`
	PassengerID string          `json:"passenger_id"`
	Route       *tracking.Route `json:"route"`
	Origin      *types.Point    `json:"origin"`
	Destination *types.Point    `json:"destination"`
	Waypoints   []types.Point   `json:"waypoints"`
}

func (h *RideHandler) Start(c *gin.Context) {
	rideID, ok := rideID(c)
	if !ok {
		return
	}
	var req startRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.DriverID) || !isValidID(req.PassengerID) {
		writeError(c, http.StatusBadRequest, "driver_id and passenger_id are required")
		return
	}

	var route tracking.Route
	switch {
	case req.Route != nil:
		route = *req.Route
	case req.Origin != nil && req.Destination != nil:
		if h.planner == nil {
			writeError(c, http.StatusServiceUnavailable, "route planning not configured")
			return
		}
		planned, err := h.planner.Route(c.Request.Context(), *req.Origin, *req.Destination, req.Waypoints)
		if err != nil {
			writeRouteError(c, err)
			return
		}
		route = *planned
	default:
		writeError(c, http.StatusBadRequest, "route or origin and destination are required")
		return
	}

	r, err := h.tracking.StartRideTracking(c.Request.Context(), tracking.StartRideCommand{
		RideID:      rideID,
		DriverID:    types.ID(req.DriverID),
		PassengerID: types.ID(req.PassengerID),
		Route:       route,
	})
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) UpdateLocation(c *gin.Context) {
	rideID, ok := rideID(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sample, ok := req.sample()
	if !ok {
		writeError(c, http.StatusBadRequest, "missing coordinates")
		return
	}
	p, err := h.tracking.UpdateRideTracking(c.Request.Context(), rideID, sample)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *RideHandler) Get(c *gin.Context) {
	rideID, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.tracking.GetRideTracking(c.Request.Context(), rideID)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) End(c *gin.Context) {
	rideID, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.tracking.EndRideTracking(c.Request.Context(), rideID)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func rideID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}
