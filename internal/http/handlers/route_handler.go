// README: Route planning handlers backed by the mapping provider.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/types"
)

type RouteHandler struct {
	planner RoutePlanner
}

func NewRouteHandler(planner RoutePlanner) *RouteHandler {
	return &RouteHandler{planner: planner}
}

type routeReq struct {
	Origin      *types.Point  `json:"origin"`
	Destination *types.Point  `json:"destination"`
	Waypoints   []types.Point `json:"waypoints"`
}

func (h *RouteHandler) Plan(c *gin.Context) {
	if !h.available(c) {
		return
	}
	var req routeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Origin == nil || req.Destination == nil {
		writeError(c, http.StatusBadRequest, "origin and destination are required")
		return
	}
	route, err := h.planner.Route(c.Request.Context(), *req.Origin, *req.Destination, req.Waypoints)
	if err != nil {
		writeRouteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, route)
}

func (h *RouteHandler) ETA(c *gin.Context) {
	if !h.available(c) {
		return
	}
	origin, dest, ok := endpoints(c)
	if !ok {
		return
	}
	eta, err := h.planner.ETA(c.Request.Context(), origin, dest)
	if err != nil {
		writeRouteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, eta)
}

func (h *RouteHandler) Traffic(c *gin.Context) {
	if !h.available(c) {
		return
	}
	origin, dest, ok := endpoints(c)
	if !ok {
		return
	}
	tc, err := h.planner.Traffic(c.Request.Context(), origin, dest)
	if err != nil {
		writeRouteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tc)
}

func (h *RouteHandler) available(c *gin.Context) bool {
	if h.planner == nil {
		writeError(c, http.StatusServiceUnavailable, "route planning not configured")
		return false
	}
	return true
}

// endpoints reads origin_lat, origin_lng, dest_lat and dest_lng.
func endpoints(c *gin.Context) (types.Point, types.Point, bool) {
	var o, d types.Point
	var ok [4]bool
	o.Lat, ok[0] = queryFloat(c, "origin_lat")
	o.Lng, ok[1] = queryFloat(c, "origin_lng")
	d.Lat, ok[2] = queryFloat(c, "dest_lat")
	d.Lng, ok[3] = queryFloat(c, "dest_lng")
	if !(ok[0] && ok[1] && ok[2] && ok[3]) {
		writeError(c, http.StatusBadRequest, "origin_lat, origin_lng, dest_lat and dest_lng are required")
		return o, d, false
	}
	return o, d, true
}
