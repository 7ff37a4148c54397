// README: Geofence registry handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

type GeofenceHandler struct {
	tracking *tracking.Service
}

func NewGeofenceHandler(svc *tracking.Service) *GeofenceHandler {
	return &GeofenceHandler{tracking: svc}
}

type geofenceReq struct {
	Center       types.Point                `json:"center"`
	RadiusMeters float64                    `json:"radius_meters"`
	AlertType    tracking.GeofenceAlertType `json:"alert_type"`
}

func (h *GeofenceHandler) List(c *gin.Context) {
	fences, err := h.tracking.ListGeofences(c.Request.Context())
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"geofences": fences})
}

func (h *GeofenceHandler) Upsert(c *gin.Context) {
	var req geofenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	g, err := h.tracking.UpsertGeofence(c.Request.Context(), tracking.Geofence{
		Name:         c.Param("name"),
		Center:       req.Center,
		RadiusMeters: req.RadiusMeters,
		AlertType:    req.AlertType,
	})
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, g)
}

func (h *GeofenceHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	existed, err := h.tracking.DeleteGeofence(c.Request.Context(), name)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	if !existed {
		writeError(c, http.StatusNotFound, "geofence not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GeofenceHandler) Check(c *gin.Context) {
	lat, okLat := queryFloat(c, "lat")
	lng, okLng := queryFloat(c, "lng")
	if !okLat || !okLng {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	fences, err := h.tracking.CheckGeofences(c.Request.Context(), types.Point{Lat: lat, Lng: lng})
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"inside": fences})
}
