// README: Driver tracking handlers (lifecycle, location ingest, proximity reads, alerts).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/types"
)

// AlertArchive serves per-driver alert history beyond the rolling log.
type AlertArchive interface {
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]tracking.TrackingAlert, error)
}

type TrackingHandler struct {
	tracking *tracking.Service
	archive  AlertArchive
}

// NewTrackingHandler builds the handler. archive may be nil.
func NewTrackingHandler(svc *tracking.Service, archive AlertArchive) *TrackingHandler {
	return &TrackingHandler{tracking: svc, archive: archive}
}

type locationReq struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	SpeedKmh       float64    `json:"speed_kmh"`
	HeadingDegrees float64    `json:"heading_degrees"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	Timestamp      *time.Time `json:"timestamp"`
}

func (r locationReq) sample() (tracking.LocationSample, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return tracking.LocationSample{}, false
	}
	s := tracking.LocationSample{
		Latitude:       *r.Latitude,
		Longitude:      *r.Longitude,
		SpeedKmh:       r.SpeedKmh,
		HeadingDegrees: r.HeadingDegrees,
		AccuracyMeters: r.AccuracyMeters,
	}
	if r.Timestamp != nil {
		s.Timestamp = *r.Timestamp
	}
	return s, true
}

type startTrackingReq struct {
	Location *locationReq `json:"location"`
}

func (h *TrackingHandler) Start(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	var req startTrackingReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	var initial *tracking.LocationSample
	if req.Location != nil {
		s, ok := req.Location.sample()
		if !ok {
			writeError(c, http.StatusBadRequest, "missing coordinates")
			return
		}
		initial = &s
	}
	d, err := h.tracking.StartTracking(c.Request.Context(), id, initial)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *TrackingHandler) UpdateLocation(c *gin.Context) {
	id, ok := driverID(c)
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
	recorded, err := h.tracking.UpdateLocation(c.Request.Context(), id, sample)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, recorded)
}

func (h *TrackingHandler) Stop(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	if err := h.tracking.StopTracking(c.Request.Context(), id); err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "status": tracking.DriverInactive})
}

type availabilityReq struct {
	Online *bool `json:"online"`
}

func (h *TrackingHandler) SetAvailability(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	d, err := h.tracking.SetAvailability(c.Request.Context(), id, *req.Online)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *TrackingHandler) Get(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	d, err := h.tracking.GetDriverState(c.Request.Context(), id)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *TrackingHandler) History(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	samples, err := h.tracking.GetLocationHistory(c.Request.Context(), id, limit)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "locations": samples})
}

func (h *TrackingHandler) Behavior(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	report, err := h.tracking.AnalyzeDriverBehavior(c.Request.Context(), id, limit)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}

// DriverAlerts reads the durable archive when configured, else filters the
// rolling alert log.
func (h *TrackingHandler) DriverAlerts(c *gin.Context) {
	id, ok := driverID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok || limit <= 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}

	if h.archive != nil {
		alerts, err := h.archive.ListByDriver(c.Request.Context(), id, limit)
		if err != nil {
			_ = c.Error(err)
			writeError(c, http.StatusServiceUnavailable, "alert archive unavailable")
			return
		}
		if alerts == nil {
			alerts = []tracking.TrackingAlert{}
		}
		writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "alerts": alerts})
		return
	}

	recent, err := h.tracking.RecentAlerts(c.Request.Context(), 0)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	alerts := []tracking.TrackingAlert{}
	for _, a := range recent {
		if a.DriverID == id {
			alerts = append(alerts, a)
			if len(alerts) == limit {
				break
			}
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "alerts": alerts})
}

func (h *TrackingHandler) Nearby(c *gin.Context) {
	lat, okLat := queryFloat(c, "lat")
	lng, okLng := queryFloat(c, "lng")
	if !okLat || !okLng {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius, ok := queryFloatDefault(c, "radius_km", 5)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid radius_km")
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	drivers, err := h.tracking.GetNearbyDrivers(c.Request.Context(), tracking.NearbyQuery{
		Point:    types.Point{Lat: lat, Lng: lng},
		RadiusKm: radius,
		Limit:    limit,
	})
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers, "count": len(drivers)})
}

func (h *TrackingHandler) Bounds(c *gin.Context) {
	b, ok := queryBounds(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "north, south, east and west are required")
		return
	}
	drivers, err := h.tracking.GetDriversInBounds(c.Request.Context(), b)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers, "count": len(drivers)})
}

func (h *TrackingHandler) Heatmap(c *gin.Context) {
	b, ok := queryBounds(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "north, south, east and west are required")
		return
	}
	grid, ok := queryFloatDefault(c, "grid", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid grid")
		return
	}
	cells, err := h.tracking.DriverHeatmap(c.Request.Context(), b, grid)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"cells": cells})
}

func (h *TrackingHandler) RecentAlerts(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	alerts, err := h.tracking.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"alerts": alerts})
}

func (h *TrackingHandler) Stats(c *gin.Context) {
	st, err := h.tracking.Stats(c.Request.Context())
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func driverID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return "", false
	}
	return types.ID(id), true
}
