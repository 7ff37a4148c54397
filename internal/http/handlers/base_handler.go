// README: Base handler utilities (JSON helpers, error mapping, query parsing).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/maps"
	"ridetrack/internal/modules/tracking"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts up to 64 letters, digits, '-' or '_'. Covers uuids and
// the hex ids issued by the dispatch side.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeTrackingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracking.ErrBadRequest),
		errors.Is(err, tracking.ErrInvalidLocation),
		errors.Is(err, tracking.ErrInvalidRoute),
		errors.Is(err, tracking.ErrInvalidGeofence):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracking.ErrDriverNotTracked), errors.Is(err, tracking.ErrRideTrackingNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, tracking.ErrRideInProgress), errors.Is(err, tracking.ErrRideConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, tracking.ErrInsufficientData):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tracking.ErrStoreUnavailable):
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, tracking.ErrStoreUnavailable.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeRouteError(c *gin.Context, err error) {
	var perr *maps.ProviderError
	switch {
	case errors.Is(err, maps.ErrInvalidPoint):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &perr) && errors.Is(err, maps.ErrNoRoute):
		writeError(c, http.StatusNotFound, maps.ErrNoRoute.Error())
	case errors.As(err, &perr):
		_ = c.Error(err)
		writeError(c, http.StatusBadGateway, "route provider error: "+perr.Status)
	default:
		writeTrackingError(c, err)
	}
}

// queryFloat reads a required float query parameter.
func queryFloat(c *gin.Context, name string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Query(name), 64)
	return v, err == nil
}

// queryFloatDefault reads an optional float query parameter.
func queryFloatDefault(c *gin.Context, name string, def float64) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func queryBounds(c *gin.Context) (tracking.Bounds, bool) {
	var b tracking.Bounds
	var ok [4]bool
	b.North, ok[0] = queryFloat(c, "north")
	b.South, ok[1] = queryFloat(c, "south")
	b.East, ok[2] = queryFloat(c, "east")
	b.West, ok[3] = queryFloat(c, "west")
	return b, ok[0] && ok[1] && ok[2] && ok[3]
}
