// README: Passenger websocket endpoint for live ride progress.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/notify"
	"ridetrack/internal/types"
)

type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) Passenger(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid passenger id")
		return
	}
	h.hub.Serve(c.Writer, c.Request, types.ID(id))
}
