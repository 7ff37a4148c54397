// README: API gateway; builds the gin engine and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"ridetrack/internal/http/handlers"
	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/notify"
)

type ServerDeps struct {
	Tracking *tracking.Service
	// Planner and Archive are optional; their routes answer 503 or fall back
	// when unset.
	Planner     handlers.RoutePlanner
	Archive     handlers.AlertArchive
	Hub         *notify.Hub
	Logger      *slog.Logger
	CORSOrigins []string
}

type Server struct {
	tracking    *tracking.Service
	planner     handlers.RoutePlanner
	archive     handlers.AlertArchive
	hub         *notify.Hub
	logger      *slog.Logger
	corsOrigins []string
}

func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = notify.NewHub(logger, deps.CORSOrigins)
	}
	return &Server{
		tracking:    deps.Tracking,
		planner:     deps.Planner,
		archive:     deps.Archive,
		hub:         hub,
		logger:      logger,
		corsOrigins: deps.CORSOrigins,
	}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s)
}
