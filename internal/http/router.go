// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridetrack/internal/http/handlers"
	"ridetrack/internal/http/middleware"
)

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.logger), middleware.Logging(s.logger), middleware.Prometheus())
	r.Use(cors.New(corsConfig(s.corsOrigins)))

	api := r.Group("/api")

	trackingHandler := handlers.NewTrackingHandler(s.tracking, s.archive)
	tr := api.Group("/tracking")
	tr.POST("/drivers/:id/start", trackingHandler.Start)
	tr.PUT("/drivers/:id/location", trackingHandler.UpdateLocation)
	tr.POST("/drivers/:id/stop", trackingHandler.Stop)
	tr.PUT("/drivers/:id/availability", trackingHandler.SetAvailability)
	tr.GET("/drivers/:id", trackingHandler.Get)
	tr.GET("/drivers/:id/history", trackingHandler.History)
	tr.GET("/drivers/:id/behavior", trackingHandler.Behavior)
	tr.GET("/drivers/:id/alerts", trackingHandler.DriverAlerts)
	tr.GET("/nearby", trackingHandler.Nearby)
	tr.GET("/bounds", trackingHandler.Bounds)
	tr.GET("/heatmap", trackingHandler.Heatmap)
	tr.GET("/alerts", trackingHandler.RecentAlerts)
	tr.GET("/stats", trackingHandler.Stats)

	rideHandler := handlers.NewRideHandler(s.tracking, s.planner)
	tr.POST("/rides/:id/start", rideHandler.Start)
	tr.PUT("/rides/:id/location", rideHandler.UpdateLocation)
	tr.GET("/rides/:id", rideHandler.Get)
	tr.POST("/rides/:id/end", rideHandler.End)

	geofenceHandler := handlers.NewGeofenceHandler(s.tracking)
	tr.GET("/geofences", geofenceHandler.List)
	tr.GET("/geofences/check", geofenceHandler.Check)
	tr.PUT("/geofences/:name", geofenceHandler.Upsert)
	tr.DELETE("/geofences/:name", geofenceHandler.Delete)

	routeHandler := handlers.NewRouteHandler(s.planner)
	api.POST("/routes", routeHandler.Plan)
	api.GET("/routes/eta", routeHandler.ETA)
	api.GET("/routes/traffic", routeHandler.Traffic)

	wsHandler := handlers.NewWSHandler(s.hub)
	r.GET("/ws/passengers/:id", wsHandler.Passenger)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
