package http_api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.serveWebsocket)

	v1 := s.router.Group("/api/v1")
	v1.GET("/stakes/:domain/:account", s.stakeSummary)
	v1.GET("/notifier/providers", s.providers)
	v1.GET("/notifier/providers/:address/plans", s.plans)
	v1.GET("/notifier/subscriptions", s.consumerSubscriptions)
	v1.GET("/storage/offers", s.offers)
}
