package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// Store is the read side of the persisted marketplace state.
type Store interface {
	Stakes(domain models.Domain) *repository.StakeRepository
	Notifier() *repository.NotifierRepository
	Storage() *repository.StorageRepository
}

// SubscriptionService lists a consumer's subscriptions, optionally refreshed from providers.
type SubscriptionService interface {
	List(ctx context.Context, consumer string) ([]*models.Subscription, error)
	RefreshSubscriptions(ctx context.Context, consumer string) ([]*models.Subscription, error)
}

// HTTPServer is the HTTP server struct that will serve the API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// port is the port on which the server will listen
	port int

	// server is the underlying HTTP server
	server *http.Server

	store         Store
	subscriptions SubscriptionService
	websocket     http.Handler
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// NewHTTPServer creates a new HTTP server instance.
// subscriptions and websocket may be nil; their routes then answer 404.
func NewHTTPServer(logger *logger.Logger, port int, store Store, subscriptions SubscriptionService, websocket http.Handler) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(corsMiddleware())

	server := &HTTPServer{
		router:        router,
		port:          port,
		logger:        logger,
		store:         store,
		subscriptions: subscriptions,
		websocket:     websocket,
	}

	// Define routes
	server.routes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := fmt.Sprintf("0.0.0.0:%v", s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server: ", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
