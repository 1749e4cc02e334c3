// Package api serves churn state over HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/churnwatch/churnwatch/internal/churn"
	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/internal/countdown"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

// RoleOperator may trigger reconnects and refreshes
const RoleOperator = "operator"

// StateProvider is the part of the churn client the API exposes.
type StateProvider interface {
	Snapshot() churn.Snapshot
	Reconnect()
	Refresh()
}

// StateView is the JSON shape of /api/v1/state and of WebSocket pushes.
type StateView struct {
	churn.Snapshot
	Countdown countdown.Countdown `json:"countdown"`
}

// NewStateView pairs snap with its countdown at now
func NewStateView(snap churn.Snapshot, now time.Time) StateView {
	return StateView{
		Snapshot: snap,
		Countdown: countdown.Compute(snap.CurrentBlockHeight, snap.NextChurnHeight,
			snap.ChurnIntervalBlocks, snap.AverageBlockSeconds, now),
	}
}

// Server represents the API server
type Server struct {
	router  *gin.Engine
	logger  *logger.Logger
	config  config.APIConfig
	state   StateProvider
	hub     *Hub
	auth    *AuthMiddleware
	version string
	started time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, state StateProvider, version string, logger *logger.Logger) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(logger.Writer(zapcore.ErrorLevel)))
	router.Use(ginLogger(logger))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	auth := NewAuthMiddleware(cfg.JWTSecret, logger)
	for i, key := range cfg.APIKeys {
		auth.AddAPIKey(key, fmt.Sprintf("config-key-%d", i), []string{RoleOperator})
	}

	server := &Server{
		router:  router,
		logger:  logger,
		config:  cfg,
		state:   state,
		hub:     NewHub(logger),
		auth:    auth,
		version: version,
		started: time.Now(),
	}

	server.setupRoutes()

	return server
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/state", s.getState)
	v1.GET("/countdown", s.getCountdown)
	v1.GET("/version", s.getVersion)
	v1.GET("/ws", s.handleWebSocket)

	actions := v1.Group("")
	if s.config.EnableAuth {
		actions.Use(s.auth.Authenticate(), s.auth.RequireRole(RoleOperator))
	}
	actions.Use(RateLimiter(30))
	actions.POST("/reconnect", s.reconnect)
	actions.POST("/refresh", s.refresh)
}

// Router exposes the handler for tests and embedding
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub fed by RunHub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Auth returns the authentication middleware
func (s *Server) Auth() *AuthMiddleware {
	return s.auth
}

// RunHub pushes every snapshot from updates to connected WebSocket clients
func (s *Server) RunHub(ctx context.Context, updates <-chan churn.Snapshot) {
	s.hub.Run(ctx, updates)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("starting API server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the API server
func (s *Server) Stop() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown API server gracefully", zap.Error(err))
		return err
	}

	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	snap := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"connected": snap.Connected,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, NewStateView(s.state.Snapshot(), time.Now()))
}

func (s *Server) getCountdown(c *gin.Context) {
	snap := s.state.Snapshot()
	cd := countdown.Compute(snap.CurrentBlockHeight, snap.NextChurnHeight,
		snap.ChurnIntervalBlocks, snap.AverageBlockSeconds, time.Now())
	c.JSON(http.StatusOK, cd)
}

func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.version,
		"api":     "v1",
	})
}

func (s *Server) reconnect(c *gin.Context) {
	s.state.Reconnect()
	fields := []zap.Field{zap.String("ip", c.ClientIP())}
	if v, ok := c.Get(principalKey); ok {
		fields = append(fields, zap.String("by", v.(Principal).Name))
	}
	s.logger.Info("reconnect requested via API", fields...)
	c.JSON(http.StatusAccepted, gin.H{"message": "reconnect scheduled"})
}

func (s *Server) refresh(c *gin.Context) {
	s.state.Refresh()
	c.JSON(http.StatusAccepted, gin.H{"message": "refresh scheduled"})
}

// ginLogger creates a Gin logging middleware
func ginLogger(logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		logger.Debug("API request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
