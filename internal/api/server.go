package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"strat-scanner/internal/auth"
	"strat-scanner/internal/database"
	"strat-scanner/internal/events"
	"strat-scanner/internal/logging"
	"strat-scanner/internal/scanner"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// ScanService is the part of the scanner the API drives
type ScanService interface {
	Scan(ctx context.Context) *scanner.ScanResult
	GetLastResult() *scanner.ScanResult
	Tickers() []string
}

// AlertJournal serves persisted alerts
type AlertJournal interface {
	GetRecentAlerts(ctx context.Context, limit int) ([]*database.AlertRecord, error)
	HealthCheck(ctx context.Context) error
}

// StatusFunc reports the state of one component for /api/status
type StatusFunc func() map[string]interface{}

// RateLimiter limits requests per client key
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	burst    int
}

// NewRateLimiter allows burst requests per key, refilled one every interval
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
		burst:    burst,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.every), r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string
	Port            int
	ProductionMode  bool
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	TriggerInterval time.Duration // minimum spacing of manual scan triggers per client
}

// Server is the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	scanner    ScanService
	journal    AlertJournal
	eventBus   *events.EventBus
	hub        *WSHub
	jwtManager *auth.JWTManager
	recent     *alertRing
	config     ServerConfig
	logger     *logging.Logger

	triggerLimiter *RateLimiter

	statusMu sync.RWMutex
	status   map[string]StatusFunc
}

// NewServer creates a new API server. journal and jwtManager may be nil:
// without a journal recent alerts come from memory, without a JWT manager
// the trigger endpoint is open.
func NewServer(cfg ServerConfig, scan ScanService, journal AlertJournal, eventBus *events.EventBus, jwtManager *auth.JWTManager) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.TriggerInterval <= 0 {
		cfg.TriggerInterval = 10 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:         router,
		scanner:        scan,
		journal:        journal,
		eventBus:       eventBus,
		jwtManager:     jwtManager,
		recent:         newAlertRing(maxAlertLimit),
		config:         cfg,
		logger:         logging.WithComponent("api"),
		triggerLimiter: NewRateLimiter(cfg.TriggerInterval, 1),
		status:         make(map[string]StatusFunc),
	}

	if eventBus != nil {
		s.hub = InitWebSocket(eventBus)
		eventBus.Subscribe(events.EventSignalAlerted, func(e events.Event) {
			s.recent.add(e.Data["alert"])
		})
	}

	s.setupRoutes()
	return s
}

// RegisterStatus adds a component to the /api/status report
func (s *Server) RegisterStatus(name string, fn StatusFunc) {
	s.statusMu.Lock()
	s.status[name] = fn
	s.statusMu.Unlock()
}

// Router exposes the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.hub != nil {
		s.router.GET("/ws", s.handleWebSocket)
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/scan/last", s.handleLastScan)
		api.GET("/alerts/recent", s.handleRecentAlerts)

		trigger := []gin.HandlerFunc{}
		if s.jwtManager != nil {
			trigger = append(trigger, auth.Middleware(s.jwtManager), auth.RequireRole(auth.RoleOperator))
		}
		trigger = append(trigger, s.handleTriggerScan)
		api.POST("/scan/trigger", trigger...)
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	// manual triggers run a full cycle inside the request
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if s.hub != nil {
		s.hub.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	if s.journal != nil {
		if err := s.journal.HealthCheck(ctx); err != nil {
			body["status"] = "unhealthy"
			body["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "healthy"
	}

	if last := s.scanner.GetLastResult(); last != nil {
		body["last_scan"] = last.EndTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStatus(c *gin.Context) {
	components := make(map[string]interface{})
	s.statusMu.RLock()
	for name, fn := range s.status {
		components[name] = fn()
	}
	s.statusMu.RUnlock()

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	successResponse(c, gin.H{
		"tickers":           s.scanner.Tickers(),
		"websocket_clients": clients,
		"auth_required":     s.jwtManager != nil,
		"components":        components,
	})
}

func (s *Server) handleLastScan(c *gin.Context) {
	last := s.scanner.GetLastResult()
	if last == nil {
		errorResponse(c, http.StatusNotFound, "no scan has completed yet")
		return
	}
	successResponse(c, last)
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	if s.journal == nil {
		successResponse(c, s.recent.latest(limit))
		return
	}

	alerts, err := s.journal.GetRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load recent alerts", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	successResponse(c, alerts)
}

func (s *Server) handleTriggerScan(c *gin.Context) {
	if !s.triggerLimiter.Allow(c.ClientIP()) {
		errorResponse(c, http.StatusTooManyRequests, "scan was triggered recently, try again later")
		return
	}

	by := "anonymous"
	if claims := auth.GetClaims(c); claims != nil {
		by = claims.Subject
	}
	logging.FromContext(c.Request.Context()).WithComponent("api").Info("Manual scan triggered", "by", by)

	result := s.scanner.Scan(c.Request.Context())
	successResponse(c, result)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, reqLog := logging.WithTraceContext(c.Request.Context(), logging.Default())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logging.TraceIDFromContext(ctx))

		c.Next()

		log := logging.APIContext(reqLog, c.Request.Method, c.FullPath(), c.Writer.Status()).
			WithDuration(time.Since(start))
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("Request failed", "client_ip", c.ClientIP())
			return
		}
		log.Debug("Request served")
	}
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// alertRing keeps the most recent alerts when no journal is configured
type alertRing struct {
	mu    sync.Mutex
	items []interface{}
	size  int
}

func newAlertRing(size int) *alertRing {
	return &alertRing{size: size}
}

func (r *alertRing) add(alert interface{}) {
	if alert == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, alert)
	if len(r.items) > r.size {
		r.items = r.items[len(r.items)-r.size:]
	}
}

// latest returns up to limit alerts, newest first
func (r *alertRing) latest(limit int) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.items)
	if limit > n {
		limit = n
	}
	out := make([]interface{}, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.items[i])
	}
	return out
}
