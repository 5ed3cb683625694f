// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/riskgate/internal/anomaly"
	"github.com/mbd888/riskgate/internal/auth"
	"github.com/mbd888/riskgate/internal/authz"
	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/circuitbreaker"
	"github.com/mbd888/riskgate/internal/config"
	"github.com/mbd888/riskgate/internal/device"
	"github.com/mbd888/riskgate/internal/geo"
	"github.com/mbd888/riskgate/internal/health"
	"github.com/mbd888/riskgate/internal/history"
	"github.com/mbd888/riskgate/internal/kvstore"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/payment"
	"github.com/mbd888/riskgate/internal/ratelimit"
	"github.com/mbd888/riskgate/internal/profile"
	"github.com/mbd888/riskgate/internal/receipts"
	"github.com/mbd888/riskgate/internal/retry"
	"github.com/mbd888/riskgate/internal/risk"
	"github.com/mbd888/riskgate/internal/security"
	"github.com/mbd888/riskgate/internal/threeds"
	"github.com/mbd888/riskgate/internal/validation"
	"github.com/mbd888/riskgate/internal/velocity"
)

// Version is reported by /health.
var Version = "dev"

const (
	geoBreakerThreshold = 5
	geoBreakerOpen      = 30 * time.Second
	outboundTimeout     = 5 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	pipeline      *pipelineParts
	challenges    *challenge.Orchestrator
	hub           *challenge.Hub
	sweeper       *challenge.Sweeper
	authenticator *threeds.Authenticator
	rateLimiter   *ratelimit.Limiter
	health        *health.Registry
	receipts      *receipts.Service
	profiles      *profile.Service

	gateway payment.Gateway
	sender  challenge.Sender
	db      *sql.DB       // nil if using in-memory
	redis   *redis.Client // nil if using in-memory

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// pipelineParts keeps the authorization pipeline with the defaults its
// handler applies.
type pipelineParts struct {
	pipeline *authz.Pipeline
	defaults authz.Options
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g payment.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// WithSender sets a custom one-time code sender
func WithSender(sender challenge.Sender) Option {
	return func(s *Server) {
		s.sender = sender
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	var (
		historyStore history.Store      = history.NewMemoryStore()
		auditStore   risk.AuditStore    = risk.NewMemoryStore()
		attemptLog   payment.AttemptLog = payment.NewMemoryAttemptLog()
		kv           kvstore.Store      = kvstore.NewMemoryStore()
		receiptStore receipts.Store     = receipts.NewMemoryStore()
		profileStore profile.Store      = profile.NewMemoryStore()
	)

	// Redis backs device ids and, without Postgres, the audit trail.
	if cfg.RedisURL != "" {
		client, err := kvstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		kv = kvstore.NewRedisStore(client, "riskgate:")
		auditStore = risk.NewKVStore(kv)
		s.health.Register("redis", health.Ping("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		s.logger.Info("using Redis key-value store")
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		hs := history.NewPostgresStore(db)
		if err := hs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate history store", "error", err)
		}
		historyStore = hs

		rs := risk.NewPostgresStore(db)
		if err := rs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate risk store", "error", err)
		}
		auditStore = rs

		al := payment.NewPostgresAttemptLog(db)
		if err := al.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate payment attempt log", "error", err)
		}
		attemptLog = al

		rcs := receipts.NewPostgresStore(db)
		if err := rcs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate receipt store", "error", err)
		}
		receiptStore = rcs

		ps := profile.NewPostgresStore(db)
		if err := ps.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate profile store", "error", err)
		}
		profileStore = ps

		s.health.Register("database", health.Ping("database", db.PingContext))
	}

	// Challenges: websocket hub for the front-end, one-time code delivery,
	// and a sweeper for terminal sessions.
	s.hub = challenge.NewHub(s.logger, cfg.AllowedOrigins...)
	if s.sender == nil {
		s.sender = challenge.NewLogSender(s.logger, !cfg.IsProduction())
	}
	challengeCfg := challenge.DefaultConfig()
	challengeCfg.Timeout = cfg.ChallengeTimeout
	challengeCfg.ResendCooldown = cfg.OTPResendCooldown
	s.challenges = challenge.NewOrchestrator(challengeCfg, s.sender, s.hub, s.logger)
	s.sweeper = challenge.NewSweeper(s.challenges, s.logger)
	s.health.Register("challenge_sweeper", func(context.Context) health.Status {
		return health.Status{Name: "challenge_sweeper", Healthy: s.sweeper.Running() || !s.ready.Load()}
	})

	// 3-D Secure
	if cfg.ThreeDSIssuerURL != "" {
		a, err := s.newAuthenticator(ctx)
		if err != nil {
			return nil, err
		}
		s.authenticator = a
		s.logger.Info("3-D Secure enabled", "issuer", cfg.ThreeDSIssuerURL)
	}

	// Payment gateway
	if s.gateway == nil {
		if cfg.StripeSecretKey != "" {
			s.gateway = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.GatewayCurrency)
			s.logger.Info("using Stripe gateway", "currency", cfg.GatewayCurrency)
		} else {
			s.gateway = payment.NewSandboxGateway()
			s.logger.Warn("STRIPE_SECRET_KEY not set, using sandbox gateway")
		}
	}
	executor := payment.NewExecutor(s.gateway, attemptLog, s.logger)

	s.receipts = receipts.NewService(receiptStore, receipts.NewSigner(cfg.ReceiptSigningSecret))
	if !s.receipts.Enabled() {
		s.logger.Warn("RECEIPT_SIGNING_SECRET not set, approvals carry no signed receipt")
	}

	s.profiles = profile.NewService(profileStore)

	// Geolocation
	var resolver geo.Resolver
	if cfg.GeoResolverURL != "" {
		inner := geo.NewHTTPResolver(cfg.GeoResolverURL, &http.Client{Timeout: outboundTimeout})
		breaker := circuitbreaker.New(geoBreakerThreshold, geoBreakerOpen)
		resolver = geo.NewResilientResolver(inner, "http", breaker, s.logger)
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.Thresholds = risk.Thresholds{
		Verification: cfg.RiskVerifyThreshold,
		ManualReview: cfg.RiskReviewThreshold,
		Block:        cfg.RiskBlockThreshold,
	}

	pipeline, err := authz.NewPipeline(authz.Deps{
		Collector: device.NewCollector(nil, kv, s.logger),
		Resolver:  resolver,
		Geo: geo.Config{
			HighRiskCountries:     cfg.HighRiskCountries,
			MediumRiskCountries:   cfg.MediumRiskCountries,
			MaxExpectedDistanceKm: cfg.MaxExpectedDistanceKm,
		},
		History:      historyStore,
		Velocity:     velocity.NewChecker(velocity.DefaultConfig()),
		Anomaly:      anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.DefaultPatterns()),
		Consolidator: risk.NewConsolidator(riskCfg),
		Audit:        auditStore,
		Challenges:   s.challenges,
		ThreeDS:      s.authenticator,
		Executor:     executor,
		Receipts:     s.receipts,
		Profiles:     profileStore,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization pipeline: %w", err)
	}

	defaults := authz.DefaultOptions()
	defaults.ThreeDSEnabled = s.authenticator != nil
	backoff, ok := retry.ByName(cfg.RetryBackoff)
	if !ok {
		s.logger.Warn("unknown retry backoff, using linear", "backoff", cfg.RetryBackoff)
	}
	defaults.Retry = payment.RetryPolicy{
		MaxRetries: cfg.RetryMax,
		BaseDelay:  cfg.RetryBaseDelay,
		Backoff:    backoff,
	}
	s.pipeline = &pipelineParts{pipeline: pipeline, defaults: defaults}

	// Setup router
	s.router = gin.New()
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) newAuthenticator(ctx context.Context) (*threeds.Authenticator, error) {
	limits := threeds.DefaultThresholdPolicy()
	limits.Floor = s.cfg.ThreeDSFloor
	limits.Ceiling = s.cfg.ThreeDSCeiling

	var policy threeds.Policy = limits
	if s.cfg.ThreeDSPolicyFile != "" {
		rp, err := threeds.LoadRegoPolicy(ctx, limits, s.cfg.ThreeDSPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load 3-D Secure policy: %w", err)
		}
		policy = rp
		s.logger.Info("using rego 3-D Secure policy", "file", s.cfg.ThreeDSPolicyFile)
	}

	var secret []byte
	if s.cfg.ThreeDSSigningSecret != "" {
		secret = []byte(s.cfg.ThreeDSSigningSecret)
	}
	issuer := threeds.NewHTTPIssuer(s.cfg.ThreeDSIssuerURL, &http.Client{Timeout: outboundTimeout})
	verifier := threeds.NewMessageVerifier(s.cfg.ThreeDSExpectedOrigin, secret)
	return threeds.NewAuthenticator(issuer, s.challenges, policy, verifier, s.logger), nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS for the challenge front-end
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Probes and metrics are not rate limited.
	s.router.GET("/health", s.health.Handler(Version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
	})

	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware())
	v1.Use(validation.IDParamMiddleware("id"))

	authzHandler := authz.NewHandler(s.pipeline.pipeline, s.pipeline.defaults)
	authzHandler.RegisterRoutes(v1)

	challenge.NewHandler(s.challenges, s.hub).RegisterRoutes(v1)

	receiptHandler := receipts.NewHandler(s.receipts)
	receiptHandler.RegisterRoutes(v1)

	if s.authenticator != nil {
		threeds.NewHandler(s.authenticator).RegisterRoutes(v1)
	}

	// Reviewer routes
	review := v1.Group("")
	review.Use(auth.RequireAdmin(s.cfg.AdminSecret, s.cfg.IsProduction()))
	authzHandler.RegisterReviewRoutes(review)
	receiptHandler.RegisterReviewRoutes(review)
	profile.NewHandler(s.profiles).RegisterReviewRoutes(review)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers and blocks until a
// shutdown signal, ctx cancellation, or a listener error.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Authorizations may wait on a challenge for the full timeout.
		WriteTimeout: s.cfg.ChallengeTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.sweeper.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	// Pending challenges fail so waiting authorizations return.
	s.challenges.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	s.logger.Info("challenge sweeper stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
