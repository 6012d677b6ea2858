// Package server wires the settlement engine together and serves its API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/kasuwahq/settlement/internal/circuitbreaker"
	"github.com/kasuwahq/settlement/internal/config"
	"github.com/kasuwahq/settlement/internal/gateway"
	"github.com/kasuwahq/settlement/internal/health"
	"github.com/kasuwahq/settlement/internal/idgen"
	"github.com/kasuwahq/settlement/internal/logging"
	"github.com/kasuwahq/settlement/internal/metrics"
	"github.com/kasuwahq/settlement/internal/money"
	"github.com/kasuwahq/settlement/internal/notify"
	"github.com/kasuwahq/settlement/internal/payout"
	"github.com/kasuwahq/settlement/internal/ratelimit"
	"github.com/kasuwahq/settlement/internal/realtime"
	"github.com/kasuwahq/settlement/internal/reconciliation"
	"github.com/kasuwahq/settlement/internal/settlement"
	"github.com/kasuwahq/settlement/internal/traces"
	"github.com/kasuwahq/settlement/internal/wallet"
	"github.com/kasuwahq/settlement/internal/withdrawal"
)

// Server is the settlement engine HTTP server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *gin.Engine
	httpSrv *http.Server

	db      *sql.DB
	health  *health.Registry
	limiter *ratelimit.Limiter
	hub     *realtime.Hub

	ledger      *wallet.Ledger
	settlements *settlement.Service
	withdrawals *withdrawal.Processor
	recon       *reconciliation.Service

	tracesShutdown func(context.Context) error
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a settlement engine server from configuration.
// Storage is PostgreSQL when DATABASE_URL is set, in-memory otherwise;
// rails are Stripe-backed when STRIPE_API_KEY is set, mocked otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		health: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		walletStore     wallet.Store
		settlementStore settlement.Store
		withdrawalStore withdrawal.Store
		reconReader     reconciliation.LedgerReader
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.health.Register("database", health.DBChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgWallets := wallet.NewPostgresStore(db)
		walletStore = pgWallets
		reconReader = pgWallets
		settlementStore = settlement.NewPostgresStore(db)
		withdrawalStore = withdrawal.NewPostgresStore(db)
	} else {
		memWallets := wallet.NewMemoryStore()
		walletStore = memWallets
		reconReader = memWallets
		settlementStore = settlement.NewMemoryStore()
		withdrawalStore = withdrawal.NewMemoryStore()
		s.logger.Warn("using in-memory storage (set DATABASE_URL for persistence)")
	}

	s.ledger = wallet.NewLedger(walletStore)
	s.hub = realtime.NewHub(s.logger)

	// Notifications fan out to the platform notifier (if configured) and
	// always onto the console stream.
	senders := []notify.Sender{realtime.NewSender(s.hub)}
	if cfg.NotifyURL != "" {
		senders = append(senders, notify.NewHTTPSender(cfg.NotifyURL))
		s.logger.Info("platform notifications enabled", "url", cfg.NotifyURL)
	}
	emitter := notify.NewEmitter(notify.NewMultiSender(senders...), s.logger)

	// External rails behind one shared circuit breaker.
	breaker := circuitbreaker.New(5, 30*time.Second)
	var gw gateway.Gateway
	var rail payout.Rail
	if cfg.StripeAPIKey != "" {
		gw = gateway.NewStripeGateway(cfg.StripeAPIKey, breaker, cfg.RailTimeout, s.logger)
		rail = payout.NewStripeRail(cfg.StripeAPIKey, breaker, cfg.RailTimeout, s.logger)
		s.logger.Info("stripe rails enabled")
	} else {
		gw = gateway.NewMock()
		rail = payout.NewMock()
		s.logger.Warn("using mock rails (set STRIPE_API_KEY for live refunds and transfers)")
	}

	s.settlements = settlement.NewService(settlementStore, s.ledger, gw, emitter, s.logger)
	s.withdrawals = withdrawal.NewProcessor(withdrawalStore, s.ledger, rail, cfg.PayoutInterval, emitter, s.logger)

	driftThreshold, err := money.Parse(cfg.DriftThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid DRIFT_THRESHOLD: %w", err)
	}
	s.recon = reconciliation.NewService(reconReader, driftThreshold, emitter, s.logger)

	limitCfg := ratelimit.DefaultConfig()
	limitCfg.RequestsPerMinute = cfg.RateLimitRPM
	s.limiter = ratelimit.New(limitCfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.limiter.Middleware())
}

// requestIDMiddleware assigns each request an ID, honoring one supplied
// by the caller (webhook delivery IDs) so duplicate triggers correlate.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = idgen.New()
		}
		c.Header("X-Request-ID", reqID)
		ctx := logging.WithRequestID(c.Request.Context(), reqID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Skip noise from probes.
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/readyz" {
			return
		}

		s.logger.Info("request",
			"request_id", logging.RequestID(c.Request.Context()),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	settlement.NewHandler(s.settlements).RegisterRoutes(v1)
	withdrawal.NewHandler(s.withdrawals).RegisterRoutes(v1)
	wallet.NewHandler(s.ledger).RegisterRoutes(v1)
	reconciliation.NewHandler(s.recon).RegisterRoutes(v1)
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     statusWord(healthy),
		"subsystems": statuses,
		"stream":     s.hub.Stats(),
	})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTraces, err := traces.Init(ctx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	s.tracesShutdown = shutdownTraces

	go s.hub.Run(ctx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("settlement engine listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel() // stop hub and collectors
	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.logger.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown error", "error", err)
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// maskDSN hides credentials in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
