// Package server wires the facilitator together and runs the HTTP surface.
package server

import (
	"context"
	"database/sql"
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

	"github.com/dpayne7/escrowd/internal/catalog"
	"github.com/dpayne7/escrowd/internal/config"
	"github.com/dpayne7/escrowd/internal/dispute"
	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/gateway"
	"github.com/dpayne7/escrowd/internal/logging"
	"github.com/dpayne7/escrowd/internal/metrics"
	"github.com/dpayne7/escrowd/internal/payment"
	"github.com/dpayne7/escrowd/internal/rail"
	"github.com/dpayne7/escrowd/internal/ratelimit"
	"github.com/dpayne7/escrowd/internal/settlement"
	"github.com/dpayne7/escrowd/internal/traces"
	"github.com/dpayne7/escrowd/internal/trust"
	"github.com/dpayne7/escrowd/internal/validation"
)

// maxRequestBytes bounds request bodies; payment headers and dispute
// reasons are small.
const maxRequestBytes = 1 << 20

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg *config.Config

	txStore  escrow.Store
	catStore catalog.Store
	railClt  rail.Rail

	gatewaySvc *gateway.Service
	orch       *settlement.Orchestrator
	sweeper    *settlement.Sweeper
	disputeSvc *dispute.Service

	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil when using in-memory stores
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	closeTraces func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRail substitutes the payment rail client, for testing.
func WithRail(r rail.Rail) Option {
	return func(s *Server) {
		s.railClt = r
	}
}

// WithStores substitutes the transaction and catalog stores, for testing.
func WithStores(tx escrow.Store, cat catalog.Store) Option {
	return func(s *Server) {
		s.txStore = tx
		s.catStore = cat
	}
}

// New creates a server instance with all components wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	format := "json"
	if cfg.IsDevelopment() {
		format = "text"
	}
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, format),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	if s.txStore == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("connect to database: %w", err)
			}
			s.db = db
			s.txStore = escrow.NewPostgresStore(db)
			s.catStore = catalog.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.txStore = escrow.NewMemoryStore()
			s.catStore = catalog.NewMemoryStore()
			s.logger.Warn("DATABASE_URL not set, using in-memory storage")
		}
	}

	if s.railClt == nil {
		s.railClt = rail.NewClient(cfg.RailBaseURL, cfg.RailAPIKey, cfg.RailTimeout)
	}

	var chain payment.ChainVerifier
	if cfg.ChainVerifierURL != "" {
		chain = payment.NewHTTPChainVerifier(cfg.ChainVerifierURL, 10*time.Second)
	} else {
		s.logger.Warn("CHAIN_VERIFIER_URL not set, payments accepted on proof trust only")
	}
	verifier := payment.NewVerifier(chain)

	s.gatewaySvc = gateway.NewService(s.catStore, s.txStore, verifier, gateway.Config{
		CustodyWallet: cfg.CustodyWallet,
		Network:       cfg.Network,
		Token:         cfg.TokenContract,
		DefaultWindow: time.Duration(cfg.DefaultAutoSettleMinutes) * time.Minute,
	}, s.logger)

	s.orch = settlement.NewOrchestrator(s.txStore, s.railClt, s.logger)
	s.sweeper = settlement.NewSweeper(s.orch, s.txStore, cfg.SweepInterval, s.logger)

	var analyzer dispute.Analyzer
	if cfg.AnalyzerURL != "" {
		analyzer = dispute.NewHTTPAnalyzer(cfg.AnalyzerURL)
	} else {
		s.logger.Warn("ANALYZER_URL not set, dispute analysis disabled")
	}
	s.disputeSvc = dispute.NewService(s.txStore, s.catStore, analyzer, s.orch, nil, s.logger)

	s.rateLimiter = ratelimit.New(cfg.RateLimitRPM, cfg.RateLimitRPM/4+1)

	metrics.Register()
	s.setupRouter()
	s.healthy.Store(true)
	return s, nil
}

func (s *Server) setupRouter() {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())
	r.Use(metrics.Middleware())
	r.Use(validation.RequestSizeMiddleware(maxRequestBytes))
	r.Use(s.rateLimiter.Middleware())

	r.GET("/healthz", s.livenessHandler)
	r.GET("/readyz", s.readinessHandler)
	r.GET("/metrics", metrics.Handler())

	// The protocol endpoints live at the root, as agents expect: resource
	// access, settlement, and dispute resolution are all unversioned.
	gw := gateway.NewHandler(s.gatewaySvc)
	sh := settlement.NewHandler(s.orch, s.disputeSvc)
	dh := dispute.NewHandler(s.disputeSvc)
	root := r.Group("/")
	gw.RegisterRoutes(root)
	sh.RegisterRoutes(root)
	dh.RegisterRoutes(root)

	v1 := r.Group("/v1")
	gw.RegisterRoutes(v1)
	sh.RegisterRoutes(v1)
	dh.RegisterRoutes(v1)
	escrow.NewHandler(s.txStore).RegisterRoutes(v1)
	trust.NewHandler(s.txStore, s.catStore).RegisterRoutes(v1)

	s.router = r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// Skip the noisy probes.
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/readyz" {
			return
		}
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "sweeper": s.sweeper.Running()})
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.OTLPEndpoint != "" {
		closer, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to init tracing", "error", err)
		} else {
			s.closeTraces = closer
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"custodyWallet", s.cfg.CustodyWallet,
			"network", s.cfg.Network,
			"sweepInterval", s.cfg.SweepInterval,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.sweeper.Start(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

// Shutdown stops accepting requests, waits for the in-flight sweep tick,
// and closes resources.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	// A sweep mid-payout must finish before the store goes away.
	s.sweeper.Stop()
	s.rateLimiter.Stop()

	if s.closeTraces != nil {
		if err := s.closeTraces(ctx); err != nil {
			errs = append(errs, fmt.Errorf("traces shutdown: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db close: %w", err))
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
