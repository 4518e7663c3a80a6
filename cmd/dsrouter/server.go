package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dawsonblock/ds-router/internal/admin"
	"github.com/dawsonblock/ds-router/internal/audit"
	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/cache"
	"github.com/dawsonblock/ds-router/internal/config"
	"github.com/dawsonblock/ds-router/internal/database"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/metrics"
	"github.com/dawsonblock/ds-router/internal/pipeline"
	"github.com/dawsonblock/ds-router/internal/provider"
	"github.com/dawsonblock/ds-router/internal/provider/local"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/server"
	"github.com/dawsonblock/ds-router/internal/types"
	"github.com/dawsonblock/ds-router/transport"
)

// budgetPersistFlushInterval is how often the budget checkpoint ticker
// writes the Tracker's current counters to the Store, independent of
// the flush performed during Shutdown.
const budgetPersistFlushInterval = 30 * time.Second

// Server owns every long-lived collaborator the composition root builds
// from config, plus the two Managers that serve them over HTTP.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	cacheManager *cache.Manager
	auditSink    *audit.FileSink // non-nil only when the file sink is in use, so Close can flush it

	dbPool          *database.PoolManager // non-nil only when database.dsn is set
	budgetStore     *budget.Store
	budgetTracker   *budget.Tracker
	stopBudgetFlush chan struct{}

	adminSurface *admin.Surface
	tokenIssuer  *admin.TokenIssuer

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer wires every collaborator named in cfg into a runnable Server.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	instances, descriptors, err := buildProviders(cfg.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	healthTracker := health.New(cfg.Breaker.Breaker(), logger)
	budgetTracker := budget.New(cfg.Budget.Tracker(), logger)
	s.budgetTracker = budgetTracker
	if err := s.buildBudgetStore(); err != nil {
		return nil, fmt.Errorf("build budget store: %w", err)
	}
	routingEngine := router.New(healthTracker, budgetTracker)

	responseCache, err := s.buildCache()
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	auditSink, err := s.buildAudit()
	if err != nil {
		return nil, fmt.Errorf("build audit sink: %w", err)
	}

	metricsCollector := metrics.NewCollector("dsrouter", logger)

	orchestrator := pipeline.New(pipeline.Config{
		Logger:            logger,
		Health:            healthTracker,
		Budget:            budgetTracker,
		Routing:           routingEngine,
		Cache:             responseCache,
		Audit:             auditSink,
		Metrics:           metricsCollector,
		SafetyPrefixBytes: cfg.Pipeline.SafetyPrefixBytes,
	})

	s.adminSurface = admin.New(admin.Config{
		InitialThresholds:  cfg.Routing.Thresholds(),
		InitialDescriptors: descriptors,
		Health:             healthTracker,
		Budget:             budgetTracker,
		Logger:             logger,
	})
	if cfg.Admin.JWTSecret == "" {
		logger.Warn("admin.jwt_secret is empty; admin tokens will be rejected until one is configured")
	}
	s.tokenIssuer = admin.NewTokenIssuer([]byte(cfg.Admin.JWTSecret), cfg.Admin.TokenTTL)

	providersSource := func() pipeline.Providers { return s.adminSurface.Providers(instances) }
	thresholdsSource := func() router.Thresholds { return s.adminSurface.GetThresholds() }

	chatHandler := transport.NewChatHandler(orchestrator, providersSource, thresholdsSource, logger)
	adminHandler := transport.NewAdminHandler(s.adminSurface, s.tokenIssuer.Verify, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", transport.NewMux(chatHandler, adminHandler))

	wrapped := Chain(mux,
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		SecurityHeaders(),
		CORS(cfg.Server.CORSAllowedOrigins),
		RateLimiter(context.Background(), cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	)

	s.httpManager = server.NewManager(wrapped, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.WriteTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// buildProviders constructs one provider.Provider per entry in cfg,
// routing the local tier to the network-free fallback and every other
// tier to a generic OpenAI-compatible HTTP backend.
func buildProviders(cfgs []config.ProviderConfig, logger *zap.Logger) (map[string]provider.Provider, map[string]types.ProviderDescriptor, error) {
	instances := make(map[string]provider.Provider, len(cfgs))
	descriptors := make(map[string]types.ProviderDescriptor, len(cfgs))

	for _, pc := range cfgs {
		if pc.Name == "" {
			return nil, nil, fmt.Errorf("provider entry missing name")
		}

		var p provider.Provider
		if pc.Tier == types.TierLocal {
			p = local.New(local.Config{Name: pc.Name, MaxOutputTokens: pc.MaxOutputTokens})
		} else {
			p = provider.NewHTTPProvider(provider.HTTPProviderConfig{
				Name:            pc.Name,
				Tier:            pc.Tier,
				BaseURL:         pc.BaseURL,
				Model:           pc.Model,
				APIKey:          pc.APIKey,
				AuthHeader:      pc.AuthHeader,
				CostPer1kPrompt: pc.CostPer1kPrompt,
				CostPer1kOutput: pc.CostPer1kOutput,
				MaxOutputTokens: pc.MaxOutputTokens,
				Timeout:         pc.Timeout,
			}, nil, logger)
		}

		instances[pc.Name] = p
		descriptors[pc.Name] = p.Descriptor()
	}

	return instances, descriptors, nil
}

// buildCache returns the Redis-backed cache when cfg.Cache.Addr is set,
// retaining the connection Manager so Close can shut down its pool and
// health-check loop; otherwise it falls back to the in-process cache.
func (s *Server) buildCache() (cache.Cache, error) {
	if s.cfg.Cache.Addr == "" {
		s.logger.Info("cache.addr is empty; using in-process cache")
		return cache.NewMemoryCache(), nil
	}
	mgr, err := cache.NewManager(s.cfg.Cache.Manager(), s.logger)
	if err != nil {
		return nil, err
	}
	s.cacheManager = mgr
	return cache.NewRedisCacheFromManager(mgr, s.cfg.Cache.DefaultTTL), nil
}

// buildBudgetStore opens the optional Budget State database when
// cfg.Database.DSN is set, seeds s.budgetTracker from any row persisted
// for today, and retains the pool so Shutdown can close it. A blank DSN
// leaves persistence disabled and the Tracker purely in memory.
func (s *Server) buildBudgetStore() error {
	if s.cfg.Database.DSN == "" {
		s.logger.Info("database.dsn is empty; budget counters are not persisted across restarts")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(s.cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open budget database: %w", err)
	}
	pool, err := database.NewPoolManager(db, s.cfg.Database.Pool(), s.logger)
	if err != nil {
		return fmt.Errorf("build connection pool: %w", err)
	}
	store, err := budget.NewStore(pool)
	if err != nil {
		return fmt.Errorf("migrate budget store: %w", err)
	}
	s.dbPool = pool
	s.budgetStore = store

	today := time.Now().UTC().Format("2006-01-02")
	state, err := store.Load(today)
	if err != nil {
		return fmt.Errorf("load budget state: %w", err)
	}
	s.budgetTracker.LoadInto(state)

	s.stopBudgetFlush = make(chan struct{})
	go s.flushBudgetPeriodically()
	return nil
}

// flushBudgetPeriodically checkpoints the Tracker's counters to the
// Store on a fixed interval until stopBudgetFlush is closed.
func (s *Server) flushBudgetPeriodically() {
	ticker := time.NewTicker(budgetPersistFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.budgetStore.Save(context.Background(), s.budgetTracker.Snapshot()); err != nil {
				s.logger.Error("periodic budget checkpoint failed", zap.Error(err))
			}
		case <-s.stopBudgetFlush:
			return
		}
	}
}

// buildAudit returns the configured audit sink, defaulting to the
// bounded in-memory log for any sink value other than "file".
func (s *Server) buildAudit() (pipeline.AuditSink, error) {
	if s.cfg.Audit.Sink == "file" {
		sink, err := audit.NewFileSink(s.cfg.Audit.FilePath)
		if err != nil {
			return nil, err
		}
		s.auditSink = sink
		return sink, nil
	}
	return audit.NewMemoryLog(s.cfg.Audit.MemorySize), nil
}

// Start begins serving the chat/admin transport and the metrics
// endpoint, both non-blocking.
func (s *Server) Start() error {
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	s.logger.Info("http server started", zap.String("addr", s.httpManager.Addr()))

	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	s.logger.Info("metrics server started", zap.String("addr", s.metricsManager.Addr()))

	return nil
}

// WaitForShutdown blocks until a termination signal or a server error
// arrives, then shuts both Managers down gracefully.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-s.httpManager.Errors():
		s.logger.Error("http server error", zap.Error(err))
	case err := <-s.metricsManager.Errors():
		s.logger.Error("metrics server error", zap.Error(err))
	case sig := <-quit:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}
	s.Shutdown(context.Background())
}

// Shutdown stops both Managers and releases any external connections.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpManager.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := s.metricsManager.Shutdown(ctx); err != nil {
		s.logger.Error("metrics server shutdown error", zap.Error(err))
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("cache manager close error", zap.Error(err))
		}
	}
	if s.auditSink != nil {
		if err := s.auditSink.Close(); err != nil {
			s.logger.Error("audit sink close error", zap.Error(err))
		}
	}
	if s.budgetStore != nil {
		close(s.stopBudgetFlush)
		if err := s.budgetStore.Save(ctx, s.budgetTracker.Snapshot()); err != nil {
			s.logger.Error("final budget checkpoint failed", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("database pool close error", zap.Error(err))
		}
	}
	s.logger.Info("shutdown complete")
}
