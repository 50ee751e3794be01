package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"installops/internal/audit"
	"installops/internal/auth"
	closingapp "installops/internal/closing/application"
	closingrepo "installops/internal/closing/infrastructure/postgres"
	closinghttp "installops/internal/closing/interfaces"
	"installops/internal/config"
	"installops/internal/diagnostics"
	"installops/internal/equipment"
	"installops/internal/locking"
	"installops/internal/observability/logging"
	"installops/internal/observability/metrics"
	pricingapp "installops/internal/pricing/application"
	"installops/internal/pricing/infrastructure/cache"
	pricingrepo "installops/internal/pricing/infrastructure/postgres"
	pricinghttp "installops/internal/pricing/interfaces/http"
	revenueapp "installops/internal/revenue/application"
	revenuerepo "installops/internal/revenue/infrastructure/postgres"
	revenuehttp "installops/internal/revenue/interfaces/http"
	sites "installops/internal/sites/domain"
	sitesrepo "installops/internal/sites/infrastructure/postgres"
	"installops/internal/storage"
)

const triggerPrefix = "/internal/triggers/"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if err := cfg.RequireServer(); err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DSN(), storage.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := storage.Migrate(ctx, db); err != nil {
			logger.Fatal("migrate error", zap.Error(err))
		}
	}
	metrics.Init(db, logger)

	registry, err := loadRegistry(cfg.EquipmentRegistryFile)
	if err != nil {
		logger.Fatal("equipment registry error", zap.Error(err))
	}

	auditRepo := audit.NewRepository(db)
	guard := auth.NewTenantGuard(cfg.TenantID)

	recorderOpts := []diagnostics.Option{diagnostics.WithLogger(logger)}
	if cfg.DiagnosticsWebhookURL != "" {
		channel, err := diagnostics.NewWebhookChannel(cfg.DiagnosticsWebhookURL, diagnostics.WithBearerToken(cfg.DiagnosticsWebhookToken))
		if err != nil {
			logger.Fatal("diagnostics webhook error", zap.Error(err))
		}
		tpl, err := diagnostics.NewTemplate("")
		if err != nil {
			logger.Fatal("diagnostics template error", zap.Error(err))
		}
		recorderOpts = append(recorderOpts, diagnostics.WithChannel(channel, tpl))
	}
	recorder := diagnostics.NewRecorder(cfg.DiagnosticsBuffer, recorderOpts...)
	go recorder.Run(ctx)

	manufacturerCache, err := cache.NewManufacturerKeyCache(cfg.ManufacturerCacheSize)
	if err != nil {
		logger.Fatal("manufacturer cache error", zap.Error(err))
	}
	versionRepo := pricingrepo.NewVersionRepository(db, pricingrepo.WithTenantID(cfg.TenantID))
	resolver, err := pricingapp.NewResolver(versionRepo,
		pricingapp.WithCache(manufacturerCache),
		pricingapp.WithDiagnostics(recorder),
		pricingapp.WithLookupTimeout(cfg.LookupTimeout),
		pricingapp.WithResolverLogger(logger),
	)
	if err != nil {
		logger.Fatal("resolver error", zap.Error(err))
	}
	coordinator, err := pricingapp.NewCoordinator(versionRepo, storage.NewTxManager(db),
		pricingapp.WithKeyLocker(versionRepo),
		pricingapp.WithCacheInvalidation(manufacturerCache),
		pricingapp.WithBulkInterval(cfg.BulkInterval),
		pricingapp.WithCoordinatorDiagnostics(recorder),
		pricingapp.WithCoordinatorLogger(logger),
	)
	if err != nil {
		logger.Fatal("coordinator error", zap.Error(err))
	}

	siteRepo := sitesrepo.NewSiteRepository(db, sitesrepo.WithTenantID(cfg.TenantID))
	calcRepo := revenuerepo.NewCalculationRepository(db, revenuerepo.WithTenantID(cfg.TenantID))
	reader, err := sites.NewEquipmentReader(registry)
	if err != nil {
		logger.Fatal("equipment reader error", zap.Error(err))
	}
	calculator, err := revenueapp.NewCalculator(resolver, reader, revenueapp.WithCalculatorLogger(logger))
	if err != nil {
		logger.Fatal("calculator error", zap.Error(err))
	}
	locker, err := buildLocker(cfg, logger)
	if err != nil {
		logger.Fatal("locker error", zap.Error(err))
	}
	calcService, err := revenueapp.NewCalculationService(siteRepo, calculator, calcRepo,
		revenueapp.WithLocker(locker),
		revenueapp.WithServiceLogger(logger),
	)
	if err != nil {
		logger.Fatal("calculation service error", zap.Error(err))
	}
	runner, err := revenueapp.NewRecalculationRunner(siteRepo, calculator, calcRepo,
		revenueapp.WithRunnerLocker(locker),
		revenueapp.WithRunnerInterval(cfg.BatchInterval),
		revenueapp.WithRunnerLogger(logger),
	)
	if err != nil {
		logger.Fatal("recalculation runner error", zap.Error(err))
	}

	closingRepo := closingrepo.NewClosingRepository(db, closingrepo.WithTenantID(cfg.TenantID))
	aggregator, err := closingapp.NewAggregator(calcRepo, siteRepo, closingRepo, closingapp.WithLogger(logger))
	if err != nil {
		logger.Fatal("closing aggregator error", zap.Error(err))
	}

	pricingHandler, err := pricinghttp.NewHandler(resolver, coordinator,
		pricinghttp.WithDiagnostics(recorder, manufacturerCache),
		pricinghttp.WithAudit(auditRepo),
		pricinghttp.WithTenantGuard(guard),
	)
	if err != nil {
		logger.Fatal("pricing handler error", zap.Error(err))
	}
	revenueHandler, err := revenuehttp.NewHandler(calcService, runner,
		revenuehttp.WithAudit(auditRepo),
		revenuehttp.WithTenantGuard(guard),
	)
	if err != nil {
		logger.Fatal("revenue handler error", zap.Error(err))
	}
	closingHandler, err := closinghttp.NewClosingHandler(aggregator,
		closinghttp.WithAudit(auditRepo),
		closinghttp.WithTenantGuard(guard),
	)
	if err != nil {
		logger.Fatal("closing handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{triggerPrefix})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy, auth.WithDenyLogger(logger))
	triggerAuth := auth.NewTriggerAuthMiddleware([]byte(cfg.TriggerSecret), 5*time.Minute, cfg.TenantID)

	api := http.NewServeMux()
	pricingHandler.Register(api)
	revenueHandler.Register(api)
	closingHandler.Register(api)
	api.Handle("/metrics", promhttp.Handler())
	api.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux := http.NewServeMux()
	mux.Handle(triggerPrefix, triggerAuth.Wrap(api))
	mux.Handle("/", authMiddleware.Wrap(api))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("tenant_id", cfg.TenantID))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("http server stopped")
}

func loadRegistry(path string) (*equipment.Registry, error) {
	if path == "" {
		return equipment.Default(), nil
	}
	return equipment.Load(path)
}

func buildLocker(cfg *config.Config, logger *zap.Logger) (locking.Locker, error) {
	if cfg.RedisAddr == "" {
		logger.Info("site locks are in-process; set REDIS_ADDR to share them across replicas")
		return locking.NewKeyedMutex(), nil
	}
	client := locking.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	return locking.NewRedisLocker(client, locking.WithLeaseTTL(cfg.SiteLockTTL))
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
