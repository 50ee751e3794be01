package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"installops/internal/audit"
	closingapp "installops/internal/closing/application"
	closing "installops/internal/closing/domain"
	closingrepo "installops/internal/closing/infrastructure/postgres"
	closingexport "installops/internal/closing/interfaces"
	"installops/internal/config"
	"installops/internal/equipment"
	"installops/internal/locking"
	"installops/internal/observability/logging"
	"installops/internal/observability/metrics"
	pricingapp "installops/internal/pricing/application"
	"installops/internal/pricing/infrastructure/cache"
	pricingrepo "installops/internal/pricing/infrastructure/postgres"
	revenueapp "installops/internal/revenue/application"
	revenue "installops/internal/revenue/domain"
	revenuerepo "installops/internal/revenue/infrastructure/postgres"
	sites "installops/internal/sites/domain"
	sitesrepo "installops/internal/sites/infrastructure/postgres"
	"installops/internal/storage"
)

const usage = `usage: revenue-batch <command> [flags]

commands:
  recalc-zero   recalculate stored zero-revenue calculations
  close-month   aggregate and store a monthly closing
  export        write a stored closing as pdf or xlsx
  migrate       apply, roll back or list schema migrations
  schedule      run recalc-zero and close-month on cron schedules`

type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *sql.DB
	runner     *revenueapp.RecalculationRunner
	aggregator *closingapp.Aggregator
	audit      *audit.Recorder
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := os.Args[1], os.Args[2:]
	if err := run(ctx, cfg, logger, command, args); err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, command string, args []string) error {
	switch command {
	case "recalc-zero", "close-month", "export", "migrate", "schedule":
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	db, err := storage.Open(ctx, cfg.DSN(), storage.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if command == "migrate" {
		return runMigrate(ctx, db, args)
	}

	a, err := newApp(cfg, logger, db)
	if err != nil {
		return err
	}
	switch command {
	case "recalc-zero":
		return a.recalcZero(ctx, args)
	case "close-month":
		return a.closeMonth(ctx, args)
	case "export":
		return a.export(ctx, args)
	default:
		return a.schedule(ctx)
	}
}

func newApp(cfg *config.Config, logger *zap.Logger, db *sql.DB) (*app, error) {
	metrics.Init(db, logger)
	registry := equipment.Default()
	if cfg.EquipmentRegistryFile != "" {
		loaded, err := equipment.Load(cfg.EquipmentRegistryFile)
		if err != nil {
			return nil, err
		}
		registry = loaded
	}
	manufacturerCache, err := cache.NewManufacturerKeyCache(cfg.ManufacturerCacheSize)
	if err != nil {
		return nil, err
	}
	resolver, err := pricingapp.NewResolver(
		pricingrepo.NewVersionRepository(db, pricingrepo.WithTenantID(cfg.TenantID)),
		pricingapp.WithCache(manufacturerCache),
		pricingapp.WithLookupTimeout(cfg.LookupTimeout),
		pricingapp.WithResolverLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	reader, err := sites.NewEquipmentReader(registry)
	if err != nil {
		return nil, err
	}
	calculator, err := revenueapp.NewCalculator(resolver, reader, revenueapp.WithCalculatorLogger(logger))
	if err != nil {
		return nil, err
	}

	var locker locking.Locker = locking.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		redisLocker, err := locking.NewRedisLocker(
			locking.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
			locking.WithLeaseTTL(cfg.SiteLockTTL),
		)
		if err != nil {
			return nil, err
		}
		locker = redisLocker
	}

	siteRepo := sitesrepo.NewSiteRepository(db, sitesrepo.WithTenantID(cfg.TenantID))
	calcRepo := revenuerepo.NewCalculationRepository(db, revenuerepo.WithTenantID(cfg.TenantID))
	runner, err := revenueapp.NewRecalculationRunner(siteRepo, calculator, calcRepo,
		revenueapp.WithRunnerLocker(locker),
		revenueapp.WithRunnerInterval(cfg.BatchInterval),
		revenueapp.WithRunnerLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	aggregator, err := closingapp.NewAggregator(calcRepo, siteRepo,
		closingrepo.NewClosingRepository(db, closingrepo.WithTenantID(cfg.TenantID)),
		closingapp.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		runner:     runner,
		aggregator: aggregator,
		audit:      audit.NewRecorder(audit.NewRepository(db), cfg.TenantID),
	}, nil
}

func (a *app) recalcZero(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recalc-zero", flag.ContinueOnError)
	siteIDs := fs.String("sites", "", "comma separated site ids (default: every zero-revenue site)")
	limit := fs.Int("limit", 0, "maximum number of stored rows to consider (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return errors.New("limit must not be negative")
	}
	report, err := a.recalc(ctx, revenue.ZeroFilter{SiteIDs: splitCSV(*siteIDs), Limit: *limit})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func (a *app) closeMonth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("close-month", flag.ContinueOnError)
	year := fs.Int("year", 0, "year to close (default: previous month)")
	month := fs.Int("month", 0, "month to close, 1-12 (default: previous month)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := a.closePeriod(ctx, *year, *month)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	year := fs.Int("year", 0, "closing year")
	month := fs.Int("month", 0, "closing month, 1-12")
	format := fs.String("format", "xlsx", "pdf or xlsx")
	out := fs.String("out", "", "output file (default: closing-YYYY-MM.<format>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := a.aggregator.Get(ctx, *year, *month)
	if err != nil {
		return err
	}
	var content []byte
	switch *format {
	case "pdf":
		content, err = closingexport.BuildClosingPDF(report)
	case "xlsx":
		content, err = closingexport.BuildClosingXLSX(report)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = "closing-" + report.Period().String() + "." + *format
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return err
	}
	a.logger.Info("closing exported", zap.String("path", path), zap.String("snapshot_hash", report.SnapshotHash))
	return nil
}

func (a *app) schedule(ctx context.Context) error {
	recalcSpec, err := cron.ParseStandard(a.cfg.Schedule.Recalc)
	if err != nil {
		return fmt.Errorf("recalc schedule: %w", err)
	}
	closingSpec, err := cron.ParseStandard(a.cfg.Schedule.Closing)
	if err != nil {
		return fmt.Errorf("closing schedule: %w", err)
	}

	c := cron.NewWithLocation(time.UTC)
	c.Schedule(recalcSpec, cron.FuncJob(func() {
		report, err := a.recalc(ctx, revenue.ZeroFilter{})
		if err != nil {
			a.logger.Error("scheduled recalculation failed", zap.Error(err))
			return
		}
		a.logger.Info("scheduled recalculation finished",
			zap.Int("success", report.Success),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}))
	c.Schedule(closingSpec, cron.FuncJob(func() {
		report, err := a.closePeriod(ctx, 0, 0)
		if err != nil {
			a.logger.Error("scheduled closing failed", zap.Error(err))
			return
		}
		a.logger.Info("scheduled closing finished", zap.String("period", report.Period().String()))
	}))
	c.Start()
	defer c.Stop()

	a.logger.Info("scheduler started",
		zap.String("recalc_schedule", a.cfg.Schedule.Recalc),
		zap.String("closing_schedule", a.cfg.Schedule.Closing),
	)
	<-ctx.Done()
	a.logger.Info("scheduler stopping")
	return nil
}

func (a *app) recalc(ctx context.Context, filter revenue.ZeroFilter) (revenueapp.RecalcReport, error) {
	report, err := a.runner.RecalculateZeroRevenue(ctx, filter)
	if err != nil {
		return report, err
	}
	a.record(ctx, "recalculation.zero_revenue", "revenue_calculation", "", map[string]any{
		"site_ids":   filter.SiteIDs,
		"limit":      filter.Limit,
		"success":    report.Success,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
		"unresolved": report.Unresolved,
	})
	return report, nil
}

// closePeriod closes year/month, or the previous month when both are zero.
func (a *app) closePeriod(ctx context.Context, year, month int) (closing.Report, error) {
	var (
		report closing.Report
		err    error
	)
	if year == 0 && month == 0 {
		report, err = a.aggregator.ClosePrevious(ctx)
	} else {
		report, err = a.aggregator.Close(ctx, year, month)
	}
	if err != nil {
		return report, err
	}
	a.record(ctx, "closing.generate", "monthly_closing", report.Period().String(), map[string]any{
		"site_count":    report.SiteCount,
		"total_revenue": report.Totals.TotalRevenue,
		"net_profit":    report.Totals.NetProfit,
		"snapshot_hash": report.SnapshotHash,
	})
	return report, nil
}

func (a *app) record(ctx context.Context, action, resourceType, resourceID string, meta map[string]any) {
	if err := a.audit.Record(ctx, "revenue-batch", action, resourceType, resourceID, meta); err != nil {
		a.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func runMigrate(ctx context.Context, db *sql.DB, args []string) error {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	switch direction {
	case "up":
		return storage.Migrate(ctx, db)
	case "down":
		return storage.Rollback(ctx, db)
	case "status":
		return storage.Status(ctx, db)
	default:
		return fmt.Errorf("unknown migrate direction %q (up, down, status)", direction)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
