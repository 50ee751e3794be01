package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	closing "installops/internal/closing/domain"
	"installops/internal/observability/metrics"
	revenue "installops/internal/revenue/domain"
	sites "installops/internal/sites/domain"
)

// CalculationSource lists stored calculations in a date window.
type CalculationSource interface {
	ListBetween(ctx context.Context, start, end time.Time) ([]revenue.Result, error)
}

// SiteSource loads sites by id.
type SiteSource interface {
	List(ctx context.Context, ids []string) ([]sites.Site, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Aggregator builds and stores monthly closings. It never writes to
// calculation rows.
type Aggregator struct {
	calcs  CalculationSource
	sites  SiteSource
	repo   closing.Repository
	clock  Clock
	logger *zap.Logger
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(calcs CalculationSource, siteSource SiteSource, repo closing.Repository, opts ...Option) (*Aggregator, error) {
	if calcs == nil {
		return nil, errors.New("closing aggregator: nil calculation source")
	}
	if siteSource == nil {
		return nil, errors.New("closing aggregator: nil site source")
	}
	if repo == nil {
		return nil, errors.New("closing aggregator: nil repository")
	}
	a := &Aggregator{calcs: calcs, sites: siteSource, repo: repo, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Close aggregates the month and upserts the closing row.
func (a *Aggregator) Close(ctx context.Context, year, month int) (report closing.Report, err error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveClosing(result, time.Since(start))
	}()

	period, err := closing.NewPeriod(year, month)
	if err != nil {
		return closing.Report{}, err
	}
	calcs, err := a.calcs.ListBetween(ctx, period.Start, period.End)
	if err != nil {
		return closing.Report{}, err
	}
	installed, err := a.installedSites(ctx, calcs)
	if err != nil {
		return closing.Report{}, err
	}
	report = closing.Aggregate(period, calcs, installed)
	report.GeneratedAt = a.clock.Now()
	if err := a.repo.Save(ctx, report); err != nil {
		return closing.Report{}, err
	}
	a.logger.Info("month closed",
		zap.String("period", period.String()),
		zap.Int("sites", report.SiteCount),
		zap.Int("calculations", report.CalculationCount),
		zap.Int64("total_revenue", report.Totals.TotalRevenue),
		zap.Int64("net_profit", report.Totals.NetProfit),
		zap.String("snapshot_hash", report.SnapshotHash),
	)
	return report, nil
}

// ClosePrevious closes the month before the current one.
func (a *Aggregator) ClosePrevious(ctx context.Context) (closing.Report, error) {
	now := a.clock.Now()
	current, err := closing.NewPeriod(now.Year(), int(now.Month()))
	if err != nil {
		return closing.Report{}, err
	}
	prev := current.Previous()
	return a.Close(ctx, prev.Year, int(prev.Month))
}

// Get returns a stored closing.
func (a *Aggregator) Get(ctx context.Context, year, month int) (*closing.Report, error) {
	if _, err := closing.NewPeriod(year, month); err != nil {
		return nil, err
	}
	return a.repo.Get(ctx, year, month)
}

func (a *Aggregator) installedSites(ctx context.Context, calcs []revenue.Result) (map[string]time.Time, error) {
	seen := make(map[string]struct{}, len(calcs))
	ids := make([]string, 0, len(calcs))
	for _, calc := range calcs {
		if _, ok := seen[calc.SiteID]; ok {
			continue
		}
		seen[calc.SiteID] = struct{}{}
		ids = append(ids, calc.SiteID)
	}
	if len(ids) == 0 {
		return map[string]time.Time{}, nil
	}
	list, err := a.sites.List(ctx, ids)
	if err != nil {
		return nil, err
	}
	installed := make(map[string]time.Time, len(list))
	for _, site := range list {
		if site.Installed() {
			installed[site.ID] = *site.InstalledAt
		}
	}
	return installed, nil
}
