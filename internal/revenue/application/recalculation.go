package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"installops/internal/locking"
	"installops/internal/observability/metrics"
	pricing "installops/internal/pricing/domain"
	revenue "installops/internal/revenue/domain"
	sites "installops/internal/sites/domain"
)

const defaultRecalcInterval = 200 * time.Millisecond

// Recalculation item outcomes.
const (
	OutcomeSuccess = metrics.RecalcSuccess
	OutcomeSkipped = metrics.RecalcSkipped
	OutcomeFailed  = metrics.RecalcFailed
)

// RecalcItem is the outcome for one site.
type RecalcItem struct {
	SiteID      string `json:"site_id"`
	Outcome     string `json:"outcome"`
	RowsUpdated int    `json:"rows_updated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RecalcReport summarizes one zero-revenue pass.
type RecalcReport struct {
	Success    int          `json:"success"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Unresolved []string     `json:"unresolved_site_ids"`
	Items      []RecalcItem `json:"items"`
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// RecalculationRunner re-derives stored zero-revenue calculations as of
// today and overwrites them when the new figures are not degenerate.
type RecalculationRunner struct {
	sites       sites.Repository
	calculator  *Calculator
	repo        revenue.Repository
	locker      locking.Locker
	lockTimeout time.Duration
	interval    time.Duration
	clock       Clock
	logger      *zap.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*RecalculationRunner)

// WithRunnerLocker sets the per-site locker. Share it with the
// CalculationService so both paths serialize on the same site.
func WithRunnerLocker(locker locking.Locker) RunnerOption {
	return func(r *RecalculationRunner) {
		if locker != nil {
			r.locker = locker
		}
	}
}

// WithRunnerInterval sets the delay between sites. Zero disables it.
func WithRunnerInterval(interval time.Duration) RunnerOption {
	return func(r *RecalculationRunner) {
		if interval >= 0 {
			r.interval = interval
		}
	}
}

// WithRunnerClock overrides the clock.
func WithRunnerClock(clock Clock) RunnerOption {
	return func(r *RecalculationRunner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *RecalculationRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecalculationRunner constructs a runner.
func NewRecalculationRunner(siteRepo sites.Repository, calculator *Calculator, repo revenue.Repository, opts ...RunnerOption) (*RecalculationRunner, error) {
	if siteRepo == nil {
		return nil, errors.New("recalculation runner: nil site repository")
	}
	if calculator == nil {
		return nil, errors.New("recalculation runner: nil calculator")
	}
	if repo == nil {
		return nil, errors.New("recalculation runner: nil calculation repository")
	}
	r := &RecalculationRunner{
		sites:       siteRepo,
		calculator:  calculator,
		repo:        repo,
		locker:      locking.NewKeyedMutex(),
		lockTimeout: defaultLockTimeout,
		interval:    defaultRecalcInterval,
		clock:       systemClock{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RecalculateZeroRevenue processes every site with a stored zero-revenue
// row. One site failing never stops the pass.
func (r *RecalculationRunner) RecalculateZeroRevenue(ctx context.Context, filter revenue.ZeroFilter) (RecalcReport, error) {
	rows, err := r.repo.ListZeroRevenue(ctx, filter)
	if err != nil {
		return RecalcReport{}, err
	}
	siteIDs := distinctSites(rows)
	report := RecalcReport{Unresolved: []string{}, Items: make([]RecalcItem, 0, len(siteIDs))}
	today := pricing.Day(r.clock.Now())

	var limiter *rate.Limiter
	if r.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.interval), 1)
	}

	for i, siteID := range siteIDs {
		var item RecalcItem
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				item = RecalcItem{SiteID: siteID, Outcome: OutcomeFailed, Error: err.Error()}
			}
		}
		if item.Outcome == "" {
			if ctxErr := ctx.Err(); ctxErr != nil {
				item = RecalcItem{SiteID: siteID, Outcome: OutcomeFailed, Error: ctxErr.Error()}
			} else {
				item = r.recalculate(ctx, siteID, today)
			}
		}
		report.add(item)
		metrics.IncRecalcItem(item.Outcome)
		if item.Outcome == OutcomeFailed {
			r.logger.Warn("recalculation failed",
				zap.String("site_id", siteID),
				zap.String("error", item.Error),
				zap.Int("position", i+1),
				zap.Int("total", len(siteIDs)),
			)
		}
	}

	r.logger.Info("zero-revenue recalculation finished",
		zap.Int("sites", len(siteIDs)),
		zap.Int("success", report.Success),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *RecalculationRunner) recalculate(ctx context.Context, siteID string, today time.Time) RecalcItem {
	item := RecalcItem{SiteID: siteID}
	err := withSiteLock(ctx, r.locker, r.lockTimeout, siteID, func(ctx context.Context) error {
		site, err := r.sites.Get(ctx, siteID)
		if err != nil {
			return err
		}
		result, err := r.calculator.Calculate(ctx, site, today)
		if err != nil {
			return err
		}
		if result.Degenerate() {
			item.Outcome = OutcomeSkipped
			return nil
		}
		n, err := r.repo.OverwriteZero(ctx, siteID, result)
		if err != nil {
			return err
		}
		item.Outcome = OutcomeSuccess
		item.RowsUpdated = n
		return nil
	})
	if err != nil {
		return RecalcItem{SiteID: siteID, Outcome: OutcomeFailed, Error: err.Error()}
	}
	return item
}

func (rep *RecalcReport) add(item RecalcItem) {
	switch item.Outcome {
	case OutcomeSuccess:
		rep.Success++
	case OutcomeSkipped:
		rep.Skipped++
		rep.Unresolved = append(rep.Unresolved, item.SiteID)
	default:
		rep.Failed++
		rep.Unresolved = append(rep.Unresolved, item.SiteID)
	}
	rep.Items = append(rep.Items, item)
}

func distinctSites(rows []revenue.Result) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.SiteID]; ok {
			continue
		}
		seen[row.SiteID] = struct{}{}
		out = append(out, row.SiteID)
	}
	return out
}
