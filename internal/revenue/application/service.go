package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"installops/internal/locking"
	pricing "installops/internal/pricing/domain"
	revenue "installops/internal/revenue/domain"
	sites "installops/internal/sites/domain"
)

const defaultLockTimeout = 10 * time.Second

// ErrSiteBusy is returned when another calculation holds the site lock.
var ErrSiteBusy = errors.New("revenue: site calculation in progress")

// CalculateRequest is the Calculate boundary input.
type CalculateRequest struct {
	SiteID  string
	AsOf    time.Time
	Persist bool
}

// CalculateResponse is the Calculate boundary output.
type CalculateResponse struct {
	Result    revenue.Result `json:"result"`
	Persisted bool           `json:"persisted"`
}

// CalculationService loads a site, calculates it and optionally stores the
// result. Persisting calculations of one site never run concurrently.
type CalculationService struct {
	sites       sites.Repository
	calculator  *Calculator
	repo        revenue.Repository
	locker      locking.Locker
	lockTimeout time.Duration
	logger      *zap.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*CalculationService)

// WithLocker sets the per-site locker.
func WithLocker(locker locking.Locker) ServiceOption {
	return func(s *CalculationService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithLockTimeout bounds the wait for a site lock.
func WithLockTimeout(timeout time.Duration) ServiceOption {
	return func(s *CalculationService) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *CalculationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCalculationService constructs the service.
func NewCalculationService(siteRepo sites.Repository, calculator *Calculator, repo revenue.Repository, opts ...ServiceOption) (*CalculationService, error) {
	if siteRepo == nil {
		return nil, errors.New("calculation service: nil site repository")
	}
	if calculator == nil {
		return nil, errors.New("calculation service: nil calculator")
	}
	if repo == nil {
		return nil, errors.New("calculation service: nil calculation repository")
	}
	s := &CalculationService{
		sites:       siteRepo,
		calculator:  calculator,
		repo:        repo,
		locker:      locking.NewKeyedMutex(),
		lockTimeout: defaultLockTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Calculate runs one calculation and stores it when req.Persist is set.
func (s *CalculationService) Calculate(ctx context.Context, req CalculateRequest) (CalculateResponse, error) {
	if req.SiteID == "" {
		return CalculateResponse{}, sites.ErrEmptySiteID
	}
	if req.AsOf.IsZero() {
		return CalculateResponse{}, revenue.ErrInvalidDate
	}
	if !req.Persist {
		result, err := s.load(ctx, req.SiteID, req.AsOf)
		return CalculateResponse{Result: result}, err
	}

	var resp CalculateResponse
	err := withSiteLock(ctx, s.locker, s.lockTimeout, req.SiteID, func(ctx context.Context) error {
		result, err := s.load(ctx, req.SiteID, req.AsOf)
		if err != nil {
			return err
		}
		if err := s.repo.Upsert(ctx, result); err != nil {
			return fmt.Errorf("revenue: store calculation: %w", err)
		}
		resp = CalculateResponse{Result: result, Persisted: true}
		return nil
	})
	if err != nil {
		return CalculateResponse{}, err
	}
	s.logger.Info("calculation stored",
		zap.String("site_id", req.SiteID),
		zap.String("calculation_date", pricing.FormatDate(resp.Result.CalculationDate)),
		zap.Int64("total_revenue", resp.Result.TotalRevenue),
		zap.Int64("net_profit", resp.Result.NetProfit),
	)
	return resp, nil
}

func (s *CalculationService) load(ctx context.Context, siteID string, asOf time.Time) (revenue.Result, error) {
	site, err := s.sites.Get(ctx, siteID)
	if err != nil {
		return revenue.Result{}, err
	}
	return s.calculator.Calculate(ctx, site, asOf)
}

func withSiteLock(ctx context.Context, locker locking.Locker, timeout time.Duration, siteID string, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	lease, err := locker.Acquire(lockCtx, "site:"+siteID)
	cancel()
	if err != nil {
		if errors.Is(err, locking.ErrNotObtained) {
			return fmt.Errorf("%w: %s", ErrSiteBusy, siteID)
		}
		return err
	}
	defer func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

// Stored returns the persisted calculation of siteID on day.
func (s *CalculationService) Stored(ctx context.Context, siteID string, day time.Time) (*revenue.Result, error) {
	if siteID == "" {
		return nil, sites.ErrEmptySiteID
	}
	if day.IsZero() {
		return nil, revenue.ErrInvalidDate
	}
	return s.repo.Get(ctx, siteID, day)
}
