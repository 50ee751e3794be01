package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"installops/internal/diagnostics"
	"installops/internal/observability/metrics"
	pricing "installops/internal/pricing/domain"
)

const defaultBulkInterval = 50 * time.Millisecond

// UpdateRequest opens a new version of one key.
type UpdateRequest struct {
	Key           pricing.Key
	Value         decimal.Decimal
	EffectiveFrom time.Time
	Note          string
	Actor         string
}

// UpdateResult reports the rows written by one update.
type UpdateResult struct {
	NewVersionID         string      `json:"new_version_id"`
	Key                  pricing.Key `json:"key"`
	EffectiveFrom        time.Time   `json:"effective_from"`
	EffectiveTo          *time.Time  `json:"effective_to,omitempty"`
	ClosedVersionIDs     []string    `json:"closed_version_ids"`
	SupersededVersionIDs []string    `json:"superseded_version_ids,omitempty"`
	Merged               bool        `json:"merged"`
}

// BulkCommissionRequest changes one manufacturer's commission rate for many
// sales offices. An empty TargetOffices means every office that currently
// carries an open rate for the manufacturer.
type BulkCommissionRequest struct {
	Manufacturer  string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
	TargetOffices []string
	Note          string
	Actor         string
}

// OfficeResult is the outcome for one office of a bulk update.
type OfficeResult struct {
	Office           string   `json:"office"`
	Success          bool     `json:"success"`
	NewVersionID     string   `json:"new_version_id,omitempty"`
	ClosedVersionIDs []string `json:"closed_version_ids,omitempty"`
	Merged           bool     `json:"merged,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// BulkResult lists per-office outcomes in request order.
type BulkResult struct {
	Results   []OfficeResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// Coordinator writes new versions without leaving gaps or overlaps behind.
type Coordinator struct {
	repo     pricing.Repository
	tx       pricing.TxManager
	locker   pricing.KeyLocker
	cache    ManufacturerKeyCache
	clock    Clock
	newID    IDGenerator
	interval time.Duration
	sink     diagnostics.Sink
	logger   *zap.Logger
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithKeyLocker serializes writers of one key inside the transaction.
func WithKeyLocker(locker pricing.KeyLocker) CoordinatorOption {
	return func(c *Coordinator) {
		if locker != nil {
			c.locker = locker
		}
	}
}

// WithCacheInvalidation purges cache after every committed write.
func WithCacheInvalidation(cache ManufacturerKeyCache) CoordinatorOption {
	return func(c *Coordinator) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDGenerator overrides version id generation.
func WithIDGenerator(gen IDGenerator) CoordinatorOption {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// WithBulkInterval sets the minimum delay between offices in a bulk update.
func WithBulkInterval(interval time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if interval >= 0 {
			c.interval = interval
		}
	}
}

// WithCoordinatorDiagnostics reports pending rows left behind by aborted
// writes to sink.
func WithCoordinatorDiagnostics(sink diagnostics.Sink) CoordinatorOption {
	return func(c *Coordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(repo pricing.Repository, tx pricing.TxManager, opts ...CoordinatorOption) (*Coordinator, error) {
	if repo == nil {
		return nil, errors.New("rate coordinator: nil repository")
	}
	if tx == nil {
		return nil, errors.New("rate coordinator: nil tx manager")
	}
	c := &Coordinator{
		repo:     repo,
		tx:       tx,
		clock:    SystemClock{},
		newID:    newVersionID,
		interval: defaultBulkInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Update closes the versions covering EffectiveFrom and opens a new one in a
// single transaction. The new row is written as pending and flipped to active
// only after every closure succeeded; any failure rolls the whole write back
// and is reported as pricing.ErrTransactionFailed.
func (c *Coordinator) Update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveRateUpdate("single", result, time.Since(start))
	}()

	out, err := c.update(ctx, req)
	if err != nil {
		result = metrics.ResultError
		return UpdateResult{}, err
	}
	return out, nil
}

func (c *Coordinator) update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	if err := req.Key.Validate(); err != nil {
		return UpdateResult{}, err
	}
	if req.EffectiveFrom.IsZero() {
		return UpdateResult{}, pricing.ErrInvalidDate
	}
	if req.Value.IsNegative() {
		return UpdateResult{}, pricing.ErrNegativeValue
	}
	from := pricing.Day(req.EffectiveFrom)

	var (
		out      UpdateResult
		leftover []string
		target   pricing.Key
	)
	defer func() {
		if len(leftover) > 0 {
			c.reportPending(ctx, target, from, leftover)
		}
	}()
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		key, err := c.targetKey(ctx, req.Key)
		if err != nil {
			return err
		}
		if c.locker != nil {
			if err := c.locker.LockKey(ctx, key); err != nil {
				return err
			}
		}
		existing, err := c.repo.ListVersions(ctx, key)
		if err != nil {
			return err
		}
		target, leftover = key, pendingIDs(existing)
		plan := pricing.PlanUpdate(existing, from)
		now := c.clock.Now()

		next := pricing.Version{
			ID:            c.newID(),
			Key:           key,
			Value:         req.Value,
			EffectiveFrom: from,
			EffectiveTo:   plan.EffectiveTo,
			Status:        pricing.StatusPending,
			Note:          req.Note,
			CreatedBy:     req.Actor,
			CreatedAt:     now,
			UpdatedBy:     req.Actor,
			UpdatedAt:     now,
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := c.repo.Insert(ctx, next); err != nil {
			return err
		}
		for _, id := range plan.Supersede {
			if err := c.repo.Supersede(ctx, id, req.Actor, now); err != nil {
				return err
			}
		}
		closed := make([]string, 0, len(plan.Close))
		for _, closure := range plan.Close {
			if err := c.repo.SetEffectiveTo(ctx, closure.VersionID, closure.EffectiveTo, req.Actor, now); err != nil {
				return err
			}
			closed = append(closed, closure.VersionID)
		}
		if err := c.repo.Activate(ctx, next.ID, req.Actor, now); err != nil {
			return err
		}

		out = UpdateResult{
			NewVersionID:         next.ID,
			Key:                  key,
			EffectiveFrom:        from,
			EffectiveTo:          plan.EffectiveTo,
			ClosedVersionIDs:     closed,
			SupersededVersionIDs: plan.Supersede,
			Merged:               plan.Merged(),
		}
		return nil
	})
	if err != nil {
		if pricing.IsInputError(err) {
			return UpdateResult{}, err
		}
		c.logger.Error("rate update rolled back",
			zap.String("key", req.Key.String()),
			zap.String("effective_from", pricing.FormatDate(from)),
			zap.Error(err),
		)
		return UpdateResult{}, fmt.Errorf("%w: %v", pricing.ErrTransactionFailed, err)
	}
	if c.cache != nil {
		c.cache.Purge()
	}
	c.logger.Info("rate updated",
		zap.String("key", out.Key.String()),
		zap.String("version_id", out.NewVersionID),
		zap.String("effective_from", pricing.FormatDate(from)),
		zap.Strings("closed_version_ids", out.ClosedVersionIDs),
		zap.Bool("merged", out.Merged),
		zap.String("actor", req.Actor),
	)
	return out, nil
}

// BulkCommission applies one commission rate to many offices. Offices are
// updated independently and in order; a failure is recorded for that office
// and the batch continues. When ctx ends, remaining offices are reported as
// failed with the context error.
func (c *Coordinator) BulkCommission(ctx context.Context, req BulkCommissionRequest) (BulkResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveRateUpdate("bulk", result, time.Since(start))
	}()

	if strings.TrimSpace(req.Manufacturer) == "" {
		result = metrics.ResultError
		return BulkResult{}, pricing.ErrEmptyKey
	}
	if req.EffectiveFrom.IsZero() {
		result = metrics.ResultError
		return BulkResult{}, pricing.ErrInvalidDate
	}
	if req.Rate.IsNegative() {
		result = metrics.ResultError
		return BulkResult{}, pricing.ErrNegativeValue
	}

	offices := dedupeOffices(req.TargetOffices)
	if len(offices) == 0 {
		var err error
		offices, err = c.openOffices(ctx, req.Manufacturer)
		if err != nil {
			result = metrics.ResultError
			return BulkResult{}, err
		}
	}

	var limiter *rate.Limiter
	if c.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(c.interval), 1)
	}

	out := BulkResult{Results: make([]OfficeResult, 0, len(offices))}
	for i, office := range offices {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				for _, rest := range offices[i:] {
					out.Results = append(out.Results, OfficeResult{Office: rest, Error: err.Error()})
					out.Failed++
				}
				break
			}
		}
		res, err := c.Update(ctx, UpdateRequest{
			Key:           pricing.Key{Kind: pricing.KindCommissionRate, Primary: office, Manufacturer: req.Manufacturer},
			Value:         req.Rate,
			EffectiveFrom: req.EffectiveFrom,
			Note:          req.Note,
			Actor:         req.Actor,
		})
		if err != nil {
			c.logger.Warn("bulk commission office failed", zap.String("office", office), zap.Error(err))
			out.Results = append(out.Results, OfficeResult{Office: office, Error: err.Error()})
			out.Failed++
			continue
		}
		out.Results = append(out.Results, OfficeResult{
			Office:           office,
			Success:          true,
			NewVersionID:     res.NewVersionID,
			ClosedVersionIDs: res.ClosedVersionIDs,
			Merged:           res.Merged,
		})
		out.Succeeded++
	}
	if out.Failed > 0 {
		result = metrics.ResultError
	}
	return out, nil
}

// targetKey writes to the manufacturer key existing rows already live under,
// so history stays reachable from the resolver; new manufacturers are stored
// normalized.
func (c *Coordinator) targetKey(ctx context.Context, key pricing.Key) (pricing.Key, error) {
	stored, ok, err := findStoredManufacturer(ctx, c.repo, key)
	if err != nil {
		return pricing.Key{}, err
	}
	if !ok {
		stored = pricing.NormalizeManufacturer(key.Manufacturer)
	}
	key.Manufacturer = stored
	if err := key.Validate(); err != nil {
		return pricing.Key{}, err
	}
	return key, nil
}

func pendingIDs(versions []pricing.Version) []string {
	var ids []string
	for _, v := range versions {
		if v.Status == pricing.StatusPending && !v.Deleted {
			ids = append(ids, v.ID)
		}
	}
	return ids
}

// reportPending flags pending rows found outside their own write. They never
// take part in resolution but indicate a write that died mid-way.
func (c *Coordinator) reportPending(ctx context.Context, key pricing.Key, from time.Time, ids []string) {
	c.logger.Warn("pending pricing versions left behind",
		zap.String("key", key.String()),
		zap.Strings("version_ids", ids),
	)
	if c.sink == nil {
		return
	}
	c.sink.Record(ctx, diagnostics.Event{
		Type:         diagnostics.EventPendingLeftover,
		Key:          key.String(),
		Date:         pricing.FormatDate(from),
		CandidateIDs: ids,
		Detail:       "pending versions from an earlier aborted write",
	})
}

// openOffices lists offices with an open commission rate for manufacturer,
// stored under either its normalized or its raw form.
func (c *Coordinator) openOffices(ctx context.Context, manufacturer string) ([]string, error) {
	candidates := []string{pricing.NormalizeManufacturer(manufacturer)}
	if manufacturer != candidates[0] && manufacturer != "" {
		candidates = append(candidates, manufacturer)
	}
	var offices []string
	for _, stored := range candidates {
		if stored == "" {
			continue
		}
		found, err := c.repo.ListOpenPrimaryKeys(ctx, pricing.KindCommissionRate, stored)
		if err != nil {
			return nil, err
		}
		offices = append(offices, found...)
	}
	offices = dedupeOffices(offices)
	sort.Strings(offices)
	return offices, nil
}

func dedupeOffices(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, office := range in {
		office = strings.TrimSpace(office)
		if office == "" {
			continue
		}
		if _, ok := seen[office]; ok {
			continue
		}
		seen[office] = struct{}{}
		out = append(out, office)
	}
	return out
}
