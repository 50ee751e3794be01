package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"installops/internal/diagnostics"
	"installops/internal/observability/metrics"
	pricing "installops/internal/pricing/domain"
)

const defaultLookupTimeout = 3 * time.Second

// Resolution is the outcome of one price lookup. Found is false when no
// version is configured, which is not an error.
type Resolution struct {
	Kind         pricing.Kind    `json:"kind"`
	Primary      string          `json:"primary_key"`
	Manufacturer string          `json:"manufacturer"`
	Date         time.Time       `json:"date"`
	Value        decimal.Decimal `json:"value"`
	Found        bool            `json:"found"`
	VersionID    string          `json:"version_id,omitempty"`
	Overlap      bool            `json:"overlap"`
	CandidateIDs []string        `json:"candidate_ids,omitempty"`
}

// Resolver answers "which version applies on this date" for every kind.
type Resolver struct {
	repo    pricing.Repository
	cache   ManufacturerKeyCache
	sink    diagnostics.Sink
	logger  *zap.Logger
	timeout time.Duration
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithCache injects the manufacturer key cache.
func WithCache(cache ManufacturerKeyCache) ResolverOption {
	return func(r *Resolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithDiagnostics routes overlap findings to sink.
func WithDiagnostics(sink diagnostics.Sink) ResolverOption {
	return func(r *Resolver) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLookupTimeout bounds each store lookup. Lookups are never retried.
func WithLookupTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewResolver constructs a resolver.
func NewResolver(repo pricing.Repository, opts ...ResolverOption) (*Resolver, error) {
	if repo == nil {
		return nil, errors.New("pricing resolver: nil repository")
	}
	r := &Resolver{
		repo:    repo,
		logger:  zap.NewNop(),
		timeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the value of (kind, primary, manufacturer) on asOf.
// Errors are limited to invalid input and store failures.
func (r *Resolver) Resolve(ctx context.Context, kind pricing.Kind, primary, manufacturer string, asOf time.Time) (Resolution, error) {
	start := time.Now()
	outcome := metrics.ResolveUnpriced
	defer func() {
		metrics.ObservePricingResolve(string(kind), outcome, time.Since(start))
	}()

	if !kind.IsValid() {
		outcome = metrics.ResolveError
		return Resolution{}, pricing.ErrInvalidKind
	}
	if asOf.IsZero() {
		outcome = metrics.ResolveError
		return Resolution{}, pricing.ErrInvalidDate
	}
	day := pricing.Day(asOf)
	res := Resolution{Kind: kind, Primary: primary, Manufacturer: manufacturer, Date: day, Value: decimal.Zero}
	if primary == "" || pricing.NormalizeManufacturer(manufacturer) == "" {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stored, ok, err := r.storedManufacturer(ctx, pricing.Key{Kind: kind, Primary: primary, Manufacturer: manufacturer})
	if err != nil {
		outcome = metrics.ResolveError
		return Resolution{}, err
	}
	if !ok {
		return res, nil
	}
	res.Manufacturer = stored

	key := pricing.Key{Kind: kind, Primary: primary, Manufacturer: stored}
	versions, err := r.repo.ListCovering(ctx, key, day)
	if err != nil {
		outcome = metrics.ResolveError
		return Resolution{}, err
	}
	match := pricing.Pick(versions, day)
	if !match.Found {
		return res, nil
	}
	outcome = metrics.ResolveFound
	res.Found = true
	res.Value = match.Version.Value
	res.VersionID = match.Version.ID
	if match.Overlap() {
		res.Overlap = true
		for _, c := range match.Candidates {
			res.CandidateIDs = append(res.CandidateIDs, c.ID)
		}
		r.reportOverlap(ctx, key, day, res)
	}
	return res, nil
}

// History returns every stored version of key, including retired rows.
func (r *Resolver) History(ctx context.Context, key pricing.Key) ([]pricing.Version, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stored, ok, err := r.storedManufacturer(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		stored = pricing.NormalizeManufacturer(key.Manufacturer)
	}
	key.Manufacturer = stored
	return r.repo.ListVersions(ctx, key)
}

// storedManufacturer finds the manufacturer rows of key are stored under.
// key.Manufacturer is taken as typed. The normalized form is preferred; the
// raw form is tried once when the normalized key has no rows.
func (r *Resolver) storedManufacturer(ctx context.Context, key pricing.Key) (string, bool, error) {
	load := func(ctx context.Context) (string, bool, error) {
		return findStoredManufacturer(ctx, r.repo, key)
	}
	if r.cache == nil {
		return load(ctx)
	}
	return r.cache.GetOrLoad(ctx, key.String(), load)
}

func findStoredManufacturer(ctx context.Context, repo pricing.Repository, key pricing.Key) (string, bool, error) {
	raw := key.Manufacturer
	normalized := pricing.NormalizeManufacturer(raw)
	if normalized != "" {
		ok, err := repo.HasKey(ctx, pricing.Key{Kind: key.Kind, Primary: key.Primary, Manufacturer: normalized})
		if err != nil {
			return "", false, err
		}
		if ok {
			return normalized, true, nil
		}
	}
	if raw != normalized && raw != "" {
		ok, err := repo.HasKey(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return raw, true, nil
		}
	}
	return "", false, nil
}

func (r *Resolver) reportOverlap(ctx context.Context, key pricing.Key, day time.Time, res Resolution) {
	metrics.IncPricingOverlap(string(key.Kind))
	r.logger.Warn("overlapping pricing versions",
		zap.String("key", key.String()),
		zap.String("date", pricing.FormatDate(day)),
		zap.String("chosen_id", res.VersionID),
		zap.Strings("candidate_ids", res.CandidateIDs),
	)
	if r.sink == nil {
		return
	}
	r.sink.Record(ctx, diagnostics.Event{
		Type:         diagnostics.EventOverlap,
		Key:          key.String(),
		Date:         pricing.FormatDate(day),
		ChosenID:     res.VersionID,
		CandidateIDs: res.CandidateIDs,
	})
}
