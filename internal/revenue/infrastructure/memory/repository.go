package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	pricing "installops/internal/pricing/domain"
	revenue "installops/internal/revenue/domain"
)

type rowKey struct {
	siteID string
	day    string
}

// CalculationRepository is an in-memory calculation store.
type CalculationRepository struct {
	mu   sync.RWMutex
	data map[rowKey]revenue.Result
}

// NewCalculationRepository constructs a repository.
func NewCalculationRepository() *CalculationRepository {
	return &CalculationRepository{data: make(map[rowKey]revenue.Result)}
}

// Upsert stores result under (site, calculation date).
func (r *CalculationRepository) Upsert(ctx context.Context, result revenue.Result) error {
	_ = ctx
	if result.SiteID == "" || result.CalculationDate.IsZero() {
		return revenue.ErrInvalidDate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	result.CalculationDate = pricing.Day(result.CalculationDate)
	r.data[keyOf(result.SiteID, result.CalculationDate)] = cloneResult(result)
	return nil
}

// Get returns one stored calculation.
func (r *CalculationRepository) Get(ctx context.Context, siteID string, day time.Time) (*revenue.Result, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.data[keyOf(siteID, day)]
	if !ok {
		return nil, revenue.ErrCalculationNotFound
	}
	out := cloneResult(res)
	return &out, nil
}

// ListZeroRevenue returns zero-revenue rows ordered by date then site.
func (r *CalculationRepository) ListZeroRevenue(ctx context.Context, filter revenue.ZeroFilter) ([]revenue.Result, error) {
	_ = ctx
	allowed := make(map[string]struct{}, len(filter.SiteIDs))
	for _, id := range filter.SiteIDs {
		allowed[id] = struct{}{}
	}
	r.mu.RLock()
	var out []revenue.Result
	for _, res := range r.data {
		if res.TotalRevenue != 0 {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[res.SiteID]; !ok {
				continue
			}
		}
		out = append(out, cloneResult(res))
	}
	r.mu.RUnlock()
	sortResults(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// OverwriteZero replaces every zero-revenue row of siteID with result.
func (r *CalculationRepository) OverwriteZero(ctx context.Context, siteID string, result revenue.Result) (int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, res := range r.data {
		if key.siteID != siteID || res.TotalRevenue != 0 {
			continue
		}
		updated := cloneResult(result)
		updated.SiteID = siteID
		updated.CalculationDate = res.CalculationDate
		r.data[key] = updated
		n++
	}
	return n, nil
}

// ListBetween returns rows with start <= date < end.
func (r *CalculationRepository) ListBetween(ctx context.Context, start, end time.Time) ([]revenue.Result, error) {
	_ = ctx
	start, end = pricing.Day(start), pricing.Day(end)
	r.mu.RLock()
	var out []revenue.Result
	for _, res := range r.data {
		if res.CalculationDate.Before(start) || !res.CalculationDate.Before(end) {
			continue
		}
		out = append(out, cloneResult(res))
	}
	r.mu.RUnlock()
	sortResults(out)
	return out, nil
}

func keyOf(siteID string, day time.Time) rowKey {
	return rowKey{siteID: siteID, day: pricing.FormatDate(pricing.Day(day))}
}

func cloneResult(res revenue.Result) revenue.Result {
	out := res
	if res.Lines != nil {
		out.Lines = append(make([]revenue.Line, 0, len(res.Lines)), res.Lines...)
	}
	if res.UnknownEquipment != nil {
		out.UnknownEquipment = append([]string(nil), res.UnknownEquipment...)
	}
	return out
}

func sortResults(list []revenue.Result) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CalculationDate.Equal(list[j].CalculationDate) {
			return list[i].CalculationDate.Before(list[j].CalculationDate)
		}
		return list[i].SiteID < list[j].SiteID
	})
}
