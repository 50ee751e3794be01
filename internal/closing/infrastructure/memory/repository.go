package memory

import (
	"context"
	"sync"

	closing "installops/internal/closing/domain"
)

type periodKey struct {
	year, month int
}

// ClosingRepository is an in-memory closing store.
type ClosingRepository struct {
	mu   sync.RWMutex
	data map[periodKey]closing.Report
}

// NewClosingRepository constructs a repository.
func NewClosingRepository() *ClosingRepository {
	return &ClosingRepository{data: make(map[periodKey]closing.Report)}
}

// Save upserts report.
func (r *ClosingRepository) Save(ctx context.Context, report closing.Report) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	report.Sites = append([]closing.SiteDetail{}, report.Sites...)
	r.data[periodKey{report.Year, report.Month}] = report
	return nil
}

// Get returns the stored report for year/month.
func (r *ClosingRepository) Get(ctx context.Context, year, month int) (*closing.Report, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.data[periodKey{year, month}]
	if !ok {
		return nil, closing.ErrClosingNotFound
	}
	report.Sites = append([]closing.SiteDetail{}, report.Sites...)
	return &report, nil
}
