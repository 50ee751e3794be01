package memory

import (
	"context"
	"sync"
	"time"

	sites "installops/internal/sites/domain"
)

// SiteRepository is an in-memory site store.
type SiteRepository struct {
	mu   sync.RWMutex
	data map[string]sites.Site
}

// NewSiteRepository constructs a repository.
func NewSiteRepository() *SiteRepository {
	return &SiteRepository{data: make(map[string]sites.Site)}
}

// Get returns a site by id.
func (r *SiteRepository) Get(ctx context.Context, id string) (*sites.Site, error) {
	_ = ctx
	if id == "" {
		return nil, sites.ErrEmptySiteID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	site, ok := r.data[id]
	if !ok {
		return nil, sites.ErrSiteNotFound
	}
	out := cloneSite(site)
	return &out, nil
}

// List returns the known sites among ids, in the order given.
func (r *SiteRepository) List(ctx context.Context, ids []string) ([]sites.Site, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sites.Site, 0, len(ids))
	for _, id := range ids {
		if site, ok := r.data[id]; ok {
			out = append(out, cloneSite(site))
		}
	}
	return out, nil
}

// Save stores a copy of site.
func (r *SiteRepository) Save(ctx context.Context, site *sites.Site) error {
	_ = ctx
	if site == nil {
		return sites.ErrEmptySiteID
	}
	if err := site.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	stored := cloneSite(*site)
	if existing, ok := r.data[site.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.data[site.ID] = stored
	return nil
}

func cloneSite(s sites.Site) sites.Site {
	out := s
	if s.Quantities != nil {
		out.Quantities = make(map[string]int64, len(s.Quantities))
		for k, v := range s.Quantities {
			out.Quantities[k] = v
		}
	}
	out.InstalledAt = cloneTime(s.InstalledAt)
	out.AdminAdjustedCommission = cloneInt(s.AdminAdjustedCommission)
	out.SurveyCost = cloneInt(s.SurveyCost)
	out.InstallationCost = cloneInt(s.InstallationCost)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
