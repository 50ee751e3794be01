package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	pricing "installops/internal/pricing/domain"
)

// VersionRepository is an in-memory pricing store. RunInTx serializes
// transactions and restores a snapshot when fn fails.
type VersionRepository struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data map[string]pricing.Version
}

// NewVersionRepository constructs a repository.
func NewVersionRepository() *VersionRepository {
	return &VersionRepository{data: make(map[string]pricing.Version)}
}

// RunInTx runs fn atomically with respect to other transactions.
func (r *VersionRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snapshot := r.snapshot()
	defer func() {
		if p := recover(); p != nil {
			r.restore(snapshot)
			panic(p)
		}
		if err != nil {
			r.restore(snapshot)
		}
	}()
	return fn(ctx)
}

// LockKey is a no-op; RunInTx already serializes writers.
func (r *VersionRepository) LockKey(ctx context.Context, key pricing.Key) error {
	_ = ctx
	_ = key
	return nil
}

// ListVersions returns all rows for key ordered by effective_from.
func (r *VersionRepository) ListVersions(ctx context.Context, key pricing.Key) ([]pricing.Version, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pricing.Version
	for _, v := range r.data {
		if v.Key == key {
			out = append(out, cloneVersion(v))
		}
	}
	sortVersions(out)
	return out, nil
}

// ListCovering returns usable versions of key covering day.
func (r *VersionRepository) ListCovering(ctx context.Context, key pricing.Key, day time.Time) ([]pricing.Version, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pricing.Version
	for _, v := range r.data {
		if v.Key == key && v.Usable() && v.Covers(day) {
			out = append(out, cloneVersion(v))
		}
	}
	sortVersions(out)
	return out, nil
}

// HasKey reports whether usable rows exist for key.
func (r *VersionRepository) HasKey(ctx context.Context, key pricing.Key) (bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.data {
		if v.Key == key && v.Usable() {
			return true, nil
		}
	}
	return false, nil
}

// ListOpenPrimaryKeys returns primary keys with an open usable version.
func (r *VersionRepository) ListOpenPrimaryKeys(ctx context.Context, kind pricing.Kind, manufacturer string) ([]string, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, v := range r.data {
		if v.Key.Kind != kind || v.Key.Manufacturer != manufacturer || !v.Usable() || !v.IsOpen() {
			continue
		}
		if _, ok := seen[v.Key.Primary]; ok {
			continue
		}
		seen[v.Key.Primary] = struct{}{}
		out = append(out, v.Key.Primary)
	}
	sort.Strings(out)
	return out, nil
}

// Insert stores a new version.
func (r *VersionRepository) Insert(ctx context.Context, version pricing.Version) error {
	_ = ctx
	if version.ID == "" {
		return pricing.ErrEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[version.ID] = cloneVersion(version)
	return nil
}

// SetEffectiveTo closes a version at to.
func (r *VersionRepository) SetEffectiveTo(ctx context.Context, id string, to time.Time, actor string, at time.Time) error {
	return r.update(ctx, id, func(v *pricing.Version) {
		end := pricing.Day(to)
		v.EffectiveTo = &end
		v.UpdatedBy = actor
		v.UpdatedAt = at
	})
}

// Supersede retires a version replaced by a same-day edit.
func (r *VersionRepository) Supersede(ctx context.Context, id string, actor string, at time.Time) error {
	return r.update(ctx, id, func(v *pricing.Version) {
		v.Active = false
		v.Deleted = true
		v.UpdatedBy = actor
		v.UpdatedAt = at
	})
}

// Activate flips a pending version to active.
func (r *VersionRepository) Activate(ctx context.Context, id string, actor string, at time.Time) error {
	return r.update(ctx, id, func(v *pricing.Version) {
		v.Status = pricing.StatusActive
		v.Active = true
		v.UpdatedBy = actor
		v.UpdatedAt = at
	})
}

func (r *VersionRepository) update(ctx context.Context, id string, mutate func(*pricing.Version)) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[id]
	if !ok {
		return pricing.ErrVersionNotFound
	}
	mutate(&v)
	r.data[id] = v
	return nil
}

func (r *VersionRepository) snapshot() map[string]pricing.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]pricing.Version, len(r.data))
	for id, v := range r.data {
		out[id] = cloneVersion(v)
	}
	return out
}

func (r *VersionRepository) restore(snapshot map[string]pricing.Version) {
	r.mu.Lock()
	r.data = snapshot
	r.mu.Unlock()
}

func cloneVersion(v pricing.Version) pricing.Version {
	if v.EffectiveTo != nil {
		to := *v.EffectiveTo
		v.EffectiveTo = &to
	}
	return v
}

func sortVersions(list []pricing.Version) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].EffectiveFrom.Equal(list[j].EffectiveFrom) {
			return list[i].EffectiveFrom.Before(list[j].EffectiveFrom)
		}
		return list[i].ID < list[j].ID
	})
}
