package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"installops/internal/diagnostics"
	pricing "installops/internal/pricing/domain"
	"installops/internal/pricing/infrastructure/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seed(repo *memory.VersionRepository, id string, key pricing.Key, value int64, from time.Time, to *time.Time) {
	_ = repo.Insert(context.Background(), pricing.Version{
		ID:            id,
		Key:           key,
		Value:         decimal.NewFromInt(value),
		EffectiveFrom: from,
		EffectiveTo:   to,
		Status:        pricing.StatusActive,
		Active:        true,
		CreatedAt:     from,
	})
}

func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("new-%d", n)
	}
}

// faultyRepo fails the named operation, optionally only for one primary key.
type faultyRepo struct {
	*memory.VersionRepository
	failOn      string
	failPrimary string

	mu        sync.Mutex
	hasCalls  int
	slowReads bool
}

var errInjected = errors.New("injected failure")

func (f *faultyRepo) Activate(ctx context.Context, id string, actor string, at time.Time) error {
	if f.failOn == "activate" {
		return errInjected
	}
	return f.VersionRepository.Activate(ctx, id, actor, at)
}

func (f *faultyRepo) Insert(ctx context.Context, v pricing.Version) error {
	if f.failOn == "insert" && (f.failPrimary == "" || f.failPrimary == v.Key.Primary) {
		return errInjected
	}
	return f.VersionRepository.Insert(ctx, v)
}

func (f *faultyRepo) HasKey(ctx context.Context, key pricing.Key) (bool, error) {
	f.mu.Lock()
	f.hasCalls++
	f.mu.Unlock()
	return f.VersionRepository.HasKey(ctx, key)
}

func (f *faultyRepo) ListCovering(ctx context.Context, key pricing.Key, d time.Time) ([]pricing.Version, error) {
	if f.slowReads {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.VersionRepository.ListCovering(ctx, key, d)
}

type captureSink struct {
	mu     sync.Mutex
	events []diagnostics.Event
}

func (s *captureSink) Record(ctx context.Context, event diagnostics.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
