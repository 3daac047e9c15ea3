package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/ledger/inmemory"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)}
}

func TestCache_ReturnsSameSnapshotWithinTTL(t *testing.T) {
	store := inmemory.NewStore()
	store.Seed([]string{"15.03.2025", "Расход", "Такси", "Такси", "-500", ""})
	clock := newClock()
	cache := ledger.NewCache(store, 5*time.Minute, ledger.WithClock(clock.Now))

	first, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	clock.Advance(4 * time.Minute)
	second, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if first != second {
		t.Error("Expected identical snapshot within TTL")
	}
	if store.Fetches() != 1 {
		t.Errorf("Fetches = %d, want 1", store.Fetches())
	}
}

func TestCache_RefetchesAfterTTL(t *testing.T) {
	store := inmemory.NewStore()
	clock := newClock()
	cache := ledger.NewCache(store, 5*time.Minute, ledger.WithClock(clock.Now))

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Minute)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	if store.Fetches() != 2 {
		t.Errorf("Fetches = %d, want 2", store.Fetches())
	}
}

func TestCache_InvalidateForcesExactlyOneFetch(t *testing.T) {
	store := inmemory.NewStore()
	clock := newClock()
	cache := ledger.NewCache(store, time.Hour, ledger.WithClock(clock.Now))

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate()
	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if store.Fetches() != 2 {
		t.Errorf("Fetches = %d, want 2", store.Fetches())
	}
}

// invalidatingStore calls hook in the middle of Rows, emulating a mutation
// that lands while a refresh is in flight.
type invalidatingStore struct {
	*inmemory.Store
	hook func()
}

func (s *invalidatingStore) Rows(ctx context.Context) ([]ledger.Row, error) {
	rows, err := s.Store.Rows(ctx)
	if s.hook != nil {
		h := s.hook
		s.hook = nil
		h()
	}
	return rows, err
}

func TestCache_FetchStraddlingInvalidationIsNotInstalled(t *testing.T) {
	store := &invalidatingStore{Store: inmemory.NewStore()}
	clock := newClock()
	cache := ledger.NewCache(store, time.Hour, ledger.WithClock(clock.Now))
	store.hook = cache.Invalidate

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	if store.Fetches() != 2 {
		t.Errorf("Fetches = %d, want 2: stale fetch must not be cached", store.Fetches())
	}
}

func TestCache_PropagatesStoreError(t *testing.T) {
	store := inmemory.NewStore()
	store.FailReads = errors.New("sheets unavailable")
	cache := ledger.NewCache(store, 0)

	if _, err := cache.Get(context.Background()); err == nil {
		t.Error("Expected error from store")
	}
}
