package pricecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metals_scanner/models"
)

// memStore is an in-memory PriceStore keeping full history per metal.
type memStore struct {
	rows      map[string][]models.SpotPrice
	purged    time.Time
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]models.SpotPrice)}
}

func (s *memStore) LatestPrice(_ context.Context, metalType string) (*models.SpotPrice, error) {
	history := s.rows[metalType]
	if len(history) == 0 {
		return nil, nil
	}
	latest := history[0]
	for _, row := range history[1:] {
		if row.FetchedAt.After(latest.FetchedAt) {
			latest = row
		}
	}
	return &latest, nil
}

func (s *memStore) InsertPrice(_ context.Context, price models.SpotPrice) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.rows[price.MetalType] = append(s.rows[price.MetalType], price)
	return nil
}

func (s *memStore) PurgePricesBefore(_ context.Context, cutoff time.Time) error {
	s.purged = cutoff
	return nil
}

func testWindows() Windows {
	return Windows{
		MarketHours: 15 * time.Minute,
		OffHours:    60 * time.Minute,
		Weekend:     240 * time.Minute,
	}
}

func newTestCache(t *testing.T, store PriceStore, at time.Time) *Cache {
	t.Helper()
	c, err := New(store, testWindows(), "America/New_York", nil)
	require.NoError(t, err)
	c.now = func() time.Time { return at }
	return c
}

func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestWindowSelection(t *testing.T) {
	loc := eastern(t)
	c, err := New(newMemStore(), testWindows(), "America/New_York", nil)
	require.NoError(t, err)

	// 2025-03-11 is a Tuesday, 2025-03-15 a Saturday.
	cases := []struct {
		name string
		at   time.Time
		want time.Duration
	}{
		{"tuesday in session", time.Date(2025, 3, 11, 10, 0, 0, 0, loc), 15 * time.Minute},
		{"tuesday at the open", time.Date(2025, 3, 11, 9, 30, 0, 0, loc), 15 * time.Minute},
		{"tuesday at the close", time.Date(2025, 3, 11, 16, 0, 0, 0, loc), 15 * time.Minute},
		{"tuesday evening", time.Date(2025, 3, 11, 20, 0, 0, 0, loc), 60 * time.Minute},
		{"tuesday before open", time.Date(2025, 3, 11, 8, 0, 0, 0, loc), 60 * time.Minute},
		{"saturday morning", time.Date(2025, 3, 15, 10, 0, 0, 0, loc), 240 * time.Minute},
		{"saturday night", time.Date(2025, 3, 15, 23, 0, 0, 0, loc), 240 * time.Minute},
		{"sunday", time.Date(2025, 3, 16, 12, 0, 0, 0, loc), 240 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.window(tc.at))
		})
	}
}

func TestGetOrFetch_FreshCacheHitSkipsFetch(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2025, 3, 11, 10, 0, 0, 0, loc)

	store := newMemStore()
	store.rows[models.MetalGold] = []models.SpotPrice{{
		MetalType:  models.MetalGold,
		PricePerOz: 2000,
		FetchedAt:  now.UTC().Add(-5 * time.Minute),
	}}
	c := newTestCache(t, store, now)

	calls := 0
	result, err := c.GetOrFetch(context.Background(), models.MetalGold,
		func(context.Context, string) (float64, error) {
			calls++
			return 0, nil
		})

	require.NoError(t, err)
	require.Zero(t, calls, "a fresh cache hit must not invoke the fetch")
	require.Equal(t, SourceCached, result.Source)
	require.Equal(t, 2000.0, result.PricePerOz)
	require.Equal(t, 5*time.Minute, result.Age)
}

func TestGetOrFetch_StaleInvokesFetchOnce(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2025, 3, 11, 10, 0, 0, 0, loc)

	store := newMemStore()
	store.rows[models.MetalGold] = []models.SpotPrice{{
		MetalType:  models.MetalGold,
		PricePerOz: 1990,
		FetchedAt:  now.UTC().Add(-20 * time.Minute), // past the 15 min session window
	}}
	c := newTestCache(t, store, now)

	calls := 0
	result, err := c.GetOrFetch(context.Background(), models.MetalGold,
		func(context.Context, string) (float64, error) {
			calls++
			return 2010, nil
		})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, SourceFresh, result.Source)
	require.Equal(t, 2010.0, result.PricePerOz)
	require.Len(t, store.rows[models.MetalGold], 2, "fresh price appended to history")
}

func TestGetOrFetch_StaleFallbackOnFetchFailure(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2025, 3, 11, 10, 0, 0, 0, loc)

	store := newMemStore()
	store.rows[models.MetalSilver] = []models.SpotPrice{{
		MetalType:  models.MetalSilver,
		PricePerOz: 24.5,
		FetchedAt:  now.UTC().Add(-3 * time.Hour),
	}}
	c := newTestCache(t, store, now)

	result, err := c.GetOrFetch(context.Background(), models.MetalSilver,
		func(context.Context, string) (float64, error) {
			return 0, errors.New("upstream down")
		})

	require.NoError(t, err, "a stale value beats a hard failure")
	require.Equal(t, SourceStaleFallback, result.Source)
	require.Equal(t, 24.5, result.PricePerOz)
	require.Equal(t, 3*time.Hour, result.Age)
}

func TestGetOrFetch_EmptyCacheFailurePropagates(t *testing.T) {
	c := newTestCache(t, newMemStore(), time.Now())

	_, err := c.GetOrFetch(context.Background(), models.MetalGold,
		func(context.Context, string) (float64, error) {
			return 0, errors.New("upstream down")
		})
	require.Error(t, err)
}

func TestGetOrFetch_StoreWriteFailureStillReturnsPrice(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("disk full")
	c := newTestCache(t, store, time.Now())

	result, err := c.GetOrFetch(context.Background(), models.MetalGold,
		func(context.Context, string) (float64, error) {
			return 2005, nil
		})
	require.NoError(t, err)
	require.Equal(t, SourceFresh, result.Source)
	require.Equal(t, 2005.0, result.PricePerOz)
}

func TestGetCachedOnly(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	store.rows[models.MetalGold] = []models.SpotPrice{{
		MetalType:  models.MetalGold,
		PricePerOz: 2000,
		FetchedAt:  now.UTC().Add(-26 * time.Hour), // stale by any window
	}}
	c := newTestCache(t, store, now)

	result, err := c.GetCachedOnly(context.Background(), models.MetalGold)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 2000.0, result.PricePerOz)

	missing, err := c.GetCachedOnly(context.Background(), models.MetalSilver)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCleanup(t *testing.T) {
	now := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	c := newTestCache(t, store, now)

	require.NoError(t, c.Cleanup(context.Background(), 7))
	require.Equal(t, now.AddDate(0, 0, -7), store.purged)
}
