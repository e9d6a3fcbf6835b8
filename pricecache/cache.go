package pricecache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"metals_scanner/models"
)

// PriceStore persists spot price observations as an append-only history.
type PriceStore interface {
	// LatestPrice returns the most recent observation for a metal, or nil
	// when none exists.
	LatestPrice(ctx context.Context, metalType string) (*models.SpotPrice, error)
	InsertPrice(ctx context.Context, price models.SpotPrice) error
	PurgePricesBefore(ctx context.Context, cutoff time.Time) error
}

// FetchFunc obtains a fresh price per troy ounce for a metal.
type FetchFunc func(ctx context.Context, metalType string) (float64, error)

// Source tags where a returned price came from.
type Source string

const (
	SourceFresh         Source = "fresh"
	SourceCached        Source = "cached"
	SourceStaleFallback Source = "stale_fallback"
)

// Result is one price lookup answer.
type Result struct {
	MetalType  string
	PricePerOz float64
	FetchedAt  time.Time
	Age        time.Duration
	Source     Source
}

// Windows holds the three freshness durations picked by market phase.
type Windows struct {
	MarketHours time.Duration
	OffHours    time.Duration
	Weekend     time.Duration
}

// Session describes the regional trading session in local wall-clock time.
type Session struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// DefaultSession is the US equities session, 9:30 AM to 4:00 PM.
var DefaultSession = Session{OpenHour: 9, OpenMinute: 30, CloseHour: 16}

// Cache serves spot prices under a market-hours freshness policy with stale
// fallback when a fresh fetch fails.
type Cache struct {
	store    PriceStore
	windows  Windows
	session  Session
	location *time.Location
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(store PriceStore, windows Windows, timezone string, log *zap.SugaredLogger) (*Cache, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", timezone, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cache{
		store:    store,
		windows:  windows,
		session:  DefaultSession,
		location: loc,
		log:      log,
		now:      time.Now,
	}, nil
}

// isMarketHours reports whether t falls inside the weekday trading session.
func (c *Cache) isMarketHours(t time.Time) bool {
	local := t.In(c.location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(local.Year(), local.Month(), local.Day(),
		c.session.OpenHour, c.session.OpenMinute, 0, 0, c.location)
	close := time.Date(local.Year(), local.Month(), local.Day(),
		c.session.CloseHour, c.session.CloseMinute, 0, 0, c.location)
	return !local.Before(open) && !local.After(close)
}

// window picks the freshness duration for t: short during the session,
// medium on weekday off-hours, long on weekends regardless of hour.
func (c *Cache) window(t time.Time) time.Duration {
	local := t.In(c.location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return c.windows.Weekend
	}
	if c.isMarketHours(t) {
		return c.windows.MarketHours
	}
	return c.windows.OffHours
}

// GetOrFetch returns the cached price when still fresh, otherwise invokes
// fetch exactly once. A failed fetch falls back to the stale cached value
// when one exists; the error propagates only when the cache is empty.
func (c *Cache) GetOrFetch(ctx context.Context, metalType string, fetch FetchFunc) (*Result, error) {
	now := c.now().UTC()

	latest, err := c.store.LatestPrice(ctx, metalType)
	if err != nil {
		return nil, fmt.Errorf("read cached price for %s: %w", metalType, err)
	}

	if latest != nil {
		age := now.Sub(latest.FetchedAt)
		if age < c.window(now) {
			c.log.Debugw("Using cached price",
				"metal", metalType,
				"age", age,
			)
			return &Result{
				MetalType:  metalType,
				PricePerOz: latest.PricePerOz,
				FetchedAt:  latest.FetchedAt,
				Age:        age,
				Source:     SourceCached,
			}, nil
		}
	}

	price, fetchErr := fetch(ctx, metalType)
	if fetchErr != nil {
		if latest != nil {
			age := now.Sub(latest.FetchedAt)
			c.log.Warnw("Fetch failed, using stale cached price",
				"metal", metalType,
				"age", age,
				"error", fetchErr,
			)
			return &Result{
				MetalType:  metalType,
				PricePerOz: latest.PricePerOz,
				FetchedAt:  latest.FetchedAt,
				Age:        age,
				Source:     SourceStaleFallback,
			}, nil
		}
		return nil, fmt.Errorf("fetch %s price with empty cache: %w", metalType, fetchErr)
	}

	row := models.SpotPrice{MetalType: metalType, PricePerOz: price, FetchedAt: now}
	if err := c.store.InsertPrice(ctx, row); err != nil {
		// The price is good even if the cache write is not.
		c.log.Errorw("Failed to store fetched price",
			"metal", metalType,
			"error", err,
		)
	} else {
		c.log.Infow("Stored fresh price",
			"metal", metalType,
			"price_per_oz", price,
		)
	}

	return &Result{
		MetalType:  metalType,
		PricePerOz: price,
		FetchedAt:  now,
		Source:     SourceFresh,
	}, nil
}

// GetCachedOnly returns the latest cached price regardless of staleness,
// without side effects. A nil result means no price has ever been cached.
func (c *Cache) GetCachedOnly(ctx context.Context, metalType string) (*Result, error) {
	latest, err := c.store.LatestPrice(ctx, metalType)
	if err != nil {
		return nil, fmt.Errorf("read cached price for %s: %w", metalType, err)
	}
	if latest == nil {
		return nil, nil
	}
	return &Result{
		MetalType:  metalType,
		PricePerOz: latest.PricePerOz,
		FetchedAt:  latest.FetchedAt,
		Age:        c.now().UTC().Sub(latest.FetchedAt),
		Source:     SourceCached,
	}, nil
}

// Cleanup removes price rows older than keepDays.
func (c *Cache) Cleanup(ctx context.Context, keepDays int) error {
	cutoff := c.now().UTC().AddDate(0, 0, -keepDays)
	if err := c.store.PurgePricesBefore(ctx, cutoff); err != nil {
		return fmt.Errorf("purge prices before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	c.log.Infow("Purged old spot prices", "cutoff", cutoff)
	return nil
}
