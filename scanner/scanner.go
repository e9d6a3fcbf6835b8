package scanner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"metals_scanner/metrics"
	"metals_scanner/models"
)

// ListingStore persists normalized listings keyed by external id.
type ListingStore interface {
	// GetListing returns the stored listing for an external id, or nil when
	// it has never been seen.
	GetListing(ctx context.Context, externalID string) (*models.Listing, error)
	UpsertListing(ctx context.Context, listing models.Listing) error
}

// SpotPriceSource supplies reference prices per metal class. Metals whose
// price could not be obtained are absent from the map.
type SpotPriceSource interface {
	SpotPrices(ctx context.Context) map[string]float64
}

// Scraper produces normalized, deduplicated listings.
type Scraper interface {
	ScrapeAndDedup(ctx context.Context, searchTerms []string, maxResults int) ([]models.Listing, error)
}

// Orchestrator runs one scan pass: reference prices, listings, upserts and
// spread computation. Failures are collected per listing; a scan never
// aborts wholesale on a single bad listing or missing price.
type Orchestrator struct {
	prices  SpotPriceSource
	scraper Scraper
	store   ListingStore
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(prices SpotPriceSource, scraper Scraper, store ListingStore, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		prices:  prices,
		scraper: scraper,
		store:   store,
		log:     log,
		now:     time.Now,
	}
}

// RunScan executes one synchronous scan. Success is true only when the
// error list stayed empty; partial counts are reported either way.
func (o *Orchestrator) RunScan(ctx context.Context, searchTerms []string, maxResults int) models.ScanOutcome {
	started := o.now().UTC()
	outcome := models.ScanOutcome{
		ScanID:    uuid.New().String(),
		StartedAt: started,
	}
	metrics.IncrementScans()

	o.log.Infow("Scan started", "scan_id", outcome.ScanID)

	spots := o.prices.SpotPrices(ctx)
	for _, metal := range []string{models.MetalGold, models.MetalSilver} {
		if _, ok := spots[metal]; !ok {
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("spot price unavailable for %s", metal))
			o.log.Warnw("Spot price unavailable, spreads skipped for metal", "metal", metal)
		}
	}

	listings, err := o.scraper.ScrapeAndDedup(ctx, searchTerms, maxResults)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("scrape failed: %v", err))
	}
	outcome.ListingsFound = len(listings)

	for _, listing := range listings {
		deal, err := o.processListing(ctx, listing, spots)
		if err != nil {
			o.log.Errorw("Failed to process listing",
				"external_id", listing.ExternalID,
				"error", err,
			)
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("listing %s: %v", listing.ExternalID, err))
			continue
		}
		if deal {
			outcome.DealsFound++
		}
	}

	outcome.CompletedAt = o.now().UTC()
	outcome.Duration = outcome.CompletedAt.Sub(outcome.StartedAt)
	outcome.Success = len(outcome.Errors) == 0

	metrics.AddListings(outcome.ListingsFound)
	metrics.AddDeals(outcome.DealsFound)
	if !outcome.Success {
		metrics.IncrementErrors()
	}
	metrics.ObserveScanDuration(outcome.Duration)

	o.log.Infow("Scan completed",
		"scan_id", outcome.ScanID,
		"listings", outcome.ListingsFound,
		"deals", outcome.DealsFound,
		"errors", len(outcome.Errors),
		"duration", outcome.Duration,
	)
	return outcome
}

// processListing upserts one listing and computes its spread. Existing
// records only get price and fetched_at refreshed; the stored weight is
// never re-extracted even when the title changed.
func (o *Orchestrator) processListing(ctx context.Context, listing models.Listing, spots map[string]float64) (bool, error) {
	now := o.now().UTC()

	row := listing
	existing, err := o.store.GetListing(ctx, listing.ExternalID)
	if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}
	if existing != nil {
		row = *existing
		row.Price = listing.Price
	}
	row.FetchedAt = now

	// The spread uses the freshly scraped weight and price; an absent
	// weight or reference price leaves it undefined rather than zero.
	deal := false
	if spot, ok := spots[listing.MetalType]; ok && listing.HasWeight() {
		if spread, ok := Spread(listing.Price, listing.WeightOz, spot); ok {
			row.SpreadPct = spread
			row.HasSpread = true
			deal = spread > 0
		}
	}

	if err := o.store.UpsertListing(ctx, row); err != nil {
		return false, fmt.Errorf("upsert: %w", err)
	}

	return deal, nil
}

// Spread computes the percentage below spot value, rounded to 2 decimals.
// Positive means priced below spot. The second return is false when the
// spread is undefined (non-positive weight or spot value).
func Spread(price, weightOz, spotPrice float64) (float64, bool) {
	if weightOz <= 0 {
		return 0, false
	}
	spotValue := weightOz * spotPrice
	if spotValue <= 0 {
		return 0, false
	}
	pct := (spotValue - price) / spotValue * 100
	return math.Round(pct*100) / 100, true
}
