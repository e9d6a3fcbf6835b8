package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metals_scanner/models"
)

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) SpotPrices(context.Context) map[string]float64 { return f.prices }

type fakeScraper struct {
	listings []models.Listing
	err      error
}

func (f *fakeScraper) ScrapeAndDedup(context.Context, []string, int) ([]models.Listing, error) {
	return f.listings, f.err
}

type memListings struct {
	rows      map[string]models.Listing
	upsertErr map[string]error
}

func newMemListings() *memListings {
	return &memListings{rows: make(map[string]models.Listing)}
}

func (s *memListings) GetListing(_ context.Context, externalID string) (*models.Listing, error) {
	row, ok := s.rows[externalID]
	if !ok {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

func (s *memListings) UpsertListing(_ context.Context, listing models.Listing) error {
	if err := s.upsertErr[listing.ExternalID]; err != nil {
		return err
	}
	s.rows[listing.ExternalID] = listing
	return nil
}

func bothSpots() map[string]float64 {
	return map[string]float64{
		models.MetalGold:   2000.0,
		models.MetalSilver: 25.0,
	}
}

func goldListing(id string, price, weight float64) models.Listing {
	return models.Listing{
		Source:     "ebay",
		ExternalID: id,
		Title:      "1 oz Gold Eagle",
		Price:      price,
		MetalType:  models.MetalGold,
		WeightOz:   weight,
		URL:        "https://ebay.com/" + id,
	}
}

func newTestOrchestrator(prices SpotPriceSource, scraper Scraper, store ListingStore) *Orchestrator {
	o := New(prices, scraper, store, nil)
	o.now = func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestSpread(t *testing.T) {
	cases := []struct {
		name     string
		price    float64
		weightOz float64
		spot     float64
		want     float64
		ok       bool
	}{
		{"below spot", 1700, 1, 2000, 15.0, true},
		{"above spot", 2100, 1, 2000, -5.0, true},
		{"at spot", 2000, 1, 2000, 0.0, true},
		{"fractional weight", 190, 0.1, 2000, 5.0, true},
		{"zero weight undefined", 100, 0, 2000, 0, false},
		{"zero spot undefined", 100, 1, 0, 0, false},
		{"rounding", 1234.56, 1, 2000, 38.27, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Spread(tc.price, tc.weightOz, tc.spot)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRunScan_CountsDealsAndPersists(t *testing.T) {
	store := newMemListings()
	scraper := &fakeScraper{listings: []models.Listing{
		goldListing("deal", 1700, 1),     // 15% below spot
		goldListing("overpay", 2100, 1),  // above spot, not a deal
		goldListing("noweight", 1800, 0), // undefined spread
	}}
	o := newTestOrchestrator(&fakePrices{prices: bothSpots()}, scraper, store)

	outcome := o.RunScan(context.Background(), nil, 50)

	require.True(t, outcome.Success)
	require.Empty(t, outcome.Errors)
	require.Equal(t, 3, outcome.ListingsFound)
	require.Equal(t, 1, outcome.DealsFound)
	require.NotEmpty(t, outcome.ScanID)

	deal := store.rows["deal"]
	require.True(t, deal.HasSpread)
	require.Equal(t, 15.0, deal.SpreadPct)

	noWeight := store.rows["noweight"]
	require.False(t, noWeight.HasSpread, "no weight leaves the spread undefined")
}

func TestRunScan_MissingSpotPriceReported(t *testing.T) {
	store := newMemListings()
	scraper := &fakeScraper{listings: []models.Listing{goldListing("111", 1700, 1)}}
	o := newTestOrchestrator(&fakePrices{prices: map[string]float64{
		models.MetalSilver: 25.0,
	}}, scraper, store)

	outcome := o.RunScan(context.Background(), nil, 50)

	require.False(t, outcome.Success)
	require.Contains(t, outcome.Errors, "spot price unavailable for gold")

	// The listing is still stored, just without a spread.
	row := store.rows["111"]
	require.False(t, row.HasSpread)
	require.Zero(t, outcome.DealsFound)
}

func TestRunScan_ListingFailureDoesNotAbortBatch(t *testing.T) {
	store := newMemListings()
	store.upsertErr = map[string]error{"bad": errors.New("insert refused")}
	scraper := &fakeScraper{listings: []models.Listing{
		goldListing("bad", 1700, 1),
		goldListing("good", 1600, 1),
	}}
	o := newTestOrchestrator(&fakePrices{prices: bothSpots()}, scraper, store)

	outcome := o.RunScan(context.Background(), nil, 50)

	require.False(t, outcome.Success)
	require.Len(t, outcome.Errors, 1)
	require.Contains(t, outcome.Errors[0], "bad")
	require.Contains(t, store.rows, "good", "later listings still processed")
	require.Equal(t, 1, outcome.DealsFound)
}

func TestRunScan_ScrapeFailureReported(t *testing.T) {
	o := newTestOrchestrator(
		&fakePrices{prices: bothSpots()},
		&fakeScraper{err: errors.New("all terms failed")},
		newMemListings(),
	)

	outcome := o.RunScan(context.Background(), nil, 50)

	require.False(t, outcome.Success)
	require.Zero(t, outcome.ListingsFound)
	require.Contains(t, outcome.Errors[0], "scrape failed")
}

func TestProcessListing_UpdateKeepsStoredWeight(t *testing.T) {
	store := newMemListings()
	stored := goldListing("111", 1800, 1)
	stored.Title = "1 oz Gold Eagle"
	store.rows["111"] = stored

	scraped := goldListing("111", 1750, 0.5)
	scraped.Title = "Gold Eagle relisted"

	o := newTestOrchestrator(&fakePrices{prices: bothSpots()}, &fakeScraper{}, store)
	deal, err := o.processListing(context.Background(), scraped, bothSpots())
	require.NoError(t, err)

	row := store.rows["111"]
	require.Equal(t, 1.0, row.WeightOz, "stored weight wins on update")
	require.Equal(t, "1 oz Gold Eagle", row.Title, "stored title wins on update")
	require.Equal(t, 1750.0, row.Price, "price refreshed from the new observation")

	// The spread decision uses the freshly scraped weight: 1750 for 0.5 oz
	// at 2000/oz is far above spot value.
	require.False(t, deal)
	require.Equal(t, -75.0, row.SpreadPct)
	require.True(t, row.HasSpread)
}
