package models

import "time"

// Metal classes tracked by the scanner.
const (
	MetalGold   = "gold"
	MetalSilver = "silver"
)

// Listing is one normalized marketplace listing. WeightOz is zero when no
// weight could be extracted from the title; in that case
// WeightExtractionFailed is set. A listing never has both a weight and the
// failure flag.
type Listing struct {
	Source                 string    `ch:"source"`
	ExternalID             string    `ch:"external_id"`
	Title                  string    `ch:"title"`
	Price                  float64   `ch:"price"`
	MetalType              string    `ch:"metal_type"`
	WeightOz               float64   `ch:"weight_oz"`
	WeightExtractionFailed bool      `ch:"weight_extraction_failed"`
	URL                    string    `ch:"url"`
	SpreadPct              float64   `ch:"spread_pct"`
	HasSpread              bool      `ch:"has_spread"`
	FetchedAt              time.Time `ch:"fetched_at"`
}

func (l *Listing) HasWeight() bool {
	return !l.WeightExtractionFailed && l.WeightOz > 0
}
