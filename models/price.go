package models

import "time"

// SpotPrice is one cached spot price observation. Rows are append-only;
// the current price for a metal is the most recent by FetchedAt.
type SpotPrice struct {
	MetalType  string    `ch:"metal_type"`
	PricePerOz float64   `ch:"price_per_oz"`
	FetchedAt  time.Time `ch:"fetched_at"`
}
