package models

import "time"

// ScanOutcome summarizes one scan pass. It is returned to the caller and
// never persisted. Success is true only when Errors is empty; partial
// counts are still reported on failure.
type ScanOutcome struct {
	ScanID        string        `json:"scan_id"`
	Success       bool          `json:"success"`
	ListingsFound int           `json:"listings_found"`
	DealsFound    int           `json:"deals_found"`
	Errors        []string      `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Duration      time.Duration `json:"duration"`
}
