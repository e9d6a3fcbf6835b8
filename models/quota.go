package models

import "time"

// Quota period kinds.
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// QuotaTracker holds the persisted call counter for one provider.
// Exactly one logical tracker exists per provider; ResetAt only moves
// forward.
type QuotaTracker struct {
	Provider   string    `ch:"provider"`
	PeriodKind string    `ch:"period_kind"`
	Limit      int64     `ch:"call_limit"`
	CallsUsed  int64     `ch:"calls_used"`
	ResetAt    time.Time `ch:"reset_at"`
	LastCallAt time.Time `ch:"last_call_at"`
	UpdatedAt  time.Time `ch:"updated_at"`
}
