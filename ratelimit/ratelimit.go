package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"metals_scanner/metrics"
	"metals_scanner/models"
)

// QuotaStore persists per-provider call trackers.
type QuotaStore interface {
	// GetTracker returns the tracker for a provider, or nil when the
	// provider is unknown.
	GetTracker(ctx context.Context, provider string) (*models.QuotaTracker, error)
	SaveTracker(ctx context.Context, tracker *models.QuotaTracker) error
	ListTrackers(ctx context.Context) ([]models.QuotaTracker, error)
}

// QuotaExceededError is returned when a provider's period quota is spent.
type QuotaExceededError struct {
	Provider string
	Limit    int64
	ResetAt  time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d), resets at %s",
		e.Provider, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Status is a read-only snapshot of one provider's quota.
type Status struct {
	Provider       string    `json:"provider"`
	Limit          int64     `json:"limit"`
	CallsUsed      int64     `json:"calls_used"`
	CallsRemaining int64     `json:"calls_remaining"`
	PercentUsed    float64   `json:"percent_used"`
	ResetAt        time.Time `json:"reset_at"`
	LastCallAt     time.Time `json:"last_call_at"`
}

// RateLimiter combines the persisted period quota with in-process burst
// protection. The spacing buckets live only in memory and reset on restart;
// the quota update is a plain read-modify-write, so concurrent scans against
// the same provider can race past each other and need external coordination.
type RateLimiter struct {
	store    QuotaStore
	interval time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter // key: provider
}

func New(store QuotaStore, minInterval time.Duration, log *zap.SugaredLogger) *RateLimiter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RateLimiter{
		store:    store,
		interval: minInterval,
		log:      log,
		now:      time.Now,
		buckets:  make(map[string]*rate.Limiter),
	}
}

// CheckAndIncrement checks the provider's quota, increments the counter and
// then enforces the minimum spacing between calls. It blocks for the
// remainder of the interval when called too soon after the previous call.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, provider string) error {
	now := r.now().UTC()

	tracker, err := r.store.GetTracker(ctx, provider)
	if err != nil {
		return fmt.Errorf("load quota tracker for %s: %w", provider, err)
	}
	if tracker == nil {
		// Unknown provider: allow the call rather than block data flow.
		r.log.Warnw("No quota tracker found", "provider", provider)
		return nil
	}

	if !now.Before(tracker.ResetAt) {
		r.resetTracker(tracker, now)
	}

	if tracker.CallsUsed >= tracker.Limit {
		metrics.IncrementQuotaRejection(provider)
		return &QuotaExceededError{
			Provider: provider,
			Limit:    tracker.Limit,
			ResetAt:  tracker.ResetAt,
		}
	}

	tracker.CallsUsed++
	tracker.LastCallAt = now
	tracker.UpdatedAt = now
	if err := r.store.SaveTracker(ctx, tracker); err != nil {
		return fmt.Errorf("save quota tracker for %s: %w", provider, err)
	}

	r.log.Debugw("Quota consumed",
		"provider", provider,
		"used", tracker.CallsUsed,
		"limit", tracker.Limit,
	)

	return r.bucket(provider).Wait(ctx)
}

// GetStatus returns the provider's quota snapshot, rolling the period over
// first when it is due. A nil status means the provider is unknown.
func (r *RateLimiter) GetStatus(ctx context.Context, provider string) (*Status, error) {
	tracker, err := r.store.GetTracker(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("load quota tracker for %s: %w", provider, err)
	}
	if tracker == nil {
		return nil, nil
	}

	now := r.now().UTC()
	if !now.Before(tracker.ResetAt) {
		r.resetTracker(tracker, now)
		tracker.UpdatedAt = now
		if err := r.store.SaveTracker(ctx, tracker); err != nil {
			return nil, fmt.Errorf("save quota tracker for %s: %w", provider, err)
		}
	}

	return &Status{
		Provider:       tracker.Provider,
		Limit:          tracker.Limit,
		CallsUsed:      tracker.CallsUsed,
		CallsRemaining: tracker.Limit - tracker.CallsUsed,
		PercentUsed:    round2(float64(tracker.CallsUsed) / float64(tracker.Limit) * 100),
		ResetAt:        tracker.ResetAt,
		LastCallAt:     tracker.LastCallAt,
	}, nil
}

// GetAllStatuses returns a snapshot for every known provider.
func (r *RateLimiter) GetAllStatuses(ctx context.Context) ([]Status, error) {
	trackers, err := r.store.ListTrackers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quota trackers: %w", err)
	}

	statuses := make([]Status, 0, len(trackers))
	for _, t := range trackers {
		status, err := r.GetStatus(ctx, t.Provider)
		if err != nil {
			return nil, err
		}
		if status != nil {
			statuses = append(statuses, *status)
		}
	}
	return statuses, nil
}

// resetTracker starts a new quota period. Daily counters reset at the next
// UTC midnight; monthly counters reset on the first of the next calendar
// month, wrapping December into January of the following year.
func (r *RateLimiter) resetTracker(tracker *models.QuotaTracker, now time.Time) {
	tracker.CallsUsed = 0
	switch tracker.PeriodKind {
	case models.PeriodMonthly:
		tracker.ResetAt = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		tracker.ResetAt = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	r.log.Infow("Quota period reset",
		"provider", tracker.Provider,
		"period", tracker.PeriodKind,
		"next_reset", tracker.ResetAt,
	)
}

func (r *RateLimiter) bucket(provider string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.buckets[provider]
	if !ok {
		if r.interval <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Every(r.interval), 1)
		}
		r.buckets[provider] = lim
	}
	return lim
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
