package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Prometheus metrics
	scansMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_scans_total",
		Help: "The total number of scan passes executed",
	})

	listingsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_listings_processed_total",
		Help: "Total number of listings processed across all scans",
	})

	dealsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_deals_found_total",
		Help: "Total number of listings priced below spot value",
	})

	errorCountMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_errors_total",
		Help: "Total number of errors encountered during scans",
	})

	quotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_quota_rejections_total",
		Help: "Calls rejected because a provider quota was spent",
	}, []string{"provider"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanner_scan_duration_seconds",
		Help:    "Wall clock time of one full scan pass",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// Internal counters
	scanCount   uint64
	listings    uint64
	deals       uint64
	errorCount  uint64
	lastScanned time.Time
	startTime   = time.Now()
)

func IncrementScans() {
	atomic.AddUint64(&scanCount, 1)
	scansMetric.Inc()
	lastScanned = time.Now()
}

func AddListings(n int) {
	atomic.AddUint64(&listings, uint64(n))
	listingsMetric.Add(float64(n))
}

func AddDeals(n int) {
	atomic.AddUint64(&deals, uint64(n))
	dealsMetric.Add(float64(n))
}

func IncrementErrors() {
	atomic.AddUint64(&errorCount, 1)
	errorCountMetric.Inc()
}

func IncrementQuotaRejection(provider string) {
	quotaRejections.WithLabelValues(provider).Inc()
}

func ObserveScanDuration(duration time.Duration) {
	scanDuration.Observe(duration.Seconds())
}

func GetStats() (uint64, uint64, uint64, time.Time, time.Duration) {
	return atomic.LoadUint64(&scanCount),
		atomic.LoadUint64(&deals),
		atomic.LoadUint64(&errorCount),
		lastScanned,
		time.Since(startTime)
}
