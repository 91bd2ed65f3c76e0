package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Cache metrics
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resourceloader_cache_hits_total",
		Help: "Total number of loads served inside the timeout window",
	})

	cacheUnchangedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resourceloader_cache_unchanged_total",
		Help: "Total number of expired entries confirmed unchanged by fingerprint",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resourceloader_cache_misses_total",
		Help: "Total number of loads of URLs without a cache entry",
	})

	cacheRefreshesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resourceloader_cache_refreshes_total",
		Help: "Total number of entries re-read after a fingerprint change",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resourceloader_cache_evictions_total",
		Help: "Total number of entries evicted by the size bound",
	})

	cacheEntriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resourceloader_cache_entries",
		Help: "Current number of entries summed over every cache in the process",
	})

	// Reader metrics
	fingerprintUnavailableTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resourceloader_fingerprint_unavailable_total",
		Help: "Total number of fingerprint probes that could not verify a resource",
	}, []string{"reader"})

	fingerprintDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resourceloader_fingerprint_duration_seconds",
		Help:    "Duration of fingerprint probes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"reader", "status"})

	// Parse metrics
	parseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resourceloader_parse_duration_seconds",
		Help:    "Duration of read and parse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"reader", "parser", "status"})
)

func init() {
	// Register all metrics with controller-runtime's registry
	metrics.Registry.MustRegister(
		cacheHitsTotal,
		cacheUnchangedTotal,
		cacheMissesTotal,
		cacheRefreshesTotal,
		cacheEvictionsTotal,
		cacheEntriesGauge,
		fingerprintUnavailableTotal,
		fingerprintDuration,
		parseDuration,
	)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// recordFingerprint records a fingerprint probe
func recordFingerprint(readerType string, err error, durationSeconds float64) {
	fingerprintDuration.WithLabelValues(readerType, statusLabel(err)).Observe(durationSeconds)
}

// recordFingerprintUnavailable records a probe that could not verify staleness
func recordFingerprintUnavailable(readerType string) {
	fingerprintUnavailableTotal.WithLabelValues(readerType).Inc()
}

// recordParse records a read and parse operation
func recordParse(readerType, parserType string, err error, durationSeconds float64) {
	parseDuration.WithLabelValues(readerType, parserType, statusLabel(err)).Observe(durationSeconds)
}
