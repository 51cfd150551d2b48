package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingogateway_translations_total",
			Help: "Total number of translation requests processed",
		},
		[]string{"provider", "source_lang", "target_lang", "status"},
	)

	TranslationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lingogateway_translation_duration_seconds",
			Help:    "Translation request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "route"},
	)

	CharactersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingogateway_characters_total",
			Help: "Total number of characters translated",
		},
		[]string{"provider"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingogateway_cost_usd_total",
			Help: "Total accrued provider cost in USD",
		},
		[]string{"provider"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lingogateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lingogateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lingogateway_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lingogateway_cache_size_bytes",
			Help: "Current total size of cached entries in bytes",
		},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingogateway_quota_denials_total",
			Help: "Total number of admission denials",
		},
		[]string{"provider", "bucket"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lingogateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_class"},
	)

	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lingogateway_inflight_requests",
			Help: "Number of requests currently in flight",
		},
	)

	CancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lingogateway_cancellations_total",
			Help: "Total number of cancelled requests",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lingogateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)
)

func RecordTranslation(provider, sourceLang, targetLang, status string, durationSec float64, route string) {
	TranslationsTotal.WithLabelValues(provider, sourceLang, targetLang, status).Inc()
	TranslationDuration.WithLabelValues(provider, route).Observe(durationSec)
}

func RecordUsage(provider string, chars int, costUSD float64) {
	CharactersTotal.WithLabelValues(provider).Add(float64(chars))
	CostTotal.WithLabelValues(provider).Add(costUSD)
}

func RecordQuotaDenial(provider, bucket string) {
	QuotaDenials.WithLabelValues(provider, bucket).Inc()
}

func RecordProviderError(provider, errorClass string) {
	ProviderErrors.WithLabelValues(provider, errorClass).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}
