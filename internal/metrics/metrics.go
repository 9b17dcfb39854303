package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_verdicts_total",
			Help: "Verdicts produced, by event kind and threat level",
		},
		[]string{"kind", "level"},
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mtd_detection_duration_seconds",
			Help:    "Time spent producing a verdict",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"kind"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_cache_evictions_total",
			Help: "Cache evictions",
		},
		[]string{"cache_type"},
	)

	BloomNegatives = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_indicator_bloom_negatives_total",
			Help: "Indicator lookups answered by the bloom filter without a map lookup",
		},
		[]string{"type"},
	)

	IndicatorMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_indicator_matches_total",
			Help: "Indicator store hits during correlation",
		},
		[]string{"type"},
	)

	IndicatorsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_indicators_ingested_total",
			Help: "Indicator records written by feed ingestion",
		},
		[]string{"source"},
	)

	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_feed_errors_total",
			Help: "Feed source failures",
		},
		[]string{"source"},
	)

	FeedBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mtd_feed_breaker_state",
			Help: "Feed source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	PolicyActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_policy_actions_total",
			Help: "Policy decisions by action and matched rule",
		},
		[]string{"action", "rule"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtd_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
