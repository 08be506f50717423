package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_paste_burned_total",
		Help: "no. of burn-after-read pastes deleted after serving",
	})
	PasteExpiredLazy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_paste_expired_lazy_total",
		Help: "no. of expired pastes deleted on access",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_cache_misses_total",
		Help: "no. of cache misses",
	})
	ViewEventsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_view_events_recorded_total",
		Help: "no. of view events appended to the ledger",
	})
	ViewEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_view_events_dropped_total",
		Help: "no. of view events dropped (queue full or store failure)",
	})
	GeoLookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_geo_lookup_failures_total",
		Help: "no. of failed geolocation lookups",
	})
	KeyVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelock_key_verifications_total",
			Help: "no. of access key verifications by result",
		},
		[]string{"result"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastelock_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelock_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelock_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastelock_recent_error_rate_percent",
		Help: "error rate over the sliding anomaly window",
	})
)
