package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage metrics
	StorageDriver = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amino_storage_driver_info",
			Help: "Storage driver in use (1 = selected)",
		},
		[]string{"driver"},
	)

	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amino_component_healthy",
			Help: "Last reported component state (1 = healthy)",
		},
		[]string{"component"},
	)

	// Queue metrics
	QueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amino_queue_length",
			Help: "Number of offline actions waiting for replay",
		},
	)

	DeadLetters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amino_dead_letters",
			Help: "Number of offline actions rejected permanently",
		},
	)

	// Sync metrics
	SyncCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amino_sync_cycles_total",
			Help: "Total number of queue drain cycles",
		},
	)

	ActionsReplayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amino_actions_replayed_total",
			Help: "Total number of replayed actions by result",
		},
		[]string{"result"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amino_sync_duration_seconds",
			Help:    "Queue drain duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Network metrics
	NetworkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amino_network_online",
			Help: "Whether the backend is reachable (1 = online, 0 = offline)",
		},
	)

	// Cache metrics
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amino_cache_requests_total",
			Help: "Total number of cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	CachePrimeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amino_cache_prime_failures_total",
			Help: "Total number of resources that failed to prime",
		},
	)

	// Coalescer metrics
	CoalescerFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amino_coalescer_flushes_total",
			Help: "Total number of coalesced write flushes",
		},
	)

	CoalescerWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amino_coalescer_write_failures_total",
			Help: "Total number of coalesced writes dropped after a failure",
		},
	)

	// Session metrics
	Backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amino_backups_total",
			Help: "Total number of backups by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amino_api_requests_total",
			Help: "Total number of admin API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amino_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(StorageDriver)
	prometheus.MustRegister(ComponentHealthy)
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(DeadLetters)
	prometheus.MustRegister(SyncCycles)
	prometheus.MustRegister(ActionsReplayed)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(NetworkOnline)
	prometheus.MustRegister(CacheRequests)
	prometheus.MustRegister(CachePrimeFailures)
	prometheus.MustRegister(CoalescerFlushes)
	prometheus.MustRegister(CoalescerWriteFailures)
	prometheus.MustRegister(Backups)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
