package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Protocol metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vboxwrapper_commands_total",
			Help: "Total number of protocol commands by module, command and reply code",
		},
		[]string{"module", "command", "code"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vboxwrapper_command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module", "command"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vboxwrapper_active_connections",
			Help: "Number of currently connected control clients",
		},
	)

	ReplyCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vboxwrapper_reply_cache_hits_total",
			Help: "Total number of duplicate requests answered from the reply cache",
		},
	)

	// Registry metrics
	InstancesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vboxwrapper_instances_registered",
			Help: "Number of VM instances currently registered",
		},
	)

	InstancesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vboxwrapper_instances_running",
			Help: "Number of VM instances with a live process",
		},
	)

	// Backend metrics
	BackendRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vboxwrapper_backend_retries_total",
			Help: "Total number of retried hypervisor API calls by operation",
		},
		[]string{"operation"},
	)

	StartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vboxwrapper_starts_total",
			Help: "Total number of VM start operations by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(ReplyCacheHitsTotal)
	prometheus.MustRegister(InstancesRegistered)
	prometheus.MustRegister(InstancesRunning)
	prometheus.MustRegister(BackendRetriesTotal)
	prometheus.MustRegister(StartsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
