package observability

import "github.com/prometheus/client_golang/prometheus"

// CommandBuckets covers backend command round trips from 10ms to 60s.
var CommandBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var (
	// HTTPRequestsTotal counts caller HTTP requests by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "Caller HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records caller HTTP request duration in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "Caller HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CredentialValidationsTotal counts credential checks by outcome
	// (ok, rejected, unavailable) and source (cache, remote).
	CredentialValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_credential_validations_total",
			Help: "Credential validations",
		},
		[]string{"outcome", "source"},
	)

	// CredentialCacheEvictions counts LRU evictions from the credential cache.
	CredentialCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_credential_cache_evictions_total",
			Help: "Credential cache LRU evictions",
		},
	)

	// BackendConnections tracks live backend connections.
	BackendConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_backend_connections_active",
			Help: "Active backend connections",
		},
	)

	// BackendRegistrationsTotal counts registrations by outcome
	// (registered, superseded).
	BackendRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_backend_registrations_total",
			Help: "Backend registrations",
		},
		[]string{"outcome"},
	)

	// ConnectionRejectionsTotal counts refused backend connections by close code.
	ConnectionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_connection_rejections_total",
			Help: "Refused backend connections",
		},
		[]string{"code"},
	)

	// CommandsTotal counts dispatched commands by name and status.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_commands_total",
			Help: "Dispatched commands",
		},
		[]string{"command", "status"},
	)

	// CommandDuration records command round-trip time in seconds.
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_command_duration_seconds",
			Help:    "Command round-trip duration",
			Buckets: CommandBuckets,
		},
		[]string{"command"},
	)

	// RateLimitRejectedTotal counts caller requests rejected by the limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CredentialValidationsTotal,
		CredentialCacheEvictions,
		BackendConnections,
		BackendRegistrationsTotal,
		ConnectionRejectionsTotal,
		CommandsTotal,
		CommandDuration,
		RateLimitRejectedTotal,
	)
}
