package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by route pattern and method.",
	},
	[]string{"route", "method"},
)

var RoutingMutationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "routing",
		Name:      "mutations_total",
		Help:      "Total number of routing-table mutations by entity and operation.",
	},
	[]string{"entity", "operation"},
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache lookups by group and outcome (hit, miss, negative).",
	},
	[]string{"group", "outcome"},
)

var CacheInvalidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Total number of cache entries invalidated, by local writes or control-bus messages.",
	},
	[]string{"group"},
)

var ControlBusPublishFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "controlbus",
		Name:      "publish_failures_total",
		Help:      "Total number of control-bus publish failures by entity channel.",
	},
	[]string{"channel"},
)

var ControlBusPoisonMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "controlbus",
		Name:      "poison_messages_total",
		Help:      "Total number of control-bus messages dropped for failing to parse.",
	},
	[]string{"channel"},
)

var ProvisionerCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "linkbroker",
		Subsystem: "provisioner",
		Name:      "call_duration_seconds",
		Help:      "Resource Provisioner driver call duration in seconds.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"driver", "operation"},
)

var ProvisionerCompensationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "provisioner",
		Name:      "compensations_total",
		Help:      "Total number of compensating clear_queue_rsc actions performed after a failed provision.",
	},
	[]string{"driver"},
)

var OAuth2TokensIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "linkbroker",
		Subsystem: "oauth2",
		Name:      "tokens_issued_total",
		Help:      "Total number of OAuth2 tokens issued by grant type and token kind.",
	},
	[]string{"grant_type", "kind"},
)

// All returns all linkbroker-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		RoutingMutationsTotal,
		CacheHitsTotal,
		CacheInvalidationsTotal,
		ControlBusPublishFailuresTotal,
		ControlBusPoisonMessagesTotal,
		ProvisionerCallDuration,
		ProvisionerCompensationsTotal,
		OAuth2TokensIssuedTotal,
	}
}
