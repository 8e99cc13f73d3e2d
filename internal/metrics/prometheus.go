package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TenantsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_provision_total",
			Help: "Total number of tenant databases provisioned by this process",
		},
		[]string{"tenant"},
	)

	ProvisionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_provision_failures_total",
			Help: "Total number of failed tenant provisioning attempts",
		},
		[]string{"tenant"},
	)

	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_provision_duration_seconds",
			Help:    "Time spent provisioning a tenant database end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	CachedFactories = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_factories_cached",
			Help: "Number of tenant connection factories held in the registry cache",
		},
	)

	HTTPResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_responses_total",
			Help: "HTTP responses by service and status code",
		},
		[]string{"service", "code"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(TenantsProvisioned)
	prometheus.MustRegister(ProvisionFailures)
	prometheus.MustRegister(ProvisionDuration)
	prometheus.MustRegister(CachedFactories)
	prometheus.MustRegister(HTTPResponses)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
