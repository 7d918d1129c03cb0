// Package metrics defines the Prometheus instrumentation for the hub.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Hub Prometheus metrics.
var (
	RegistryReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotahub",
			Name:      "registry_reloads_total",
			Help:      "Total number of settled registry reloads",
		},
	)

	RegistryParseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotahub",
			Name:      "registry_parse_errors_total",
			Help:      "Total number of malformed registry reads",
		},
	)

	PollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotahub",
			Name:      "poll_cycles_total",
			Help:      "Total number of completed quota poll cycles",
		},
	)

	TokenRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotahub",
			Name:      "token_refreshes_total",
			Help:      "Total number of successful access token exchanges",
		},
	)

	PollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotahub",
			Name:      "poll_errors_total",
			Help:      "Total number of per-account poll failures",
		},
		[]string{"stage"}, // "token" / "fetch"
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotahub",
			Name:      "events_published_total",
			Help:      "Total number of events fanned out to subscribers",
		},
		[]string{"type"},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotahub",
			Name:      "subscribers",
			Help:      "Current number of live subscribers",
		},
	)

	AccountsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotahub",
			Name:      "accounts",
			Help:      "Accounts by derived status",
		},
		[]string{"status"},
	)

	QuotaRemainingPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotahub",
			Name:      "quota_remaining_percent",
			Help:      "Effective remaining quota percent per account and family",
		},
		[]string{"email", "family"},
	)
)

var registered bool

// Register registers the hub metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(RegistryReloadsTotal)
	prometheus.MustRegister(RegistryParseErrorsTotal)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(TokenRefreshesTotal)
	prometheus.MustRegister(PollErrorsTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(AccountsByStatus)
	prometheus.MustRegister(QuotaRemainingPercent)
	registered = true
}
