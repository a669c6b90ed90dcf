package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeBadRequest    = "bad_request"
	OutcomeConfigError   = "config_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeTokenError    = "token_error"
	OutcomeError         = "error"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	LoginRedirects   *prometheus.CounterVec
	Callbacks        *prometheus.CounterVec
	CodeExchanges    *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LoginRedirects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siwa_login_redirects_total",
			Help: "Authorization redirects to Apple, by outcome",
		}, []string{"outcome"}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siwa_callbacks_total",
			Help: "Apple callbacks relayed to the app, by transport and outcome",
		}, []string{"transport", "outcome"}),
		CodeExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siwa_code_exchanges_total",
			Help: "Authorization code exchanges, by outcome",
		}, []string{"outcome"}),
		ExchangeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "siwa_code_exchange_duration_seconds",
			Help:    "Time spent exchanging an authorization code with Apple",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveLoginRedirect(outcome string) {
	if m == nil {
		return
	}
	m.LoginRedirects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCallback(transport, outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) ObserveExchange(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.CodeExchanges.WithLabelValues(outcome).Inc()
	if took > 0 {
		m.ExchangeDuration.Observe(took.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
