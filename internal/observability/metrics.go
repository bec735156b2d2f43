package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments of the bot. Each instance owns its
// registry so tests and multiple gateways do not collide.
type Metrics struct {
	registry *prometheus.Registry

	MessagesLogged    prometheus.Counter
	Commands          *prometheus.CounterVec
	CompletionErrors  *prometheus.CounterVec
	CompletionLatency *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MessagesLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_logged_total",
			Help:      "Chat messages stored.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Bot commands handled by command name.",
		}, []string{"command"}),
		CompletionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_errors_total",
			Help:      "Failed completion requests by operation.",
		}, []string{"op"}),
		CompletionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_seconds",
			Help:      "Completion request latency by operation.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.MessagesLogged,
		m.Commands,
		m.CompletionErrors,
		m.CompletionLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveMessage() {
	m.MessagesLogged.Inc()
}

func (m *Metrics) ObserveCommand(command string) {
	m.Commands.WithLabelValues(command).Inc()
}

// ObserveCompletion satisfies llm.Observer.
func (m *Metrics) ObserveCompletion(op string, took time.Duration, err error) {
	m.CompletionLatency.WithLabelValues(op).Observe(took.Seconds())
	if err != nil {
		m.CompletionErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
