package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/totoroyyb/movecam/internal/throttle"
)

// metrics exports the server's request counters and the live throttle
// state on a private registry.
type metrics struct {
	registry *prometheus.Registry

	requests prometheus.Counter
	dropped  prometheus.Counter
	failures prometheus.Counter
}

func newMetrics(ctrl *throttle.Controller) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movecam_server_requests_total",
			Help: "Connections accepted by the inference server.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movecam_server_dropped_total",
			Help: "Requests rejected by admission control.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movecam_server_failures_total",
			Help: "Requests that failed before a response was written.",
		}),
	}

	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "movecam_server_running_handlers",
		Help: "Handlers currently in flight.",
	}, func() float64 { return float64(ctrl.Running()) })

	interval := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "movecam_server_admission_interval_ms",
		Help: "Current adaptive admission interval.",
	}, func() float64 { return float64(ctrl.Interval()) })

	m.registry.MustRegister(m.requests, m.dropped, m.failures, running, interval)
	return m
}

// Handler serves the metrics endpoint.
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
