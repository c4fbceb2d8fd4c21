// Package metrics exports lifecycle events as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe"
)

const (
	namespace = "webserver"
	subsystem = "http"

	// unmatchedRoute labels requests no binding matched, so raw paths never
	// become label values.
	unmatchedRoute = "unmatched"
)

// Observer records request counters, latencies and errors.
type Observer struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
	errors   *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// New registers the collectors on reg. It panics if they are already
// registered there, like promauto.
func New(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)

	return &Observer{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of responses sent, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Time from accept to response written",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		bytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "response_bytes_total",
				Help:      "Total bytes written to clients",
			},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Total number of failed exchanges, by stage",
			},
			[]string{"stage"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_in_flight",
				Help:      "Requests parsed but not yet answered",
			},
		),
	}
}

// Observe implements observe.Observer.
func (o *Observer) Observe(e observe.Event) {
	switch e.Kind {
	case observe.RequestReceived:
		o.inFlight.Inc()

	case observe.ResponseSent:
		route := routeLabel(e.Route)
		o.requests.WithLabelValues(e.Method, route, strconv.Itoa(e.Status)).Inc()
		o.duration.WithLabelValues(e.Method, route).Observe(e.Duration.Seconds())
		o.bytes.Add(float64(e.Bytes))
		if e.Method != "" {
			o.inFlight.Dec()
		}

	case observe.HandlerFailed:
		o.errors.WithLabelValues(string(observe.StageHandler)).Inc()

	case observe.ConnectionError:
		o.errors.WithLabelValues(string(e.Stage)).Inc()
		// A request that was parsed but never answered
		if e.Method != "" && e.Stage != observe.StageParse {
			o.inFlight.Dec()
		}
	}
}

func routeLabel(route string) string {
	if route == "" {
		return unmatchedRoute
	}
	return route
}
