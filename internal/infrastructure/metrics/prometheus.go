package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "approval"

// Recorder collects engine measurements on its own registry
type Recorder struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	lockWait    *prometheus.HistogramVec
	publishes   *prometheus.CounterVec
}

// NewRecorder creates a recorder. Go runtime and process collectors are registered
// alongside the engine metrics when withRuntime is set.
func NewRecorder(namespace string, withRuntime bool) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow operations by action and result.",
		}, []string{"action", "result"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the request lock.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"acquired"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_published_total",
			Help:      "Completion publish attempts by outcome and result.",
		}, []string{"outcome", "result"}),
	}

	r.registry.MustRegister(r.transitions, r.lockWait, r.publishes)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// ObserveTransition counts a workflow operation
func (r *Recorder) ObserveTransition(action, result string) {
	r.transitions.WithLabelValues(action, result).Inc()
}

// ObserveLockWait records how long a lock acquisition took
func (r *Recorder) ObserveLockWait(wait time.Duration, acquired bool) {
	label := "false"
	if acquired {
		label = "true"
	}
	r.lockWait.WithLabelValues(label).Observe(wait.Seconds())
}

// ObservePublish counts a completion publish attempt
func (r *Recorder) ObservePublish(outcome string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.publishes.WithLabelValues(outcome, result).Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
