// Package metrics exposes the goingest measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes the names of the exposed metrics.
const DefaultNamespace = "goingest"

// Opt is a type that modifies the default PrometheusTracker behaviour.
type Opt func(t *PrometheusTracker)

// WithNamespace sets the metric names prefix.
func WithNamespace(namespace string) Opt {
	return func(t *PrometheusTracker) {
		t.namespace = namespace
	}
}

// WithLogger makes the tracker log with the passed logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(t *PrometheusTracker) {
		t.logger = logger
	}
}

// NewPrometheusTracker returns a new instance of the PrometheusTracker registering its metrics in
// its own registry.
func NewPrometheusTracker(opts ...Opt) *PrometheusTracker {
	t := &PrometheusTracker{
		namespace: DefaultNamespace,
		logger:    zap.NewNop(),
		registry:  prometheus.NewRegistry(),
		gauges:    make(map[string]prometheus.Gauge),
		counters:  make(map[string]prometheus.Counter),
		started:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.factory = promauto.With(t.registry)
	return t
}

// PrometheusTracker implements goingest.MetricsTracker on Prometheus gauges. A measurement gets a
// gauge holding its last duration in seconds or its last set value, and a counter of the finished
// measurements.
type PrometheusTracker struct {
	namespace string
	logger    *zap.Logger
	registry  *prometheus.Registry
	factory   promauto.Factory
	mu        sync.Mutex
	gauges    map[string]prometheus.Gauge
	counters  map[string]prometheus.Counter
	started   map[string]time.Time
	now       func() time.Time
}

// Add registers the measurement in the metrics tracker with the following description.
func (t *PrometheusTracker) Add(measurement, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(measurement, description)
}

// Start launches the measurement duration timer.
func (t *PrometheusTracker) Start(measurement string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[measurement] = t.clock()
}

// Stop stops the measurement timer and sets the gauge to the elapsed seconds.
func (t *PrometheusTracker) Stop(measurement string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.started[measurement]
	if !ok {
		return
	}
	delete(t.started, measurement)
	t.add(measurement, "")
	t.gauges[measurement].Set(t.clock().Sub(start).Seconds())
	t.counters[measurement].Inc()
}

// Set sets the measurement gauge. The value must be a number.
func (t *PrometheusTracker) Set(measurement, value string) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		t.logger.Warn("invalid metric value", zap.String("measurement", measurement), zap.String("value", value))
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(measurement, "")
	t.gauges[measurement].Set(v)
}

// Gatherer returns the registry of the tracker metrics.
func (t *PrometheusTracker) Gatherer() prometheus.Gatherer {
	return t.registry
}

// Handler returns the HTTP handler exposing the tracker metrics.
func (t *PrometheusTracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on addr under /metrics until the context is done.
func (t *PrometheusTracker) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	t.logger.Info("serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// add registers the measurement metrics unless they exist. The caller must hold t.mu.
func (t *PrometheusTracker) add(measurement, description string) {
	if _, ok := t.gauges[measurement]; ok {
		return
	}
	if description == "" {
		description = measurement
	}
	t.gauges[measurement] = t.factory.NewGauge(prometheus.GaugeOpts{
		Namespace: t.namespace,
		Name:      measurement,
		Help:      description,
	})
	t.counters[measurement] = t.factory.NewCounter(prometheus.CounterOpts{
		Namespace: t.namespace,
		Name:      measurement + "_total",
		Help:      "Number of finished measurements: " + description,
	})
}

func (t *PrometheusTracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}
