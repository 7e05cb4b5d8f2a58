// Package metrics exports simulation timing as Prometheus metrics.
//
// A Metrics value satisfies network.Observer, so installing it with
// network.WithObserver is all a run needs. Each Metrics owns its registry;
// nothing is registered globally.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daviddao/delaynet/pkg/model"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	reg *prometheus.Registry

	codeObjectSeconds *prometheus.CounterVec
	codeObjectCalls   *prometheus.CounterVec
	tickSeconds       prometheus.Histogram
	ticks             prometheus.Counter
	completed         prometheus.Gauge
	spikes            *prometheus.CounterVec
	runs              *prometheus.CounterVec
	queueGrows        *prometheus.GaugeVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		codeObjectSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delaynet_codeobject_seconds_total",
			Help: "Wall time spent executing each code object",
		}, []string{"codeobject"}),
		codeObjectCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delaynet_codeobject_calls_total",
			Help: "Number of executions of each code object",
		}, []string{"codeobject"}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delaynet_tick_seconds",
			Help:    "Wall time per simulated tick",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delaynet_ticks_total",
			Help: "Simulated ticks executed",
		}),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delaynet_run_completed_ratio",
			Help: "Completed fraction of the current run",
		}),
		spikes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delaynet_spikes_total",
			Help: "Recorded spikes per neuron group",
		}, []string{"group"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delaynet_runs_total",
			Help: "Finished runs by status",
		}, []string{"status"}),
		queueGrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "delaynet_queue_grows",
			Help: "Times each pathway's delay buffer was enlarged",
		}, []string{"pathway"}),
	}
	m.reg.MustRegister(
		m.codeObjectSeconds, m.codeObjectCalls, m.tickSeconds, m.ticks,
		m.completed, m.spikes, m.runs, m.queueGrows,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveCodeObject(name string, d time.Duration) {
	m.codeObjectSeconds.WithLabelValues(name).Add(d.Seconds())
	m.codeObjectCalls.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickSeconds.Observe(d.Seconds())
	m.ticks.Inc()
}

func (m *Metrics) ObserveCompleted(fraction float64) { m.completed.Set(fraction) }

// ObserveSpikes adds n recorded spikes for group.
func (m *Metrics) ObserveSpikes(group string, n int) {
	m.spikes.WithLabelValues(group).Add(float64(n))
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(status model.RunStatus) {
	m.runs.WithLabelValues(string(status)).Inc()
}

// ObserveQueue records how often a pathway's buffer has grown.
func (m *Metrics) ObserveQueue(pathway string, grows int) {
	m.queueGrows.WithLabelValues(pathway).Set(float64(grows))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
