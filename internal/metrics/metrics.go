// Package metrics exposes planner counters and timings to prometheus.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests can create as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	allocationTime  prometheus.Histogram
	conflicts       prometheus.Counter
	priceReductions prometheus.Histogram
	drafts          *prometheus.CounterVec
	estimations     *prometheus.CounterVec
}

// New creates a recorder with process and Go runtime collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lpbf",
			Name:      "allocation_decisions_total",
			Help:      "Allocation attempts by recorded decision.",
		}, []string{"decision"}),
		allocationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lpbf",
			Name:      "allocation_duration_seconds",
			Help:      "Wall time of allocate and unassign calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lpbf",
			Name:      "allocation_conflicts_total",
			Help:      "Allocation attempts restarted because the run changed.",
		}),
		priceReductions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lpbf",
			Name:      "price_reduction_percent",
			Help:      "Price reduction of parts after joining a run.",
			Buckets:   []float64{1, 2.5, 5, 10, 15, 20, 30, 50},
		}),
		drafts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lpbf",
			Name:      "notification_drafts_total",
			Help:      "Drafting attempts by result.",
		}, []string{"result"}),
		estimations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lpbf",
			Name:      "estimations_total",
			Help:      "Estimation calls by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(
		r.decisions, r.allocationTime, r.conflicts, r.priceReductions, r.drafts, r.estimations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveDecision(decision string, took time.Duration) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(decision).Inc()
	r.allocationTime.Observe(took.Seconds())
}

func (r *Recorder) ObserveConflict() {
	if r == nil {
		return
	}
	r.conflicts.Inc()
}

func (r *Recorder) ObservePriceReduction(percent float64) {
	if r == nil {
		return
	}
	r.priceReductions.Observe(percent)
}

func (r *Recorder) ObserveDraft(err error) {
	if r == nil {
		return
	}
	r.drafts.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) ObserveEstimation(err error) {
	if r == nil {
		return
	}
	r.estimations.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
