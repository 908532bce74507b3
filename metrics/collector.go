// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
)

// Collector implements engine.Observer using Prometheus
type Collector struct {
	blocksRendered  prometheus.Counter
	renderDuration  prometheus.Histogram
	activeInstances prometheus.Gauge
	peak            *prometheus.GaugeVec
	activations     *prometheus.CounterVec
	deactivations   *prometheus.CounterVec
	updatesApplied  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	compileFailures prometheus.Counter
	scoreRejections prometheus.Counter
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector creates a new Prometheus metrics collector, registering its
// metrics with reg. A nil reg means the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		blocksRendered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kantele_blocks_rendered_total",
				Help: "Total number of sample blocks rendered",
			},
		),
		renderDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kantele_block_render_duration_seconds",
				Help:    "Time spent rendering one block, including the sync point",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01},
			},
		),
		activeInstances: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kantele_active_instances",
				Help: "Number of currently sounding instrument instances",
			},
		),
		peak: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kantele_output_peak",
				Help: "Absolute peak of the last block relative to 0dbfs",
			},
			[]string{"channel"},
		),
		activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kantele_instances_activated_total",
				Help: "Total number of instrument instances activated",
			},
			[]string{"instr"},
		),
		deactivations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kantele_instances_deactivated_total",
				Help: "Total number of instrument instances deactivated",
			},
			[]string{"instr"},
		),
		updatesApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kantele_updates_applied_total",
				Help: "Total number of live updates applied at a sync point",
			},
			[]string{"kind"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kantele_events_dropped_total",
				Help: "Total number of score events that could not be honored",
			},
			[]string{"reason"},
		),
		compileFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kantele_compile_failures_total",
				Help: "Total number of rejected compile requests",
			},
		),
		scoreRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kantele_score_rejections_total",
				Help: "Total number of rejected score requests",
			},
		),
	}
}

// BlockRendered records the render time, active instances and peak of a block
func (c *Collector) BlockRendered(elapsed time.Duration, active int, peak [2]float32) {
	c.blocksRendered.Inc()
	c.renderDuration.Observe(elapsed.Seconds())
	c.activeInstances.Set(float64(active))
	c.peak.WithLabelValues("left").Set(float64(peak[0]))
	c.peak.WithLabelValues("right").Set(float64(peak[1]))
}

func (c *Collector) InstanceActivated(id kantele.InstrumentID) {
	c.activations.WithLabelValues(string(id)).Inc()
}

func (c *Collector) InstanceDeactivated(id kantele.InstrumentID) {
	c.deactivations.WithLabelValues(string(id)).Inc()
}

// UpdateApplied counts applied updates by kind ("compile" or "score")
func (c *Collector) UpdateApplied(kind string) {
	c.updatesApplied.WithLabelValues(kind).Inc()
}

// EventDropped counts dropped events by the error that dropped them
func (c *Collector) EventDropped(id kantele.InstrumentID, err error) {
	c.eventsDropped.WithLabelValues(reason(err)).Inc()
}

func (c *Collector) CompileFailed(err error) {
	c.compileFailures.Inc()
}

func (c *Collector) ScoreRejected(err error) {
	c.scoreRejections.Inc()
}

func reason(err error) string {
	switch {
	case errors.Is(err, kantele.ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, kantele.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, kantele.ErrEngine):
		return "engine"
	}
	return "other"
}
