// Package metrics collects generation metrics in a private Prometheus
// registry. The CLI writes them as a node-exporter textfile at the end of a
// run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "melnet"

// Generation records sampling progress. A nil *Generation is a no-op.
type Generation struct {
	registry *prometheus.Registry

	steps       prometheus.Counter
	runs        *prometheus.CounterVec
	stepSeconds prometheus.Histogram
	termination prometheus.Gauge
	frames      prometheus.Gauge
}

func NewGeneration() *Generation {
	g := &Generation{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_steps_total",
			Help:      "Autoregressive sampling steps executed.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Finished generations by stop reason.",
		}, []string{"reason"}),
		stepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_step_duration_seconds",
			Help:      "Wall time of one sampling step, including history replay.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		termination: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "termination_last",
			Help:      "Smallest per-row termination signal of the latest step.",
		}),
		frames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generated_frames",
			Help:      "Frames produced by the latest generation.",
		}),
	}

	g.registry.MustRegister(g.steps, g.runs, g.stepSeconds, g.termination, g.frames)
	g.registry.MustRegister(collectors.NewGoCollector())

	return g
}

// ObserveStep records one sampling step.
func (g *Generation) ObserveStep(d time.Duration, termination float64) {
	if g == nil {
		return
	}

	g.steps.Inc()
	g.stepSeconds.Observe(d.Seconds())
	g.termination.Set(termination)
}

// ObserveRun records a finished generation.
func (g *Generation) ObserveRun(reason string, frames int) {
	if g == nil {
		return
	}

	g.runs.WithLabelValues(reason).Inc()
	g.frames.Set(float64(frames))
}

// WriteTextfile writes all metrics in the text exposition format.
func (g *Generation) WriteTextfile(path string) error {
	if g == nil || path == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, g.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}

	return nil
}
