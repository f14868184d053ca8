// Package telemetry provides counters and timings for instrument traffic.
//
// The driver packages accept a Collector so that a server deployment can
// export Prometheus metrics while a bench script pays nothing for them.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives events from a device driver
type Collector interface {
	// IncCommand records one command of the given kind ("set", "query", "control")
	IncCommand(kind string)

	// IncCommandError records one failed command of the given kind
	IncCommandError(kind string)

	// ObserveRoundTrip records the wall time of one request/reply transaction
	ObserveRoundTrip(d time.Duration)

	// SetScanProgress records the fraction [0,1] of a 2D scan completed
	SetScanProgress(frac float64)
}

type noop struct{}

func (noop) IncCommand(string)             {}
func (noop) IncCommandError(string)        {}
func (noop) ObserveRoundTrip(time.Duration) {}
func (noop) SetScanProgress(float64)       {}

// Noop returns a Collector that discards everything
func Noop() Collector {
	return noop{}
}

// PromCollector is a Collector backed by Prometheus metrics
type PromCollector struct {
	commands  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	roundTrip prometheus.Histogram
	progress  prometheus.Gauge
}

// NewPromCollector creates a PromCollector and registers its metrics with reg.
// device is attached to every metric as a constant label.
func NewPromCollector(reg prometheus.Registerer, device string) (*PromCollector, error) {
	labels := prometheus.Labels{"device": device}
	c := &PromCollector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lnhrdac_commands_total",
			Help:        "Number of commands sent to the instrument.",
			ConstLabels: labels,
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lnhrdac_command_errors_total",
			Help:        "Number of commands the instrument rejected or that failed in transit.",
			ConstLabels: labels,
		}, []string{"kind"}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lnhrdac_round_trip_seconds",
			Help:        "Wall time of one request/reply transaction.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(100e-6, 4, 8),
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lnhrdac_scan_progress_ratio",
			Help:        "Fraction of the running 2D scan completed.",
			ConstLabels: labels,
		}),
	}
	for _, col := range []prometheus.Collector{c.commands, c.errors, c.roundTrip, c.progress} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// IncCommand records one command of the given kind
func (c *PromCollector) IncCommand(kind string) {
	c.commands.WithLabelValues(kind).Inc()
}

// IncCommandError records one failed command of the given kind
func (c *PromCollector) IncCommandError(kind string) {
	c.errors.WithLabelValues(kind).Inc()
}

// ObserveRoundTrip records the wall time of one transaction
func (c *PromCollector) ObserveRoundTrip(d time.Duration) {
	c.roundTrip.Observe(d.Seconds())
}

// SetScanProgress records the fraction of a 2D scan completed
func (c *PromCollector) SetScanProgress(frac float64) {
	c.progress.Set(frac)
}
