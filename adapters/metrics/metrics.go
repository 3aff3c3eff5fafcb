// Package metrics provides Prometheus metrics collection for mcplaunch.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcplaunch"

// Collector holds all Prometheus metrics for mcplaunch.
type Collector struct {
	// Launch metrics
	LaunchAttempts *prometheus.CounterVec
	LaunchDuration prometheus.Histogram

	// Module metrics
	ChildRunning prometheus.Gauge
	ChildExits   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// NewWithRegistry creates a metrics collector registered on reg. The
// launcher keeps a private registry so only its own series are exported.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		LaunchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launch_attempts_total",
				Help:      "Total number of module launch attempts by outcome",
			},
			[]string{"outcome"},
		),
		LaunchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "launch_duration_seconds",
				Help:      "Time from launch start to load success or failure",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 10, 30},
			},
		),
		ChildRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "child_running",
				Help:      "1 while the loaded module process is running",
			},
		),
		ChildExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "child_exits_total",
				Help:      "Total number of loaded module exits by exit code",
			},
			[]string{"code"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// Attempted records the outcome of a launch attempt.
func (c *Collector) Attempted(r launch.Result) {
	c.LaunchAttempts.WithLabelValues(string(r.State)).Inc()
	c.LaunchDuration.Observe(r.Duration.Seconds())
	if r.Succeeded() {
		c.ChildRunning.Set(1)
	}
}

// Exited records the exit of a loaded module.
func (c *Collector) Exited(exitCode int) {
	c.ChildRunning.Set(0)
	c.ChildExits.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// RecordConfigReload records a config reload result.
func (c *Collector) RecordConfigReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(time.Now().Unix()))
}

var _ ports.LaunchObserver = (*Collector)(nil)
