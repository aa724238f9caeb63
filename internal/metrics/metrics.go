// Package metrics collects Prometheus metrics for cowfork runs.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"github.com/kahiteam/cowfork/internal/events"
)

// Namespace prefixes every cowfork-specific metric.
const Namespace = "cowfork"

// Collector holds all cowfork-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	EnvCreatedTotal     prometheus.Counter
	EnvExitTotal        *prometheus.CounterVec
	PageFaultsTotal     prometheus.Counter
	FrameExhaustedTotal prometheus.Counter
	FramesFree          prometheus.Gauge
	BuildInfo           *prometheus.GaugeVec
}

// New creates and registers all cowfork metrics on a private registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		EnvCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "env_created_total",
			Help:      "Total number of environments created.",
		}),

		EnvExitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "env_exit_total",
				Help:      "Total number of environment exits by outcome.",
			},
			[]string{"outcome"},
		),

		PageFaultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "page_faults_total",
			Help:      "Total number of page faults delivered to user handlers.",
		}),

		FrameExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frame_exhausted_total",
			Help:      "Total number of allocations refused for lack of frames.",
		}),

		FramesFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "frames_free",
			Help:      "Physical frames currently free.",
		}),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "info",
				Help:      "Build information about cowfork.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.EnvCreatedTotal,
		c.EnvExitTotal,
		c.PageFaultsTotal,
		c.FrameExhaustedTotal,
		c.FramesFree,
		c.BuildInfo,
	)

	return c
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// SetFramesFree sets the free frame gauge directly.
func (c *Collector) SetFramesFree(n int) {
	c.FramesFree.Set(float64(n))
}

// Attach subscribes the collector to kernel events on bus and returns the
// subscription ids.
func (c *Collector) Attach(bus *events.Bus) []uint64 {
	return bus.SubscribeAll(c.observe,
		events.EnvCreated,
		events.EnvRunnable,
		events.EnvExited,
		events.EnvAborted,
		events.PageFault,
		events.FrameExhausted,
	)
}

func (c *Collector) observe(e events.Event) {
	switch e.Type {
	case events.EnvCreated:
		c.EnvCreatedTotal.Inc()
	case events.EnvExited:
		c.EnvExitTotal.WithLabelValues("exited").Inc()
	case events.EnvAborted:
		c.EnvExitTotal.WithLabelValues("aborted").Inc()
	case events.PageFault:
		c.PageFaultsTotal.Inc()
	case events.FrameExhausted:
		c.FrameExhaustedTotal.Inc()
	}
	if e.Env != 0 {
		c.FramesFree.Set(float64(e.FramesFree))
	}
}

// WriteText writes the registry in the Prometheus text exposition format.
// With prefixes set, only metric families whose names start with one of
// them are written.
func (c *Collector) WriteText(w io.Writer, prefixes ...string) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("cannot gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if !matchPrefix(mf.GetName(), prefixes) {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("cannot encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func matchPrefix(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
