package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/hwserial/internal/sampler"
	"github.com/skobkin/hwserial/internal/version"
)

const metricsNamespace = "hwserial"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	build := version.Current()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "build_info",
			Help:        "Build metadata of the running binary.",
			ConstLabels: prometheus.Labels{"version": build.Version, "commit": build.Commit},
		}, func() float64 { return 1 }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if s.loop != nil {
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "serial",
				Name:      "ticks_total",
				Help:      "Total sampling ticks started.",
			}, func() float64 {
				return float64(s.loop.Ticks())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "serial",
				Name:      "write_failures_total",
				Help:      "Total frames the serial device rejected.",
			}, func() float64 {
				return float64(s.loop.WriteFailures())
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "serial",
				Name:      "loop_state",
				Help:      "Sample loop state (0 initializing, 1 running, 2 shutting down, 3 stopped).",
			}, func() float64 {
				return float64(s.loop.State())
			}),
			newSampleCollector(s.loop),
		)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

type sampleCollector struct {
	loop    *sampler.Loop
	metrics []sampleMetric
}

type sampleMetric struct {
	desc    *prometheus.Desc
	extract func(sample sampler.Sample) (float64, bool)
}

func newSampleCollector(loop *sampler.Loop) *sampleCollector {
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, subsystem, name),
			help,
			nil,
			nil,
		)
	}
	always := func(value func(sampler.Sample) float64) func(sampler.Sample) (float64, bool) {
		return func(sample sampler.Sample) (float64, bool) { return value(sample), true }
	}
	withGPU := func(value func(sampler.Sample) float64) func(sampler.Sample) (float64, bool) {
		return func(sample sampler.Sample) (float64, bool) {
			if sample.GPU == nil {
				return 0, false
			}
			return value(sample), true
		}
	}

	return &sampleCollector{
		loop: loop,
		metrics: []sampleMetric{
			{
				desc:    desc("cpu", "usage_percent", "CPU utilization of the latest tick."),
				extract: always(func(s sampler.Sample) float64 { return float64(s.CPUUsagePercent) }),
			},
			{
				desc:    desc("cpu", "temperature_celsius", "CPU temperature of the latest tick, 0 when unavailable."),
				extract: always(func(s sampler.Sample) float64 { return float64(s.CPUTempC) }),
			},
			{
				desc:    desc("cpu", "power_watts", "CPU package power of the latest tick, 0 when unavailable."),
				extract: always(func(s sampler.Sample) float64 { return float64(s.CPUPowerW) }),
			},
			{
				desc:    desc("ram", "usage_percent", "RAM utilization of the latest tick."),
				extract: always(func(s sampler.Sample) float64 { return float64(s.RAMUsagePercent) }),
			},
			{
				desc:    desc("ram", "used_gibibytes", "RAM in use in GiB."),
				extract: always(func(s sampler.Sample) float64 { return s.RAMUsedGiB }),
			},
			{
				desc:    desc("ram", "total_gibibytes", "Installed RAM in GiB."),
				extract: always(func(s sampler.Sample) float64 { return s.RAMTotalGiB }),
			},
			{
				desc:    desc("gpu", "usage_percent", "GPU utilization of the latest tick."),
				extract: withGPU(func(s sampler.Sample) float64 { return float64(s.GPU.UsagePercent) }),
			},
			{
				desc:    desc("gpu", "temperature_celsius", "GPU temperature of the latest tick."),
				extract: withGPU(func(s sampler.Sample) float64 { return float64(s.GPU.TempC) }),
			},
			{
				desc:    desc("gpu", "power_watts", "GPU power draw of the latest tick."),
				extract: withGPU(func(s sampler.Sample) float64 { return float64(s.GPU.PowerW) }),
			},
			{
				desc:    desc("gpu", "memory_used_bytes", "GPU memory in use in bytes."),
				extract: withGPU(func(s sampler.Sample) float64 { return float64(s.GPU.MemUsedBytes) }),
			},
			{
				desc:    desc("gpu", "memory_total_bytes", "GPU memory capacity in bytes."),
				extract: withGPU(func(s sampler.Sample) float64 { return float64(s.GPU.MemTotalBytes) }),
			},
			{
				desc: desc("", "sample_age_seconds", "Seconds elapsed since the latest tick was collected."),
				extract: func(s sampler.Sample) (float64, bool) {
					if s.Timestamp.IsZero() {
						return 0, false
					}
					return max(time.Since(s.Timestamp).Seconds(), 0), true
				},
			},
		},
	}
}

func (c *sampleCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *sampleCollector) Collect(ch chan<- prometheus.Metric) {
	sample, ok := c.loop.Latest()
	if !ok {
		return
	}
	for _, metric := range c.metrics {
		value, ok := metric.extract(sample)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value)
	}
}
