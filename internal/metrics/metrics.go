// Package metrics wraps github.com/prometheus/client_golang to expose
// an observability surface over the kernel harness: heap usage, task
// counts by state, and queue overflow/underflow counters. This is
// purely a read-side view for cmd/flexkerneld serve; nothing here is
// reachable from task code.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the gauges/counters this repository exports.
type Collectors struct {
	HeapTotal      prometheus.Gauge
	HeapUsed       prometheus.Gauge
	HeapPeak       prometheus.Gauge
	TasksByState   *prometheus.GaugeVec
	QueueOverflow  *prometheus.CounterVec
	QueueUnderflow *prometheus.CounterVec
	Ticks          prometheus.Counter
}

// NewCollectors constructs and registers the collectors against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		HeapTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flexkernel", Subsystem: "heap", Name: "total_bytes",
			Help: "Total heap arena size in bytes.",
		}),
		HeapUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flexkernel", Subsystem: "heap", Name: "used_bytes",
			Help: "Currently allocated heap bytes.",
		}),
		HeapPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flexkernel", Subsystem: "heap", Name: "peak_bytes",
			Help: "Peak allocated heap bytes observed.",
		}),
		TasksByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flexkernel", Subsystem: "sched", Name: "tasks",
			Help: "Task count by state.",
		}, []string{"state"}),
		QueueOverflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flexkernel", Subsystem: "queue", Name: "overflow_total",
			Help: "Queue sends that found the queue full: non-blocking sends rejected as FULL, and overwrites that dropped the oldest item.",
		}, []string{"queue"}),
		QueueUnderflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flexkernel", Subsystem: "queue", Name: "underflow_total",
			Help: "Queue receive attempts rejected because the queue was empty.",
		}, []string{"queue"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flexkernel", Subsystem: "sched", Name: "ticks_total",
			Help: "Scheduler ticks processed.",
		}),
	}
	reg.MustRegister(c.HeapTotal, c.HeapUsed, c.HeapPeak, c.TasksByState, c.QueueOverflow, c.QueueUnderflow, c.Ticks)
	return c
}
