// Package metrics wraps the prometheus/client_golang collectors of the
// autonomy engine. The engine updates the cycle, in-flight, trigger, and
// approval metrics; TaskDuration, TaskFailuresTotal, and
// PluginHookFailures are registered but not updated by any component in
// this module. It is a thin injectable collaborator: nil-safe like
// logging.Logger, so components that don't care about metrics never
// need to guard against a missing collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector is the fixed set of counters/gauges/histograms registered for
// the engine (see the package comment for which ones it updates). Fields
// are exported so a caller can register a subset
// against a custom prometheus.Registerer, or use DefaultRegistry's
// MustRegister-everything behavior via New.
type Collector struct {
	CyclesTotal       *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	TaskFailuresTotal  *prometheus.CounterVec
	ApprovalDenials    *prometheus.CounterVec
	TriggerFiresTotal  *prometheus.CounterVec
	PluginHookFailures *prometheus.CounterVec
	CyclesInFlight     prometheus.Gauge
}

// New constructs a Collector and registers every metric against reg. A
// nil reg uses prometheus.DefaultRegisterer, matching the package-level
// convenience most prometheus client consumers use for a single-process
// binary.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy",
			Name:      "cycles_total",
			Help:      "Total cycles run, labeled by kind and final status.",
		}, []string{"kind", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autonomy",
			Name:      "task_duration_seconds",
			Help:      "Task handler execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		TaskFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy",
			Name:      "task_failures_total",
			Help:      "Total task failures, labeled by task and error kind.",
		}, []string{"task", "kind"}),
		ApprovalDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy",
			Name:      "approval_denials_total",
			Help:      "Total dispatches skipped by the approval gate, labeled by subject.",
		}, []string{"subject"}),
		TriggerFiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy",
			Name:      "trigger_fires_total",
			Help:      "Total trigger fires, labeled by trigger id and action.",
		}, []string{"trigger", "action"}),
		PluginHookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy",
			Name:      "plugin_hook_failures_total",
			Help:      "Total plugin hook errors/panics, labeled by plugin and hook.",
		}, []string{"plugin", "hook"}),
		CyclesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autonomy",
			Name:      "cycles_in_flight",
			Help:      "Number of cycles currently running (0 or 1 per kind in practice).",
		}),
	}
	reg.MustRegister(c.CyclesTotal, c.TaskDuration, c.TaskFailuresTotal, c.ApprovalDenials, c.TriggerFiresTotal, c.PluginHookFailures, c.CyclesInFlight)
	return c
}

// OrNop returns c unchanged, or, if c is nil, a Collector registered only
// against a fresh private registry that nothing gathers, so callers can
// unconditionally call its methods.
func OrNop(c *Collector) *Collector {
	if c != nil {
		return c
	}
	return New(prometheus.NewRegistry())
}
