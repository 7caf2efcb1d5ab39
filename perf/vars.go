package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AllocationLatency  = metric.NewHistogram("1h1m")
	DispatchLatency    = metric.NewHistogram("1h1m")
	FragmentsPerSecond = metric.NewCounter("10s1s")
	ReportsPerSecond   = metric.NewCounter("10s1s")
)

var (
	TopologyNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "weft",
		Subsystem: "topology",
		Name:      "nodes",
		Help:      "Number of nodes with a tracked parent set.",
	})
	TopologyEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "topology",
		Name:      "evictions_total",
		Help:      "Nodes dropped because they were not reconfirmed in time.",
	})
	Allocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "schedule",
		Name:      "allocations_total",
		Help:      "Allocation passes by algorithm and result.",
	}, []string{"algorithm", "result"})
	ScheduleEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "weft",
		Subsystem: "schedule",
		Name:      "entries",
		Help:      "Entries in the committed schedule table.",
	})
	DispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "dispatch",
		Name:      "failures_total",
		Help:      "Nodes whose schedule could not be delivered.",
	}, []string{"role"})
)

func init() {
	prometheus.MustRegister(TopologyNodes, TopologyEvictions, Allocations, ScheduleEntries, DispatchFailures)
	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))

	expvar.Publish("weft:AllocationLatency (µs)", AllocationLatency)
	expvar.Publish("weft:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("weft:Fragments/s", FragmentsPerSecond)
	expvar.Publish("weft:Reports/s", ReportsPerSecond)
}
