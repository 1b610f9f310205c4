// Package metrics exposes Prometheus instrumentation for the
// document-collaboration core: rooms active, changes ingested, merges
// run/failed, broadcast failures.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crdtcollab",
		Name:      "rooms_active",
		Help:      "Number of documents with at least one live connection.",
	})

	ChangesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crdtcollab",
		Name:      "changes_ingested_total",
		Help:      "Total change records successfully appended to the log.",
	})

	ChangesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crdtcollab",
		Name:      "changes_rejected_total",
		Help:      "Total inbound binary frames rejected by Codec.DecodeChange.",
	})

	MergesRun = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crdtcollab",
		Name:      "merges_run_total",
		Help:      "Total merge cycles that committed successfully.",
	})

	MergesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crdtcollab",
		Name:      "merges_failed_total",
		Help:      "Total merge cycles that rolled back due to an error.",
	})

	BroadcastFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crdtcollab",
		Name:      "broadcast_failures_total",
		Help:      "Total per-recipient broadcast send failures, logged and skipped.",
	})
)

func init() {
	prometheus.MustRegister(RoomsActive, ChangesIngested, ChangesRejected, MergesRun, MergesFailed, BroadcastFailures)
}
