// Package metrics exposes the process-wide Prometheus registry.
//
// Grounded on cuemby-warren's pkg/metrics/metrics.go: package-level
// prometheus.NewX vars registered in init(), a Timer helper for histogram
// observation, and an http.Handler for the scrape endpoint. Gauge/counter
// names are renamed from warren's container-orchestration domain
// (nodes/services/containers) to this spec's graph/consensus/dispatch
// domain (resources/events/raft-apply/search), same shape otherwise.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Graph metrics (component C).
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_nodes_total",
			Help: "Total number of nodes by kind",
		},
		[]string{"kind"},
	)

	EdgesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_edges_total",
			Help: "Total number of edges by kind",
		},
		[]string{"kind"},
	)

	// Raft / consensus metrics (component H).
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftProposeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_raft_propose_duration_seconds",
			Help:    "Time taken for Propose to return after a commit decision",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatch metrics (component I).
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_transactions_total",
			Help: "Total number of applied transactions by handler tag and outcome",
		},
		[]string{"tag", "outcome"},
	)

	// Event log metrics (component J).
	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_events_appended_total",
			Help: "Total number of events appended to the log",
		},
	)

	SubscriberPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_subscriber_poll_duration_seconds",
			Help:    "Time taken to serve a subscriber poll",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Search metrics (component D).
	SearchQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_search_query_duration_seconds",
			Help:    "Time taken to execute a search query",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchDocsIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_search_docs_indexed_total",
			Help: "Total number of documents ingested into the search index",
		},
	)

	// Authorization kernel metrics (component F).
	AuthzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_authz_decisions_total",
			Help: "Total number of authorization decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Rule engine metrics (component G).
	RuleEvalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_rule_eval_total",
			Help: "Total number of rule evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// gRPC transport metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_api_requests_total",
			Help: "Total number of command-surface requests by command and status",
		},
		[]string{"command", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_api_request_duration_seconds",
			Help:    "Command-surface request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		EdgesTotal,
		RaftIsLeader,
		RaftPeersTotal,
		RaftApplyDuration,
		RaftProposeDuration,
		TransactionsTotal,
		EventsAppendedTotal,
		SubscriberPollDuration,
		SearchQueryDuration,
		SearchDocsIndexedTotal,
		AuthzDecisionsTotal,
		RuleEvalTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing an operation and observing it into a
// histogram, identical in shape to warren's metrics.Timer.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
