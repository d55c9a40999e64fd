// Package metrics provides Prometheus metrics for the file-tree engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mutation metrics
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_mutations_total",
			Help: "Total number of tree mutations by operation and outcome",
		},
		[]string{"op", "status"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetree_mutation_duration_seconds",
			Help:    "Remote mutation duration in seconds, including the follow-up refresh",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	pendingPlaceholders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filetree_pending_placeholders",
			Help: "Number of optimistic placeholders currently shown",
		},
	)

	// Listing metrics
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_refresh_total",
			Help: "Total authoritative list refreshes",
		},
		[]string{"source", "status"},
	)

	refreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetree_refresh_duration_seconds",
			Help:    "Time to fetch and rebuild a tree",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	treeNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filetree_tree_nodes",
			Help: "Number of nodes in the last built tree",
		},
		[]string{"source"},
	)

	treeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filetree_path_conflicts_total",
			Help: "File records dropped because a folder claims the same path",
		},
	)

	// Drive metrics
	driveFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_drive_fetches_total",
			Help: "Drive listing requests by kind (root, children) and outcome",
		},
		[]string{"kind", "status"},
	)

	// Storage backend metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetree_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetree_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Event metrics
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_events_total",
			Help: "Total change events published to renderers",
		},
		[]string{"type"},
	)

	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filetree_event_subscribers_active",
			Help: "Number of active event subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordMutation records a finished mutation.
func RecordMutation(op string, duration time.Duration, success bool) {
	mutationsTotal.WithLabelValues(op, status(success)).Inc()
	mutationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMutationSkipped records a mutation rejected before any remote call.
func RecordMutationSkipped(op string) {
	mutationsTotal.WithLabelValues(op, "skipped").Inc()
}

// SetPendingPlaceholders sets the number of visible placeholders.
func SetPendingPlaceholders(n int) {
	pendingPlaceholders.Set(float64(n))
}

// RecordRefresh records an authoritative refresh.
func RecordRefresh(source string, duration time.Duration, success bool) {
	refreshTotal.WithLabelValues(source, status(success)).Inc()
	refreshDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// SetTreeNodes sets the node count of the last built tree.
func SetTreeNodes(source string, n int) {
	treeNodes.WithLabelValues(source).Set(float64(n))
}

// RecordConflicts counts dropped file records.
func RecordConflicts(n int) {
	treeConflicts.Add(float64(n))
}

// RecordDriveFetch records a drive listing request.
func RecordDriveFetch(kind string, success bool) {
	driveFetchesTotal.WithLabelValues(kind, status(success)).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordEvent records a published change event.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// SetSubscribersActive sets the number of event subscribers.
func SetSubscribersActive(n int) {
	subscribersActive.Set(float64(n))
}
