// Package metrics holds the Prometheus collectors of the service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var serviceLabel = prometheus.Labels{"service": "checkpoint"}

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests.",
			ConstLabels: serviceLabel,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "Duration of HTTP requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: serviceLabel,
		},
		[]string{"method", "path"},
	)

	// SaveOperationsTotal counts save store operations by op and result.
	SaveOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "checkpoint_save_operations_total",
			Help:        "Save operations by operation and result.",
			ConstLabels: serviceLabel,
		},
		[]string{"op", "result"},
	)

	BlobBytesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "checkpoint_blob_bytes_stored_total",
			Help:        "Bytes of save payload written to the blob store.",
			ConstLabels: serviceLabel,
		},
	)

	BlobsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "checkpoint_blobs_swept_total",
			Help:        "Orphaned blobs removed by the sweeper.",
			ConstLabels: serviceLabel,
		},
	)

	TitleCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "checkpoint_title_cache_lookups_total",
			Help:        "Title listing cache lookups by result.",
			ConstLabels: serviceLabel,
		},
		[]string{"result"},
	)
)

// MustRegister registers every collector with reg. Call it once at startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		SaveOperationsTotal,
		BlobBytesStoredTotal,
		BlobsSweptTotal,
		TitleCacheLookupsTotal,
	)
}
