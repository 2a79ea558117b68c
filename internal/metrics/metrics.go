// Package metrics provides Prometheus metrics for the fileshelf server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileshelf_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileshelf_actions_total",
			Help: "Dispatched actions by name and result code",
		},
		[]string{"action", "code"},
	)

	actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileshelf_action_duration_seconds",
			Help:    "Action handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	archiveBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshelf_archive_bytes_total",
			Help: "Total archive bytes streamed to clients",
		},
	)

	archiveEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshelf_archive_entries_total",
			Help: "Total files added to streamed archives",
		},
	)

	archiveAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshelf_archive_aborted_total",
			Help: "Archive streams that ended before completion",
		},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshelf_upload_bytes_total",
			Help: "Total bytes accepted through uploads",
		},
	)
)

// RecordAction records one dispatched action.
func RecordAction(action string, code int, d time.Duration) {
	actionsTotal.WithLabelValues(action, strconv.Itoa(code)).Inc()
	actionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// RecordArchive records a finished or aborted archive stream.
func RecordArchive(entries int, bytes int64, aborted bool) {
	archiveEntriesTotal.Add(float64(entries))
	archiveBytesTotal.Add(float64(bytes))
	if aborted {
		archiveAbortedTotal.Inc()
	}
}

// RecordUpload records accepted upload bytes.
func RecordUpload(bytes int64) {
	uploadBytesTotal.Add(float64(bytes))
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware counts HTTP requests by method and status.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
	})
}
