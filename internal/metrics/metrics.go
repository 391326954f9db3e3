// Package metrics provides Prometheus metrics for the landrop server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrop_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landrop_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "landrop_bytes_uploaded_total",
			Help: "Total bytes stored by uploads",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "landrop_bytes_downloaded_total",
			Help: "Total bytes served by downloads",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrop_uploads_total",
			Help: "Uploaded files by outcome",
		},
		[]string{"status"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrop_operations_total",
			Help: "Tree operations by kind and outcome",
		},
		[]string{"op", "status"},
	)

	authChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrop_auth_checks_total",
			Help: "Access password checks",
		},
		[]string{"result"},
	)

	thumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landrop_thumbnails_total",
			Help: "Thumbnail requests by cache outcome",
		},
		[]string{"result"},
	)

	ftpClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "landrop_ftp_clients_active",
			Help: "Number of connected FTP clients",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordUpload records one stored file.
func RecordUpload(bytes int64, success bool) {
	if success {
		bytesUploaded.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordDownload records bytes sent for a download.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordOperation records a mkdir, rename, move or delete.
func RecordOperation(op string, success bool) {
	operationsTotal.WithLabelValues(op, outcome(success)).Inc()
}

func RecordAuthCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	authChecksTotal.WithLabelValues(result).Inc()
}

// RecordThumbnail records whether a thumbnail came from the cache.
func RecordThumbnail(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	thumbnailsTotal.WithLabelValues(result).Inc()
}

func FTPClientConnected()    { ftpClientsActive.Inc() }
func FTPClientDisconnected() { ftpClientsActive.Dec() }

// Middleware records request count and duration labelled by chi route
// pattern, so file names never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
