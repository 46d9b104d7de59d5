package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fidolock_http_requests_total",
		Help: "HTTP requests processed, partitioned by path and status code.",
	}, []string{"path", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fidolock_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricPath collapses path parameters so that every volume or backup does
// not get its own label value.
func metricPath(p string) string {
	switch {
	case strings.HasPrefix(p, "/api/records/"):
		return "/api/records/{uuid}"
	case strings.HasPrefix(p, "/api/backups/"):
		if strings.HasSuffix(p, "/complete") {
			return "/api/backups/{id}/complete"
		}
		if strings.HasSuffix(p, "/latest") {
			return "/api/backups/{uuid}/latest"
		}
		return "/api/backups/{id}"
	default:
		return p
	}
}
