package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/metrics"
)

// PrometheusMetrics records request latency/status for every route,
// grounded on the teacher's internal/middleware/prometheus.go
// active-request-gauge-plus-wrapped-status-code idiom.
func PrometheusMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		start := time.Now()
		wrapper := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(wrapper, r)

		metrics.RecordAPIRequest(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode), time.Since(start))
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
