package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// knownRoutes bounds the route label to the registered endpoints.
// Caller-controlled paths must never mint new series.
var knownRoutes = map[string]struct{}{
	"/":                    {},
	"/chat/completions":    {},
	"/v1/chat/completions": {},
	"/models":              {},
	"/v1/models":           {},
	"/health/live":         {},
	"/health/ready":        {},
	"/admin/cache/stats":   {},
	"/metrics":             {},
}

func routeLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return "other"
}

// Middleware returns an HTTP middleware that records end-to-end
// latency per route. Provider and model specific metrics are recorded
// inside the router.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		HTTPLatency.WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(recorder.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}
