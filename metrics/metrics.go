/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var httpReqs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "export_service_http_requests_total",
		Help: "How many HTTP requests processed, partitioned by status code, http method and route.",
	},
	[]string{"code", "method", "route"},
)

var httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "export_service_http_response_time_seconds",
	Help: "Duration of HTTP requests, partitioned by route.",
}, []string{"route"})

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern returns the matched chi pattern so that export uuids do not
// explode the label cardinality. Unrouted requests fall back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			httpDuration.WithLabelValues(routePattern(r)).Observe(v)
		}))
		next.ServeHTTP(rw, r)

		httpReqs.WithLabelValues(strconv.Itoa(rw.statusCode), r.Method, routePattern(r)).Inc()
		timer.ObserveDuration()
	})
}

func init() {
	prometheus.MustRegister(httpReqs)
	prometheus.MustRegister(httpDuration)
}
