// Package metrics holds the Prometheus instruments for the booth. HTTP
// request metrics are recorded by the api middleware; business metrics are
// updated from the session and picture packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts sessions that were opened and acknowledged
	// by a display client.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booth_sessions_started_total",
		Help: "Sessions that entered the START state",
	})

	// SessionsClosed counts terminal transitions by close status
	// (validated, unvalidated, timeout, killed, aborted).
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booth_sessions_closed_total",
		Help: "Sessions that reached END, by close status",
	}, []string{"status"})

	// PicturesProcessed counts pipeline runs by result.
	PicturesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booth_pictures_processed_total",
		Help: "Picture pipeline runs, by result",
	}, []string{"result"})

	// LiveSessions is the number of sessions currently in the registry.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "booth_live_sessions",
		Help: "Sessions currently held by the registry",
	})

	// HTTPRequests counts HTTP requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booth_http_requests_total",
		Help: "HTTP requests, by method, route and status",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency by method and route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
