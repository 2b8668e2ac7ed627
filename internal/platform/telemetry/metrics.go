// Package telemetry exposes Prometheus metrics for HTTP traffic, the change
// feed and the patient lifecycle.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icu_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "icu_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
		},
		[]string{"method", "route"},
	)

	admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icu_admissions_total",
			Help: "Total number of admissions",
		},
		[]string{"readmission"},
	)

	dischargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icu_discharges_total",
			Help: "Total number of discharges by discharge condition",
		},
		[]string{"condition"},
	)

	housekeepingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icu_housekeeping_failures_total",
			Help: "Reconciliation task attempts that failed",
		},
		[]string{"task"},
	)

	feedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icu_feed_events_total",
			Help: "Row change events received from the record store",
		},
		[]string{"table", "type"},
	)

	vitalsAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icu_vitals_alerts_total",
			Help: "Vitals recordings that exceeded alert thresholds",
		},
	)

	feedConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "icu_feed_connected",
			Help: "1 while the change feed listener holds a LISTEN connection",
		},
	)
)

// Handler returns the /metrics handler.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request counts and latency by route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordAdmission counts an admission.
func RecordAdmission(readmission bool) {
	admissionsTotal.WithLabelValues(strconv.FormatBool(readmission)).Inc()
}

// RecordDischarge counts a discharge by its discharge condition.
func RecordDischarge(condition string) {
	dischargesTotal.WithLabelValues(condition).Inc()
}

// RecordHousekeepingFailure counts a failed reconciliation attempt.
func RecordHousekeepingFailure(kind string) {
	housekeepingFailures.WithLabelValues(kind).Inc()
}

// HousekeepingFailures returns the failure counter for a task kind.
func HousekeepingFailures(kind string) prometheus.Counter {
	return housekeepingFailures.WithLabelValues(kind)
}

// RecordFeedEvent counts a received change event.
func RecordFeedEvent(table, eventType string) {
	feedEventsTotal.WithLabelValues(table, eventType).Inc()
}

// RecordVitalsAlert counts a vitals recording above thresholds.
func RecordVitalsAlert() {
	vitalsAlertsTotal.Inc()
}

// SetFeedConnected reports the listener connection state.
func SetFeedConnected(connected bool) {
	if connected {
		feedConnected.Set(1)
		return
	}
	feedConnected.Set(0)
}
