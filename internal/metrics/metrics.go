package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Tone engine
	ToneProfilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tone_profiles_total",
			Help: "Tone profile computations by result code",
		},
		[]string{"result"},
	)

	// Scheduler
	MeetingInstancesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meeting_instances_generated_total",
			Help: "Meeting instances written by the instance generator",
		},
	)

	RemindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_reminders_sent_total",
			Help: "Meeting reminders delivered by type",
		},
		[]string{"type"},
	)

	// Calendar mirror
	CalendarSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_sync_total",
			Help: "Calendar provider operations by outcome",
		},
		[]string{"operation", "status"},
	)

	CalendarTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_token_refresh_total",
			Help: "OAuth token refresh attempts by outcome",
		},
		[]string{"status"},
	)
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, path, status string, started time.Time) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(started).Seconds())
}

// RecordToneProfile counts a profile request; result is "success" or the error code.
func RecordToneProfile(result string) {
	ToneProfilesTotal.WithLabelValues(result).Inc()
}

// RecordCalendarSync counts one provider call.
func RecordCalendarSync(operation, status string) {
	CalendarSyncTotal.WithLabelValues(operation, status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
