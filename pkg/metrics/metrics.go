// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsEmitted counts synthesized notifications by type.
	NotificationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendtrack_notifications_emitted_total",
		Help: "Notifications synthesized, by notification type",
	}, []string{"type"})

	// PaymentsRecorded counts mark-paid attempts by outcome
	// (recorded, completed, conflict, not_found, already_completed, error).
	PaymentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendtrack_payments_recorded_total",
		Help: "Mark-paid attempts by outcome",
	}, []string{"outcome"})

	StatusRewrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendtrack_status_cache_rewrites_total",
		Help: "Borrower status cache entries rewritten after re-derivation",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendtrack_http_request_duration_seconds",
		Help:    "HTTP request duration by route template, method and status code",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
	}, []string{"route", "method", "code"})
)
