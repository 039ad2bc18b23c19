package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_booking_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_booking_operations_total",
			Help: "Booking operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	LedgerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_booking_ledger_conflicts_total",
			Help: "Compare-and-transition calls that lost the race",
		},
	)

	LedgerUnverifiedWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_booking_ledger_unverified_writes_total",
			Help: "Failed writes whose outcome could not be read back",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seat_booking_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seat_booking_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_booking_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_booking_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	HoldsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_booking_holds_reaped_total",
			Help: "Expired holds returned to AVAILABLE by the reaper",
		},
	)

	AuditEventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_booking_audit_events_total",
			Help: "Seat events consumed into the audit log",
		},
		[]string{"result"},
	)
)
