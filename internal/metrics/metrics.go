package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hashrent"

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_time_seconds",
			Help:      "Histogram of response times",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CheckoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	PaymentsSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_settled_total",
			Help:      "Payments moved out of pending, by resulting status",
		},
		[]string{"status"},
	)

	ReferralCommissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_commissions_total",
			Help:      "Referral earnings recorded",
		},
	)

	InvariantViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Operations rejected because stored state was inconsistent",
		},
	)

	AccrualRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_runs_total",
			Help:      "Accrual passes by outcome",
		},
		[]string{"outcome"},
	)

	AccrualRentalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_rentals_total",
			Help:      "Rentals processed by accrual passes, by result",
		},
		[]string{"result"},
	)

	AccruedBTCTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrued_btc_total",
			Help:      "BTC credited to rentals by accrual passes",
		},
	)

	AccrualDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "accrual_duration_seconds",
			Help:      "Duration of accrual passes",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	PricingFetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_fetch_errors_total",
			Help:      "Failed pricing oracle fetches by source",
		},
		[]string{"source"},
	)
)
