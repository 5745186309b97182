// Package metrics holds the Prometheus collectors of the indicator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "twitch_indicator"

// Poller Metrics
var (
	// PollCyclesTotal counts poll cycles by result (success, error, coalesced)
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result",
		},
		[]string{"result"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a complete poll cycle in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	FollowedChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "followed_channels",
			Help:      "Followed channels in the latest snapshot",
		},
	)

	LiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_channels",
			Help:      "Live channels in the latest snapshot",
		},
	)

	// UnknownChannels tracks channels whose batch failed in the latest poll
	UnknownChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unknown_channels",
			Help:      "Channels with unknown status in the latest snapshot",
		},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Detected channel transitions by type",
		},
		[]string{"transition"},
	)
)

// Helix API Metrics
var (
	HelixRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "helix_requests_total",
			Help:      "Helix API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	HelixRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "helix_request_duration_seconds",
			Help:      "Helix API request latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Auth Metrics
var (
	// TokenRefreshTotal counts refresh attempts by result (success, transient, terminal)
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token refresh attempts by result",
		},
		[]string{"result"},
	)

	AuthorizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_total",
			Help:      "Authorization attempts by result",
		},
		[]string{"result"},
	)

	// CallbackRequestsTotal counts requests hitting the local callback listener
	CallbackRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_requests_total",
			Help:      "Callback listener requests by outcome",
		},
		[]string{"outcome"},
	)
)

// Notification Metrics
var (
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Desktop notifications by result (sent, failed, suppressed)",
		},
		[]string{"result"},
	)
)
