package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "session_reconnects_total", Help: "Transport session reconnect attempts"})
	SessionDrops      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "session_drops_total", Help: "Transport sessions lost"})
	RequestRetries    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "request_retries_total", Help: "Backend request retry attempts"})
	AuthFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "auth_failures_total", Help: "Fatal authorization failures"})

	CandidatesAdmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "candidates_admitted_total", Help: "Ride candidates admitted by the distance gate"})
	CandidatesDropped  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridelink", Name: "candidates_dropped_total", Help: "Ride candidates dropped before admission"},
		[]string{"reason"},
	)
	ProximityFires = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "proximity_notifications_total", Help: "One-shot reached-rider notifications"})

	RidesActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridelink", Name: "rides_active", Help: "Rides currently held in a non-terminal state"})

	MediaAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "media_accepted_total", Help: "Media references appended to a ride log"})
	MediaDeduped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridelink", Name: "media_deduped_total", Help: "Duplicate media references dropped"})

	EventLoopDepth = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridelink", Name: "event_loop_depth", Help: "Pending events queued on the client actor"})

	OTPAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridelink", Name: "otp_attempts_total", Help: "OTP verification attempts by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridelink", Name: "http_requests_total", Help: "Diagnostics HTTP requests"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ridelink", Name: "http_request_duration_seconds", Help: "Diagnostics HTTP latency", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)
)
