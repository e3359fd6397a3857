package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dispatchRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockctl",
			Subsystem: "dispatch",
			Name:      "rounds_total",
			Help:      "Dispatch rounds by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flockctl",
			Subsystem: "dispatch",
			Name:      "round_duration_seconds",
			Help:      "Dispatch round duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	agentFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockctl",
			Subsystem: "agent",
			Name:      "faults_total",
			Help:      "Isolated per-agent command faults.",
		},
		[]string{"kind"},
	)
	fleetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flockctl",
			Subsystem: "fleet",
			Name:      "agents",
			Help:      "Current fleet membership size.",
		},
	)
	localizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockctl",
			Subsystem: "vision",
			Name:      "localizations_total",
			Help:      "Localization attempts by result.",
		},
		[]string{"result"},
	)
	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flockctl",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin endpoint requests by route template and status code.",
		},
		[]string{"method", "route", "code"},
	)
	adminDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flockctl",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin endpoint latency; capability invocations include a full dispatch round.",
			Buckets:   []float64{.001, .005, .025, .1, .5, 1, 5, 15, 30},
		},
		[]string{"method", "route"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			dispatchRounds,
			dispatchDuration,
			agentFaults,
			fleetSize,
			localizations,
			adminRequests,
			adminDuration,
		)
	})
}

func RecordRound(mode, outcome string, duration time.Duration) {
	RegisterMetrics()
	dispatchRounds.WithLabelValues(mode, outcome).Inc()
	dispatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func RecordAgentFault(kind string) {
	RegisterMetrics()
	agentFaults.WithLabelValues(kind).Inc()
}

func SetFleetSize(n int) {
	RegisterMetrics()
	fleetSize.Set(float64(n))
}

func RecordLocalization(result string) {
	RegisterMetrics()
	localizations.WithLabelValues(result).Inc()
}

func RecordAdminRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	adminRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	adminDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
