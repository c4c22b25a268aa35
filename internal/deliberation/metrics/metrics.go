// Package metrics exposes prometheus instrumentation for the
// deliberation engine. Metrics are registered once at first use.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	sessionsStarted   prometheus.Counter
	sessionsFinished  *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	argumentsTotal    prometheus.Counter
	votesTotal        *prometheus.CounterVec
	turnsAllocated    *prometheus.CounterVec
	deadlocksDetected prometheus.Counter
	appealsTotal      *prometheus.CounterVec
)

func register() {
	once.Do(func() {
		sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
			Name: "deliberation_sessions_started_total",
			Help: "Total number of deliberation sessions initiated",
		})
		sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deliberation_sessions_finished_total",
			Help: "Total number of sessions that reached a terminal state",
		}, []string{"state"})
		sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "deliberation_sessions_active",
			Help: "Number of sessions currently held in the registry",
		})
		argumentsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "deliberation_arguments_submitted_total",
			Help: "Total number of arguments accepted",
		})
		votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deliberation_votes_submitted_total",
			Help: "Total number of votes accepted by position",
		}, []string{"position"})
		turnsAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deliberation_turns_allocated_total",
			Help: "Total number of speaking turns allocated by strategy",
		}, []string{"strategy"})
		deadlocksDetected = promauto.NewCounter(prometheus.CounterOpts{
			Name: "deliberation_deadlocks_detected_total",
			Help: "Total number of deadlocked consensus rounds",
		})
		appealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deliberation_appeals_total",
			Help: "Total number of appeals by final status",
		}, []string{"status"})
	})
}

// SessionStarted records a newly initiated session.
func SessionStarted() {
	register()
	sessionsStarted.Inc()
	sessionsActive.Inc()
}

// SessionFinished records a session entering a terminal state.
func SessionFinished(state string) {
	register()
	sessionsFinished.WithLabelValues(state).Inc()
}

// SessionClosed records a session leaving the registry.
func SessionClosed() {
	register()
	sessionsActive.Dec()
}

// ArgumentSubmitted records an accepted argument.
func ArgumentSubmitted() {
	register()
	argumentsTotal.Inc()
}

// VoteSubmitted records an accepted vote.
func VoteSubmitted(position string) {
	register()
	votesTotal.WithLabelValues(position).Inc()
}

// TurnAllocated records a granted speaking turn.
func TurnAllocated(strategy string) {
	register()
	turnsAllocated.WithLabelValues(strategy).Inc()
}

// DeadlockDetected records a consensus round found infeasible.
func DeadlockDetected() {
	register()
	deadlocksDetected.Inc()
}

// AppealFinished records an appeal reaching a final status.
func AppealFinished(status string) {
	register()
	appealsTotal.WithLabelValues(status).Inc()
}
