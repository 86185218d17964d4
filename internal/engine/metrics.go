package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var admissionDecisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_admission_decisions",
	Help: "Number of scheduler admission decisions by action and result",
}, []string{"action", "result"})

var jobScheduledCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_jobs_scheduled",
	Help: "Number of jobs created by the scheduler",
}, []string{"action"})

var jobOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_job_outcomes",
	Help: "Number of finalized jobs by action and outcome",
}, []string{"action", "outcome"})

var breakerTransitionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_breaker_transitions",
	Help: "Number of circuit breaker state transitions",
}, []string{"to"})

var quotaReservationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_quota_reservations",
	Help: "Number of quota reservation attempts by action and result",
}, []string{"action", "result"})

var suspensionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_suspensions",
	Help: "Number of automatic account suspensions by reason",
}, []string{"reason"})

var alertRaisedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automation_alerts_raised",
	Help: "Number of alerts raised",
}, []string{"kind", "severity"})

var tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automation_tick_duration_sec",
	Help: "Total duration of one scheduler tick",
})
