package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coverline/server/internal/breaker"
)

// Domain metrics
var (
	// LeadsIngested counts leads accepted through the intake endpoint
	LeadsIngested = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_ingested_total",
			Help:      "Total number of leads accepted through intake",
		},
		[]string{"source", "duplicate"}, // duplicate: true|false
	)

	// LeadStatusTransitions counts lead status changes
	LeadStatusTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_status_transitions_total",
			Help:      "Total number of lead status transitions",
		},
		[]string{"from", "to"},
	)

	// LeadsAssigned counts routing outcomes
	LeadsAssigned = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_assigned_total",
			Help:      "Total number of lead routing attempts",
		},
		[]string{"strategy", "outcome"}, // outcome: assigned|no_eligible_agents
	)

	// AutomationRuns counts automation executions by result
	AutomationRuns = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_runs_total",
			Help:      "Total number of automation runs",
		},
		[]string{"status"}, // status: succeeded|failed|skipped
	)

	// CarrierQuotes counts quote requests per carrier and outcome
	CarrierQuotes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_quotes_total",
			Help:      "Total number of carrier quote requests",
		},
		[]string{"carrier", "outcome"}, // outcome: success|error|breaker_open
	)

	// BreakerState tracks each carrier breaker (0=closed, 1=half_open, 2=open)
	BreakerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carrier_breaker_state",
			Help:      "Carrier circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"carrier"},
	)

	// AuditChainValid reports the last verification result (1=valid, 0=broken)
	AuditChainValid = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_chain_valid",
			Help:      "Result of the last audit chain verification (1=valid, 0=broken)",
		},
	)

	// AuditChainLength reports the highest verified sequence number
	AuditChainLength = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_chain_length",
			Help:      "Highest audit entry sequence seen by the verify job",
		},
	)
)

// BreakerStateHook keeps BreakerState current; wire it into the breaker
// registry at startup.
func BreakerStateHook(name string, _, to breaker.State) {
	var v float64
	switch to {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}
