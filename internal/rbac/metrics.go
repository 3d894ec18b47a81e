// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package rbac provides the authorization service: the single choke point
// through which the rest of the system asks "may these roles perform this
// action on this resource?".
package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts authorization decisions by role, resource,
	// action, and outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"role", "resource", "action", "decision"},
	)

	// DecisionDuration tracks decision latency.
	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rbac_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// DeniedTotal tracks denials separately for alerting.
	DeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_denied_total",
			Help: "Total number of authorization denials",
		},
		[]string{"role", "resource", "action"},
	)

	// ErrorsTotal counts engine errors (not denials).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_errors_total",
			Help: "Total number of authorization engine errors",
		},
		[]string{"error_type"},
	)

	// AuditEventsTotal counts audit events by decision.
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_audit_events_total",
			Help: "Total number of audit events logged",
		},
		[]string{"decision"},
	)

	// AuditDroppedTotal counts audit events dropped on buffer overflow.
	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rbac_audit_dropped_total",
			Help: "Total number of audit events dropped (buffer overflow)",
		},
	)
)

// RecordDecision records one authorization decision.
func RecordDecision(role, resource, action string, allowed bool, duration time.Duration) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	DecisionsTotal.WithLabelValues(role, resource, action, decision).Inc()
	DecisionDuration.Observe(duration.Seconds())
	if !allowed {
		DeniedTotal.WithLabelValues(role, resource, action).Inc()
	}
}

// RecordError records an authorization engine error.
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordAuditEvent records an audit event being logged.
func RecordAuditEvent(allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	AuditEventsTotal.WithLabelValues(decision).Inc()
}

// RecordAuditDropped records an audit event being dropped.
func RecordAuditDropped() {
	AuditDroppedTotal.Inc()
}
