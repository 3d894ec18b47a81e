// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PolicyReloadsTotal counts policy reloads by result.
	PolicyReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_reloads_total",
			Help: "Total number of policy reloads",
		},
		[]string{"result"},
	)

	// PolicyRulesTotal tracks the current number of allow tuples loaded.
	PolicyRulesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policy_rules_total",
			Help: "Current number of policy rules loaded",
		},
	)

	// PolicyGroupingRulesTotal tracks the current number of role inheritance edges.
	PolicyGroupingRulesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policy_grouping_rules_total",
			Help: "Current number of role inheritance rules loaded",
		},
	)

	// PolicyCacheEvictionsTotal counts decision cache TTL evictions.
	PolicyCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_cache_evictions_total",
			Help: "Total number of decision cache evictions (TTL expiry)",
		},
	)
)

// RecordPolicyReload records a policy reload event.
func RecordPolicyReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	PolicyReloadsTotal.WithLabelValues(result).Inc()
}

// UpdatePolicyStats updates the rule count gauges.
func UpdatePolicyStats(rules, groupingRules int) {
	PolicyRulesTotal.Set(float64(rules))
	PolicyGroupingRulesTotal.Set(float64(groupingRules))
}

// RecordCacheEviction records a decision cache eviction.
func RecordCacheEviction() {
	PolicyCacheEvictionsTotal.Inc()
}
