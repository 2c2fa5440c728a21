// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package telemetry holds the agent's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TriggersFired counts CEP trigger emissions per rule.
	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquaops",
		Subsystem: "cep",
		Name:      "triggers_fired_total",
		Help:      "Number of rule triggers emitted by the CEP engine.",
	}, []string{"rule_id", "action_type"})

	// NotificationsLogged counts notification log appends.
	NotificationsLogged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aquaops",
		Subsystem: "dispatcher",
		Name:      "notifications_total",
		Help:      "Number of notifications appended to the log.",
	})

	// ActionFailures counts dispatch actions that did not complete.
	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquaops",
		Subsystem: "dispatcher",
		Name:      "action_failures_total",
		Help:      "Number of failed alert deliveries and process executions.",
	}, []string{"action_type"})

	// APIRequests counts REST requests by route and status class.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aquaops",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Number of REST requests served.",
	}, []string{"route", "code"})
)

// Handler exposes the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
