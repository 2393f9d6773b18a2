// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package metrics provides the prometheus metrics of the resource engine.
//
// All metrics are registered with the default registry. Handler() serves them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StatementDuration tracks the execution time of SQL statements by statement name and outcome
	StatementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roa_statement_duration_seconds",
			Help:    "Duration of SQL statements in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"statement", "outcome"},
	)

	// PoisonedConnectionsTotal counts connections discarded after a failure
	PoisonedConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roa_poisoned_connections_total",
			Help: "Total number of database connections discarded after a failure",
		},
	)

	// CacheLookupsTotal counts response cache lookups by type, section and result
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roa_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"type", "section", "result"},
	)

	// CacheInvalidationsTotal counts response cache invalidations by type
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roa_cache_invalidations_total",
			Help: "Total number of response cache invalidations",
		},
		[]string{"type"},
	)

	// SecurityDecisionsTotal counts security chain outcomes by type and decision
	SecurityDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roa_security_decisions_total",
			Help: "Total number of security chain decisions",
		},
		[]string{"type", "decision"},
	)

	// AuthenticationsTotal counts basic authentication attempts by result
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roa_authentications_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// RequestDuration tracks the handling time of routed requests
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roa_request_duration_seconds",
			Help:    "Duration of routed requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "method", "status"},
	)

	// BatchOperationsTotal counts operations executed in batches
	BatchOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roa_batch_operations_total",
			Help: "Total number of operations executed within batches",
		},
		[]string{"outcome"},
	)
)

// RecordStatement records the duration of a statement
func RecordStatement(name string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StatementDuration.WithLabelValues(name, outcome).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(typePath, section string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(typePath, section, result).Inc()
}

// RecordRequest records the duration and status of a request
func RecordRequest(typePath, method string, status int, duration time.Duration) {
	RequestDuration.WithLabelValues(typePath, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Handler returns the http handler serving all metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
