package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymux_attempts_total",
		Help: "The total number of gateway attempts by outcome",
	}, []string{"gateway", "operation", "outcome"})

	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymux_fallbacks_total",
		Help: "Total payments that needed at least one fallback attempt",
	}, []string{"tenant"})

	ExhaustionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymux_exhaustions_total",
		Help: "Total payments that failed on every candidate gateway",
	}, []string{"tenant"})

	RoutingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymux_routing_decisions_total",
		Help: "Total routing decisions by strategy and chosen gateway",
	}, []string{"strategy", "gateway"})

	ChargeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paymux_charge_duration_seconds",
		Help:    "Gateway charge latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	ProbeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymux_probe_failures_total",
		Help: "Total health probe failures during gateway resolution",
	}, []string{"gateway"})

	FeedRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paymux_feed_refresh_duration_seconds",
		Help:    "Duration of performance feed refresh cycles",
		Buckets: prometheus.DefBuckets,
	})
)
