// Package observability holds the Prometheus metrics the sync layer reports.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts cache hits by tier.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_cache_hits_total",
		Help: "Total number of cache hits by tier",
	}, []string{"tier"})

	// CacheMisses counts lookups that found nothing in any tier.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_cache_misses_total",
		Help: "Total number of cache misses",
	})

	// CacheDegradations counts swallowed durable-tier failures by operation.
	CacheDegradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_cache_degradations_total",
		Help: "Total number of durable-tier cache failures degraded to memory-only operation",
	}, []string{"operation"})

	// UnreadRecomputes counts full unread-aggregate recomputations.
	UnreadRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_unread_recomputes_total",
		Help: "Total number of unread aggregate recomputations from store snapshots",
	})

	// SubscriptionErrors counts subscription stream errors by feed.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_subscription_errors_total",
		Help: "Total number of subscription stream errors by feed",
	}, []string{"feed"})
)
