package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProxyRequests counts proxy requests by endpoint variant, content category and outcome.
// Outcome is one of "hit", "fetched", "streamed" or an error kind.
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embed_proxy_requests_total",
	Help: "Total proxy requests handled",
}, []string{"variant", "category", "outcome"})

// CacheLookups counts segment cache lookups split by result ("hit" or "miss").
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embed_proxy_cache_lookups_total",
	Help: "Segment cache lookups",
}, []string{"result"})

// CacheEntries tracks the number of entries currently held by the segment cache.
var CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "embed_proxy_cache_entries",
	Help: "Entries currently in the segment cache",
})

// CacheEvictions counts entries removed from the cache, by reason ("expired", "cleared").
var CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embed_proxy_cache_evictions_total",
	Help: "Entries removed from the segment cache",
}, []string{"reason"})

// BytesTransferred tracks bytes moved per category. Direction is "upstream" for bytes
// read from the origin and "downstream" for bytes written to clients.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embed_proxy_bytes_transferred_total",
	Help: "Total bytes transferred",
}, []string{"category", "direction"})

// UpstreamErrors counts failed upstream fetches by status code ("network" for transport errors).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embed_proxy_upstream_errors_total",
	Help: "Failed upstream fetches",
}, []string{"status"})

// UpstreamDuration observes time to first byte of upstream fetches.
var UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "embed_proxy_upstream_duration_seconds",
	Help:    "Upstream response header latency",
	Buckets: prometheus.DefBuckets,
}, []string{"category"})

// ManifestsRewritten counts rewritten manifests by mode and detected playlist kind.
var ManifestsRewritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embed_proxy_manifests_rewritten_total",
	Help: "Manifests rewritten",
}, []string{"mode", "kind"})
