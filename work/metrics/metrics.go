package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProbeVerdicts counts upstream probe outcomes by verdict kind and HTTP method.
var ProbeVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gateway_probe_verdicts_total",
	Help: "Upstream probe outcomes by verdict",
}, []string{"verdict", "method"})

// UpstreamDeceptions counts 200-status responses whose body was not media.
// A rising rate usually means the upstream changed its error pages.
var UpstreamDeceptions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_gateway_upstream_deceptions_total",
	Help: "Success responses carrying HTML or non-media bodies",
})

// TokenResolutions counts token redirect-chasing attempts by outcome
// ("token" or "none").
var TokenResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gateway_token_resolutions_total",
	Help: "Token resolution attempts by outcome",
}, []string{"outcome"})

// DiscoveredSegments records how many segments each discovery call confirmed.
var DiscoveredSegments = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "iptv_gateway_discovered_segments",
	Help:    "Segments confirmed per discovery call",
	Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
})

// DiscoveryCeilings counts discovery calls that stopped at max_segments.
var DiscoveryCeilings = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_gateway_discovery_ceiling_total",
	Help: "Discovery calls stopped by the segment ceiling",
})

// Resolutions counts resolution requests by content kind and recommended format.
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gateway_resolutions_total",
	Help: "Resolution requests by kind and recommended format",
}, []string{"kind", "format"})

// CatalogRequests counts player_api.php calls by action and outcome.
var CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_gateway_catalog_requests_total",
	Help: "Upstream catalog API calls",
}, []string{"action", "outcome"})

// BytesRelayed tracks bytes copied from the upstream to clients by the relay.
var BytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_gateway_bytes_relayed_total",
	Help: "Bytes relayed from the upstream",
})
