// Package metrics defines the Prometheus collectors shared by the decoder,
// the signer and the upstream clients.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DanmakuSegments counts segments by result (fetched, cached, empty, error, truncated).
	DanmakuSegments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bilisummary_danmaku_segments_total",
			Help: "Danmaku segments processed, by result.",
		},
		[]string{"result"},
	)

	// DanmakuComments counts comment records surfaced by the decoder.
	DanmakuComments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bilisummary_danmaku_comments_total",
			Help: "Danmaku comment records decoded.",
		},
	)

	// WbiSign counts signing attempts by result (signed, unsigned).
	WbiSign = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bilisummary_wbi_sign_total",
			Help: "WBI signing attempts, by result.",
		},
		[]string{"result"},
	)

	// WbiKeyRefresh counts key material refreshes by result (ok, error).
	WbiKeyRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bilisummary_wbi_key_refresh_total",
			Help: "WBI key material refreshes, by result.",
		},
		[]string{"result"},
	)

	// UpstreamRequestDuration observes upstream HTTP latency by endpoint.
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bilisummary_upstream_request_seconds",
			Help:    "Latency of upstream HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
