package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ViewsCounted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "views_counted_total",
		Help: "View events accepted and counted.",
	})
	ViewsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "views_skipped_total",
		Help: "View events not counted, by reason.",
	}, []string{"reason"})
	ViewsRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "views_rate_limited_total",
		Help: "View requests rejected by the rate limiter.",
	})
	BufferFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buffer_flushes_total",
		Help: "Completed buffer flushes.",
	})
	BufferFlushedViews = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buffer_flushed_views_total",
		Help: "Pending increments written out by flushes.",
	})
	TrendingRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trending_runs_total",
		Help: "Completed trending computations.",
	})
	TrendingItemsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trending_items_scored_total",
		Help: "Items scored across trending computations.",
	})
)

func init() {
	prometheus.MustRegister(ViewsCounted, ViewsSkipped, ViewsRateLimited,
		BufferFlushes, BufferFlushedViews, TrendingRuns, TrendingItemsScored)
}

func Handler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
