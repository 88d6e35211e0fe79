// Package metrics exposes Prometheus metrics for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics sink used by the quota tracker, the cache, the
// channel fetcher and the orchestrator.
type Recorder interface {
	RecordChannelFetch(ok bool, d time.Duration)
	RecordCacheLookup(hit bool)
	RecordQuotaUnits(resource string, units int)
	RecordBatchWrite(ok bool, items int)
	RecordDuplicates(n int)
	RecordRun(status string)
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) RecordChannelFetch(bool, time.Duration) {}
func (Nop) RecordCacheLookup(bool)                 {}
func (Nop) RecordQuotaUnits(string, int)           {}
func (Nop) RecordBatchWrite(bool, int)             {}
func (Nop) RecordDuplicates(int)                   {}
func (Nop) RecordRun(string)                       {}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	channelFetches *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	quotaUnits     *prometheus.CounterVec
	batchWrites    *prometheus.CounterVec
	videosWritten  prometheus.Counter
	duplicates     prometheus.Counter
	runs           *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		channelFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsheets_channel_fetches_total",
			Help: "Channel fetches by outcome.",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytsheets_channel_fetch_seconds",
			Help:    "Time to resolve, list, hydrate and filter one channel.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsheets_cache_lookups_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
		quotaUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsheets_quota_units_total",
			Help: "YouTube API quota units consumed by resource.",
		}, []string{"resource"}),
		batchWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsheets_batch_writes_total",
			Help: "Spreadsheet batch writes by outcome.",
		}, []string{"result"}),
		videosWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsheets_videos_written_total",
			Help: "Videos written to the destination.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsheets_duplicates_prevented_total",
			Help: "Videos skipped because they were already seen.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsheets_runs_total",
			Help: "Finished sync runs by final status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.channelFetches,
		c.fetchLatency,
		c.cacheLookups,
		c.quotaUnits,
		c.batchWrites,
		c.videosWritten,
		c.duplicates,
		c.runs,
	)
	return c
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordChannelFetch records one finished channel fetch.
func (c *Collector) RecordChannelFetch(ok bool, d time.Duration) {
	c.channelFetches.WithLabelValues(result(ok)).Inc()
	c.fetchLatency.Observe(d.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (c *Collector) RecordCacheLookup(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	c.cacheLookups.WithLabelValues(label).Inc()
}

// RecordQuotaUnits records consumed quota units.
func (c *Collector) RecordQuotaUnits(resource string, units int) {
	c.quotaUnits.WithLabelValues(resource).Add(float64(units))
}

// RecordBatchWrite records a batch flush; items count only on success.
func (c *Collector) RecordBatchWrite(ok bool, items int) {
	c.batchWrites.WithLabelValues(result(ok)).Inc()
	if ok {
		c.videosWritten.Add(float64(items))
	}
}

// RecordDuplicates records videos dropped by deduplication.
func (c *Collector) RecordDuplicates(n int) {
	c.duplicates.Add(float64(n))
}

// RecordRun records a finished run.
func (c *Collector) RecordRun(status string) {
	c.runs.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler serving the gathered metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewMux returns a mux serving /metrics.
func NewMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
