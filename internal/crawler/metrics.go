package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalPagesCrawled tracks pages fetched and processed successfully.
	TotalPagesCrawled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartcrawl_pages_crawled_total",
		Help: "The total number of pages successfully crawled.",
	})
	// TotalPagesFailed tracks jobs that ended in a recorded failure.
	TotalPagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartcrawl_pages_failed_total",
		Help: "The total number of crawl jobs that failed.",
	})
	// TotalJobsSkipped tracks URLs rejected at admission (visited, depth, domain).
	TotalJobsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartcrawl_jobs_skipped_total",
		Help: "The total number of jobs rejected by admission checks.",
	})
	// QueueDepth reports the current length of the job queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartcrawl_queue_depth",
		Help: "The current number of queued crawl jobs.",
	})
	// FetchDuration observes fetch latency per job type.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartcrawl_fetch_duration_seconds",
		Help:    "Fetch latency for crawl jobs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})
)
