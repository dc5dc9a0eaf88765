// Package crawler implements the crawl orchestration engine: the job
// queue, shared crawl state, priority policies, and the worker pool.
package crawler

import (
	"fmt"
	"net/url"
	"time"
)

// JobType classifies a crawl target.
type JobType string

// Job type values. Sitemap jobs bypass the normal admission checks.
const (
	JobTypePage    JobType = "page"
	JobTypeList    JobType = "list"
	JobTypeDetail  JobType = "detail"
	JobTypeSitemap JobType = "sitemap"
)

// Job is a unit of crawl work. Jobs are ordered in the queue by ascending
// Priority; two jobs are considered the same work item when their
// normalized URLs are equal.
type Job struct {
	URL       string
	Depth     int
	Priority  int
	ParentURL string
	Referrer  string
	Type      JobType
	CreatedAt time.Time

	// Derived from URL at construction.
	Host string
	Path string
}

// NewJob constructs a Job, deriving host and path from the URL.
func NewJob(rawURL string, depth, priority int, parentURL, referrer string, jobType JobType) Job {
	job := Job{
		URL:       rawURL,
		Depth:     depth,
		Priority:  priority,
		ParentURL: parentURL,
		Referrer:  referrer,
		Type:      jobType,
		CreatedAt: time.Now(),
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		job.Host = parsed.Host
		job.Path = parsed.Path
	}
	return job
}

// Less reports whether the job should be dequeued before other.
// Ties on priority are broken by the queue's insertion sequence,
// not here.
func (j Job) Less(other Job) bool {
	return j.Priority < other.Priority
}

// Equal reports whether two jobs address the same URL.
func (j Job) Equal(other Job) bool {
	return j.URL == other.URL
}

func (j Job) String() string {
	return fmt.Sprintf("Job(url=%q, depth=%d, priority=%d, type=%s)", j.URL, j.Depth, j.Priority, j.Type)
}
