package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculatePriorityWeightedMean(t *testing.T) {
	// depth 2 page: depth rule 20*1.0, list boost -20*1.5, path rule
	// (1 slash) 5*0.8 over total weight 3.3 truncates toward zero to -1.
	m := DefaultPolicyManager()
	job := NewJob("https://example.com/news", 2, 0, "", "", JobTypeList)
	assert.Equal(t, -1, m.CalculatePriority(job.URL, job))
}

func TestCalculatePriorityNoApplicablePolicies(t *testing.T) {
	m := NewPolicyManager()
	job := NewJob("https://example.com/a", 3, 0, "", "", JobTypePage)
	assert.Equal(t, 0, m.CalculatePriority(job.URL, job))
}

func TestCalculatePriorityIgnoresDisabled(t *testing.T) {
	m := NewPolicyManager()
	m.AddPolicy("boost", typeBoostRule{jobType: JobTypePage, score: -100}, 1.0, false)
	m.AddPolicy("depth", depthRule{}, 1.0, true)
	job := NewJob("https://example.com/a", 1, 0, "", "", JobTypePage)
	assert.Equal(t, 10, m.CalculatePriority(job.URL, job))
}

func TestDefaultPolicyManagerOrdersTypes(t *testing.T) {
	m := DefaultPolicyManager()
	mk := func(jt JobType) int {
		job := NewJob("https://example.com/a", 0, 0, "", "", jt)
		return m.CalculatePriority(job.URL, job)
	}
	sitemap := mk(JobTypeSitemap)
	list := mk(JobTypeList)
	detail := mk(JobTypeDetail)
	page := mk(JobTypePage)
	assert.Less(t, sitemap, list)
	assert.Less(t, list, detail)
	assert.Less(t, detail, page)
}

func TestPoliciesReturnsCopy(t *testing.T) {
	m := DefaultPolicyManager()
	got := m.Policies()
	assert.Len(t, got, 5)
	got[0].Enabled = false
	assert.True(t, m.Policies()[0].Enabled)
}
