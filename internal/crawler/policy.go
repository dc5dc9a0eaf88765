package crawler

// PriorityRule scores a URL/job pair. Rules are plain values rather than
// closures so a configured policy set can be listed and tested in
// isolation.
type PriorityRule interface {
	Applies(url string, job Job) bool
	Score(url string, job Job) int
}

// Policy pairs a rule with its name, weight, and enabled flag.
type Policy struct {
	Name    string
	Rule    PriorityRule
	Weight  float64
	Enabled bool
}

// PolicyManager computes a job's queue priority from its registered
// policies. Lower results are dequeued sooner.
type PolicyManager struct {
	policies []Policy
}

// NewPolicyManager returns an empty manager.
func NewPolicyManager() *PolicyManager {
	return &PolicyManager{}
}

// AddPolicy registers a scoring rule.
func (m *PolicyManager) AddPolicy(name string, rule PriorityRule, weight float64, enabled bool) {
	m.policies = append(m.policies, Policy{
		Name:    name,
		Rule:    rule,
		Weight:  weight,
		Enabled: enabled,
	})
}

// Policies returns the registered policy set.
func (m *PolicyManager) Policies() []Policy {
	out := make([]Policy, len(m.policies))
	copy(out, m.policies)
	return out
}

// CalculatePriority evaluates every enabled policy whose rule applies and
// returns the weighted mean score truncated toward zero, or 0 when no
// policy applied.
func (m *PolicyManager) CalculatePriority(url string, job Job) int {
	var score, totalWeight float64
	for _, p := range m.policies {
		if !p.Enabled {
			continue
		}
		if !p.Rule.Applies(url, job) {
			continue
		}
		score += float64(p.Rule.Score(url, job)) * p.Weight
		totalWeight += p.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return int(score / totalWeight)
}

// DefaultPolicyManager builds the standard policy set: shallow pages,
// list pages, detail pages, and sitemaps are boosted; long paths are
// mildly penalized as a tie-break.
func DefaultPolicyManager() *PolicyManager {
	m := NewPolicyManager()
	m.AddPolicy("depth", depthRule{}, 1.0, true)
	m.AddPolicy("list_boost", typeBoostRule{jobType: JobTypeList, score: -20}, 1.5, true)
	m.AddPolicy("detail_boost", typeBoostRule{jobType: JobTypeDetail, score: -10}, 1.0, true)
	m.AddPolicy("sitemap_boost", typeBoostRule{jobType: JobTypeSitemap, score: -30}, 2.0, true)
	m.AddPolicy("path_length", pathLengthRule{}, 0.8, true)
	return m
}

// depthRule penalizes deeper jobs.
type depthRule struct{}

func (depthRule) Applies(_ string, job Job) bool { return job.URL != "" }
func (depthRule) Score(_ string, job Job) int    { return job.Depth * 10 }

// typeBoostRule applies a fixed score to jobs of one type.
type typeBoostRule struct {
	jobType JobType
	score   int
}

func (r typeBoostRule) Applies(_ string, job Job) bool { return job.Type == r.jobType }
func (r typeBoostRule) Score(string, Job) int          { return r.score }

// pathLengthRule penalizes URLs with more path separators.
type pathLengthRule struct{}

func (pathLengthRule) Applies(string, Job) bool { return true }
func (pathLengthRule) Score(url string, _ Job) int {
	return PathSlashCount(url) * 5
}
