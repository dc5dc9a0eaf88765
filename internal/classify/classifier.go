// Package classify labels extracted content with a content type and the
// topical domains its keywords indicate.
package classify

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"smartcrawl/internal/crawler"
)

// ContentTypeOther is assigned when no keyword set scores.
const ContentTypeOther = "other"

// Config holds the keyword dictionaries. Keys are labels, values the
// phrases counted in the (lowercased) content.
type Config struct {
	ContentTypes map[string][]string
	Domains      map[string][]string
}

// DefaultConfig returns the built-in dictionaries for legal content.
func DefaultConfig() Config {
	return Config{
		ContentTypes: map[string][]string{
			"question": {
				"question", "why does", "how do", "how can", "what is", "who is",
				"where can", "which of", "?", "please advise", "please help",
			},
			"answer": {
				"answer", "in response to", "according to the law", "under the law",
				"pursuant to", "under article", "per article", "it should be noted",
			},
			"article": {
				"article", "introduction", "abstract", "conclusion", "analysis",
				"research", "study", "findings", "references", "methodology",
			},
			"profile": {
				"experience", "education", "specialty", "lawyer", "legal advisor",
				"judge", "university", "degree", "phd", "practice areas",
			},
		},
		Domains: map[string][]string{
			"criminal": {
				"crime", "punishment", "prison", "sentence", "penal", "felony",
				"defendant", "theft", "murder", "fraud", "embezzlement", "smuggling",
			},
			"civil": {
				"contract", "inheritance", "will", "civil code", "ownership", "lease",
				"marriage", "divorce", "custody", "obligation", "damages", "liability",
			},
			"commercial": {
				"commerce", "company", "shares", "merchant", "bankruptcy", "cheque",
				"securities", "stock exchange", "insurance", "arbitration", "tender",
			},
			"administrative": {
				"employment", "worker", "employer", "labor law", "social security",
				"tax", "administrative offence", "civil service", "municipality",
			},
			"constitutional": {
				"constitution", "parliament", "judiciary", "executive", "legislature",
				"election", "government", "republic", "minister", "ministry",
			},
		},
	}
}

// Classifier scores content against keyword dictionaries. It stands in for
// a trained model: the interface is the same, the scoring is counting.
type Classifier struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Classifier. Empty dictionary maps fall back to the defaults.
func New(cfg Config, logger *zap.Logger) *Classifier {
	defaults := DefaultConfig()
	if len(cfg.ContentTypes) == 0 {
		cfg.ContentTypes = defaults.ContentTypes
	}
	if len(cfg.Domains) == 0 {
		cfg.Domains = defaults.Domains
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{cfg: cfg, logger: logger}
}

// Classify returns the best-scoring content type and every domain whose
// keywords appear, ordered by score. Content no dictionary matches gets
// ContentTypeOther and no domains.
func (c *Classifier) Classify(_ context.Context, content string) (crawler.Classification, error) {
	text := strings.ToLower(content)

	result := crawler.Classification{ContentType: ContentTypeOther}
	best := 0
	for _, label := range sortedKeys(c.cfg.ContentTypes) {
		if score := scoreKeywords(text, c.cfg.ContentTypes[label]); score > best {
			best = score
			result.ContentType = label
		}
	}

	type scored struct {
		label string
		score int
	}
	var domains []scored
	for _, label := range sortedKeys(c.cfg.Domains) {
		if score := scoreKeywords(text, c.cfg.Domains[label]); score > 0 {
			domains = append(domains, scored{label, score})
		}
	}
	sort.SliceStable(domains, func(i, j int) bool { return domains[i].score > domains[j].score })
	for _, d := range domains {
		result.Domains = append(result.Domains, d.label)
	}
	return result, nil
}

func scoreKeywords(text string, keywords []string) int {
	total := 0
	for _, kw := range keywords {
		total += strings.Count(text, strings.ToLower(kw))
	}
	return total
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
