// Package discovery learns a site's URL patterns and HTML layout from a
// small sample crawl, so the orchestrator can type jobs and pick
// extraction selectors before visiting a page.
package discovery

import (
	"fmt"
	"regexp"
	"strings"
)

const maxSampleURLs = 5

// URLPattern is one learned URL shape. Pattern is either a wildcard
// template ("example.com/news/*") or a full regular expression.
type URLPattern struct {
	Pattern    string   `json:"pattern"`
	IsList     bool     `json:"is_list"`
	IsDetail   bool     `json:"is_detail"`
	SampleURLs []string `json:"sample_urls"`
	Weight     float64  `json:"weight"`
	URLCount   int      `json:"url_count"`

	regex *regexp.Regexp
}

// NewURLPattern compiles a pattern. Wildcards become non-greedy regex
// groups; patterns already written as anchored regexes are compiled
// verbatim.
func NewURLPattern(pattern string, isList, isDetail bool, sampleURLs []string, weight float64) (*URLPattern, error) {
	regex, err := patternToRegex(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern %q: %w", pattern, err)
	}
	return &URLPattern{
		Pattern:    pattern,
		IsList:     isList,
		IsDetail:   isDetail,
		SampleURLs: sampleURLs,
		Weight:     weight,
		regex:      regex,
	}, nil
}

func patternToRegex(pattern string) (*regexp.Regexp, error) {
	if strings.HasPrefix(pattern, "^") && (strings.HasSuffix(pattern, "$") || strings.HasSuffix(pattern, ".*$")) {
		return regexp.Compile(pattern)
	}

	var b strings.Builder
	for _, part := range strings.Split(pattern, "*") {
		if b.Len() > 0 {
			b.WriteString(".*?")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	expr := b.String()
	if !strings.HasPrefix(expr, "^") {
		expr = "^.*?" + expr
	}
	if !strings.HasSuffix(expr, "$") {
		expr += "$"
	}
	return regexp.Compile(expr)
}

// Matches reports whether the URL fits this pattern.
func (p *URLPattern) Matches(url string) bool {
	if p.regex == nil {
		regex, err := patternToRegex(p.Pattern)
		if err != nil {
			return false
		}
		p.regex = regex
	}
	return p.regex.MatchString(url)
}

// AddSampleURL records a URL under this pattern, keeping at most
// maxSampleURLs distinct samples while still counting every hit.
func (p *URLPattern) AddSampleURL(url string) {
	p.URLCount++
	for _, existing := range p.SampleURLs {
		if existing == url {
			return
		}
	}
	if len(p.SampleURLs) < maxSampleURLs {
		p.SampleURLs = append(p.SampleURLs, url)
	}
}

func (p *URLPattern) String() string {
	return fmt.Sprintf("URLPattern(%q, list=%t, detail=%t, count=%d)", p.Pattern, p.IsList, p.IsDetail, p.URLCount)
}
