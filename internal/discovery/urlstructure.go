package discovery

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Clustering parameters for URL shape grouping. eps is the maximum
// cosine distance between neighbors; minSamples is the smallest viable
// cluster.
const (
	clusterEps        = 0.3
	clusterMinSamples = 2
)

// A path position with fewer distinct values than this is treated as a
// fixed section; at or above variableSectionMin it is considered
// variable and typed by its dominant token shape.
const (
	fixedSectionMax    = 10
	variableSectionMin = 10
	dominantShareRatio = 0.7
)

// ImportantSection describes one path position across the sampled URLs:
// either a small fixed vocabulary or a variable slot typed as numeric
// id, slug, or unknown.
type ImportantSection struct {
	Position   int      `json:"position"`
	Values     []string `json:"values"`
	IsVariable bool     `json:"is_variable"`
	Type       string   `json:"type,omitempty"`
}

// URLStructure accumulates sampled URLs and derives the site's URL
// patterns from them. Not safe for concurrent use; the discovery facade
// serializes access.
type URLStructure struct {
	BaseURL string

	urls              []string
	urlSet            map[string]struct{}
	partValues        map[int]map[string]struct{}
	queryParams       map[string][]string
	patterns          []*URLPattern
	importantSections []ImportantSection

	logger *zap.Logger
}

// NewURLStructure constructs an empty URL structure model.
func NewURLStructure(baseURL string, logger *zap.Logger) *URLStructure {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLStructure{
		BaseURL:     baseURL,
		urlSet:      make(map[string]struct{}),
		partValues:  make(map[int]map[string]struct{}),
		queryParams: make(map[string][]string),
		logger:      logger,
	}
}

// AddURL adds one URL to the sample, resolving relative addresses
// against the base URL and dropping duplicates.
func (s *URLStructure) AddURL(rawURL string) {
	if s.BaseURL != "" && !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		base, err := url.Parse(s.BaseURL)
		if err != nil {
			return
		}
		rel, err := url.Parse(rawURL)
		if err != nil {
			return
		}
		rawURL = base.ResolveReference(rel).String()
	}

	if _, seen := s.urlSet[rawURL]; seen {
		return
	}
	s.urlSet[rawURL] = struct{}{}
	s.urls = append(s.urls, rawURL)
	s.recordParts(rawURL)
}

// AddURLs adds a batch of URLs to the sample.
func (s *URLStructure) AddURLs(urls []string) {
	for _, u := range urls {
		s.AddURL(u)
	}
}

// URLCount returns the number of distinct sampled URLs.
func (s *URLStructure) URLCount() int { return len(s.urls) }

// Patterns returns the patterns discovered so far.
func (s *URLStructure) Patterns() []*URLPattern { return s.patterns }

// ImportantSections returns the per-position path analysis.
func (s *URLStructure) ImportantSections() []ImportantSection { return s.importantSections }

func (s *URLStructure) recordParts(rawURL string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	for i, part := range pathParts(parsed.Path) {
		if s.partValues[i] == nil {
			s.partValues[i] = make(map[string]struct{})
		}
		s.partValues[i][part] = struct{}{}
	}
	for key, values := range parsed.Query() {
		for _, v := range values {
			if !contains(s.queryParams[key], v) {
				s.queryParams[key] = append(s.queryParams[key], v)
			}
		}
	}
}

// DiscoverPatterns derives URL patterns from the sample, clustering URL
// shapes and falling back to heuristic grouping for unclustered URLs.
func (s *URLStructure) DiscoverPatterns() []*URLPattern {
	if len(s.urls) == 0 {
		s.logger.Warn("no urls sampled, nothing to discover")
		return nil
	}

	s.identifyImportantSections()
	s.patterns = s.discoverWithClustering()
	return s.patterns
}

func (s *URLStructure) identifyImportantSections() {
	positions := make([]int, 0, len(s.partValues))
	for pos := range s.partValues {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	var sections []ImportantSection
	for _, pos := range positions {
		values := make([]string, 0, len(s.partValues[pos]))
		for v := range s.partValues[pos] {
			values = append(values, v)
		}
		sort.Strings(values)

		switch {
		case len(values) > 1 && len(values) < fixedSectionMax:
			sections = append(sections, ImportantSection{
				Position: pos,
				Values:   values,
			})
		case len(values) >= variableSectionMin:
			sections = append(sections, ImportantSection{
				Position:   pos,
				Values:     []string{variablePlaceholder(values)},
				IsVariable: true,
				Type:       variableType(values),
			})
		}
	}
	s.importantSections = sections
}

func variableType(values []string) string {
	numeric, slugged := 0, 0
	for _, v := range values {
		if isNumeric(v) {
			numeric++
		}
		if strings.Contains(v, "-") {
			slugged++
		}
	}
	threshold := float64(len(values)) * dominantShareRatio
	switch {
	case float64(numeric) > threshold:
		return "numeric"
	case float64(slugged) > threshold:
		return "slug"
	default:
		return "unknown"
	}
}

func variablePlaceholder(values []string) string {
	switch variableType(values) {
	case "numeric":
		return "<id>"
	case "slug":
		return "<slug>"
	default:
		return "<variable>"
	}
}

func (s *URLStructure) discoverWithClustering() []*URLPattern {
	features := s.featureVectors()
	if len(features) < clusterMinSamples {
		return s.discoverWithHeuristics(s.urls)
	}

	labels := dbscan(features, clusterEps, clusterMinSamples)

	clusterOrder := []int{}
	clusters := map[int][]string{}
	for i, label := range labels {
		if label == noiseLabel {
			continue
		}
		if _, seen := clusters[label]; !seen {
			clusterOrder = append(clusterOrder, label)
		}
		clusters[label] = append(clusters[label], s.urls[i])
	}
	s.logger.Info("clustered sampled urls", zap.Int("clusters", len(clusters)), zap.Int("urls", len(s.urls)))

	var patterns []*URLPattern
	for _, label := range clusterOrder {
		if p := s.patternFromCluster(clusters[label]); p != nil {
			patterns = append(patterns, p)
		}
	}

	var unclustered []string
	for i, label := range labels {
		if label == noiseLabel {
			unclustered = append(unclustered, s.urls[i])
		}
	}
	if len(unclustered) > 0 {
		patterns = append(patterns, s.discoverWithHeuristics(unclustered)...)
	}
	return patterns
}

// featureVectors encodes each URL as a fixed-width vector: the host
// token first, then one slot per path segment. Numeric segments and
// hyphenated slugs collapse to sentinel values so differing ids land in
// the same cluster.
func (s *URLStructure) featureVectors() [][]float64 {
	maxParts := 0
	parsed := make([]*url.URL, 0, len(s.urls))
	for _, raw := range s.urls {
		u, err := url.Parse(raw)
		if err != nil {
			u = &url.URL{}
		}
		parsed = append(parsed, u)
		if n := len(pathParts(u.Path)); n > maxParts {
			maxParts = n
		}
	}

	features := make([][]float64, len(parsed))
	for i, u := range parsed {
		vec := make([]float64, maxParts+1)
		vec[0] = float64(hashToken(u.Host))
		for j, part := range pathParts(u.Path) {
			switch {
			case isNumeric(part):
				vec[j+1] = -1
			case strings.Contains(part, "-"):
				vec[j+1] = -2
			default:
				vec[j+1] = float64(hashToken(part))
			}
		}
		features[i] = vec
	}
	return features
}

func (s *URLStructure) patternFromCluster(clusterURLs []string) *URLPattern {
	common := findCommonPattern(clusterURLs)
	if common == "" {
		return nil
	}
	samples := clusterURLs
	if len(samples) > maxSampleURLs {
		samples = samples[:maxSampleURLs]
	}
	p, err := NewURLPattern(
		common,
		isListPattern(common),
		isDetailPattern(common),
		append([]string(nil), samples...),
		float64(len(clusterURLs))/float64(len(s.urls)),
	)
	if err != nil {
		s.logger.Warn("discarding invalid cluster pattern", zap.String("pattern", common), zap.Error(err))
		return nil
	}
	p.URLCount = len(clusterURLs)
	return p
}

// discoverWithHeuristics groups URLs by path depth, then by their fixed
// path segments. Groups too small to generalize become one pattern per
// URL.
func (s *URLStructure) discoverWithHeuristics(urls []string) []*URLPattern {
	if len(urls) == 0 {
		return nil
	}

	lengthOrder := []int{}
	byLength := map[int][]string{}
	for _, raw := range urls {
		n := len(pathParts(urlPath(raw)))
		if _, seen := byLength[n]; !seen {
			lengthOrder = append(lengthOrder, n)
		}
		byLength[n] = append(byLength[n], raw)
	}
	sort.Ints(lengthOrder)

	var patterns []*URLPattern
	for _, length := range lengthOrder {
		group := byLength[length]
		if len(group) < 3 {
			for _, raw := range group {
				p, err := NewURLPattern(
					raw,
					isListPattern(raw),
					isDetailPattern(raw),
					[]string{raw},
					1/float64(len(urls)),
				)
				if err != nil {
					continue
				}
				p.URLCount = 1
				patterns = append(patterns, p)
			}
			continue
		}
		for _, subgroup := range groupByFixedParts(group) {
			if p := s.patternFromSubgroup(subgroup, len(urls)); p != nil {
				patterns = append(patterns, p)
			}
		}
	}
	return patterns
}

func (s *URLStructure) patternFromSubgroup(subgroup []string, total int) *URLPattern {
	common := findCommonPattern(subgroup)
	if common == "" {
		return nil
	}
	samples := subgroup
	if len(samples) > maxSampleURLs {
		samples = samples[:maxSampleURLs]
	}
	p, err := NewURLPattern(
		common,
		isListPattern(common),
		isDetailPattern(common),
		append([]string(nil), samples...),
		float64(len(subgroup))/float64(total),
	)
	if err != nil {
		return nil
	}
	p.URLCount = len(subgroup)
	return p
}

// groupByFixedParts splits URLs by the values at path positions that are
// identical across the whole input.
func groupByFixedParts(urls []string) [][]string {
	parts := make([][]string, len(urls))
	maxLength := 0
	for i, raw := range urls {
		parts[i] = pathParts(urlPath(raw))
		if len(parts[i]) > maxLength {
			maxLength = len(parts[i])
		}
	}

	var fixedIndices []int
	for pos := 0; pos < maxLength; pos++ {
		values := map[string]struct{}{}
		for _, p := range parts {
			if pos < len(p) {
				values[p[pos]] = struct{}{}
			}
		}
		if len(values) == 1 {
			fixedIndices = append(fixedIndices, pos)
		}
	}

	keyOrder := []string{}
	groups := map[string][]string{}
	for i, raw := range urls {
		var key strings.Builder
		for _, pos := range fixedIndices {
			if pos < len(parts[i]) {
				key.WriteString(parts[i][pos])
			}
			key.WriteByte('/')
		}
		k := key.String()
		if _, seen := groups[k]; !seen {
			keyOrder = append(keyOrder, k)
		}
		groups[k] = append(groups[k], raw)
	}

	out := make([][]string, 0, len(groups))
	for _, k := range keyOrder {
		out = append(out, groups[k])
	}
	return out
}

// findCommonPattern builds a wildcard template for a group of URLs:
// positions where every URL agrees keep the literal segment, all others
// become "*". The template carries the host but no scheme.
func findCommonPattern(urls []string) string {
	if len(urls) == 0 {
		return ""
	}

	parsed := make([]*url.URL, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		parsed = append(parsed, u)
	}
	if len(parsed) == 0 {
		return ""
	}

	parts := make([][]string, len(parsed))
	maxLength := 0
	for i, u := range parsed {
		parts[i] = pathParts(u.Path)
		if len(parts[i]) > maxLength {
			maxLength = len(parts[i])
		}
	}

	var template []string
	for pos := 0; pos < maxLength; pos++ {
		values := map[string]struct{}{}
		for _, p := range parts {
			if pos < len(p) {
				values[p[pos]] = struct{}{}
			}
		}
		if len(values) == 1 {
			for _, p := range parts {
				if pos < len(p) {
					template = append(template, p[pos])
					break
				}
			}
		} else {
			template = append(template, "*")
		}
	}

	return parsed[0].Host + "/" + strings.Join(template, "/")
}

var listIndicators = []string{
	"/category/", "/tag/", "/archive/", "/blog/", "/articles/",
	"/questions/", "/list/", "/search/", "/page/", "?page=",
	"archive", "category", "tag", "blog", "articles",
}

// isListPattern reports whether the pattern or URL names a listing
// surface.
func isListPattern(pattern string) bool {
	for _, indicator := range listIndicators {
		if strings.Contains(pattern, indicator) {
			return true
		}
	}
	return false
}

var detailIndicator = regexp.MustCompile(`/post/|/article/|/question/|/view/|/show/|/single/|/[0-9]+/|/[^/]+/`)

// isDetailPattern reports whether the pattern or URL looks like a
// content detail page: it carries a variable slot or a detail path
// token, and no listing indicator. The scheme is stripped first so the
// // of an absolute URL cannot pose as a path segment.
func isDetailPattern(pattern string) bool {
	if idx := strings.Index(pattern, "://"); idx >= 0 {
		pattern = pattern[idx+3:]
	}
	hasVariable := strings.Contains(pattern, "*")
	hasIndicator := detailIndicator.MatchString(pattern)
	return (hasVariable || hasIndicator) && !isListPattern(pattern)
}

// MatchURL returns the first discovered pattern the URL fits, or nil.
func (s *URLStructure) MatchURL(rawURL string) *URLPattern {
	for _, p := range s.patterns {
		if p.Matches(rawURL) {
			return p
		}
	}
	return nil
}

// PatternForURL returns the matching pattern, or synthesizes a
// low-weight single-URL pattern when nothing fits.
func (s *URLStructure) PatternForURL(rawURL string) *URLPattern {
	if p := s.MatchURL(rawURL); p != nil {
		return p
	}
	p, err := NewURLPattern(
		rawURL,
		isListPattern(rawURL),
		isDetailPattern(rawURL),
		[]string{rawURL},
		0.1,
	)
	if err != nil {
		return nil
	}
	return p
}

type urlPatternsFile struct {
	BaseURL           string             `json:"base_url"`
	ImportantSections []ImportantSection `json:"important_sections"`
	Patterns          []*URLPattern      `json:"patterns"`
}

// Save writes the discovered patterns and section analysis to a JSON
// file.
func (s *URLStructure) Save(path string) error {
	data, err := json.MarshalIndent(urlPatternsFile{
		BaseURL:           s.BaseURL,
		ImportantSections: s.importantSections,
		Patterns:          s.patterns,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal url patterns: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create patterns dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write url patterns: %w", err)
	}
	s.logger.Info("url patterns saved", zap.String("path", path), zap.Int("patterns", len(s.patterns)))
	return nil
}

// Load restores patterns previously written by Save.
func (s *URLStructure) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read url patterns: %w", err)
	}
	var file urlPatternsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode url patterns: %w", err)
	}
	if file.BaseURL != "" {
		s.BaseURL = file.BaseURL
	}
	s.importantSections = file.ImportantSections
	s.patterns = s.patterns[:0]
	for _, p := range file.Patterns {
		regex, err := patternToRegex(p.Pattern)
		if err != nil {
			s.logger.Warn("skipping stored pattern that no longer compiles",
				zap.String("pattern", p.Pattern), zap.Error(err))
			continue
		}
		p.regex = regex
		s.patterns = append(s.patterns, p)
	}
	s.logger.Info("url patterns loaded", zap.String("path", path), zap.Int("patterns", len(s.patterns)))
	return nil
}

func pathParts(path string) []string {
	var parts []string
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hashToken(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32() % 1000000
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
