package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Page types assigned by HTML analysis.
const (
	PageTypeList    = "list"
	PageTypeDetail  = "detail"
	PageTypeGeneric = "generic"
)

// A page needs at least this many repeated item blocks to be considered
// a listing.
const minRepeatedItems = 3

// Detail pages carry one h1 and a content block longer than this.
const minDetailContentLen = 500

// PageAnalysis is the outcome of analyzing one page's HTML.
type PageAnalysis struct {
	URL       string            `json:"url"`
	Type      string            `json:"type"`
	Selectors map[string]string `json:"selectors"`
}

// HTMLPatternFinder infers CSS selectors for list and detail pages by
// probing common layout conventions. Selectors are keyed by the sample
// URL they were learned from.
type HTMLPatternFinder struct {
	ListSelectors   map[string]map[string]string `json:"list_selectors"`
	DetailSelectors map[string]map[string]string `json:"detail_selectors"`

	logger *zap.Logger
}

// NewHTMLPatternFinder constructs an empty finder.
func NewHTMLPatternFinder(logger *zap.Logger) *HTMLPatternFinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTMLPatternFinder{
		ListSelectors:   make(map[string]map[string]string),
		DetailSelectors: make(map[string]map[string]string),
		logger:          logger,
	}
}

// AnalyzeHTML classifies a page and infers its selectors, remembering
// list and detail selectors for later lookup.
func (f *HTMLPatternFinder) AnalyzeHTML(html, url string) (PageAnalysis, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageAnalysis{URL: url, Type: "unknown"}, fmt.Errorf("parse html for %s: %w", url, err)
	}

	pageType := detectPageType(url, doc)

	var selectors map[string]string
	switch pageType {
	case PageTypeList:
		selectors = analyzeListPage(doc)
		f.ListSelectors[url] = selectors
	case PageTypeDetail:
		selectors = analyzeDetailPage(doc)
		f.DetailSelectors[url] = selectors
	default:
		selectors = analyzeGenericPage(doc)
	}

	return PageAnalysis{URL: url, Type: pageType, Selectors: selectors}, nil
}

var urlListPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/category/`),
	regexp.MustCompile(`/tag/`),
	regexp.MustCompile(`/archive/`),
	regexp.MustCompile(`/blog/`),
	regexp.MustCompile(`/articles/`),
	regexp.MustCompile(`/questions/`),
	regexp.MustCompile(`/list/`),
	regexp.MustCompile(`/search/`),
	regexp.MustCompile(`/page/[0-9]+`),
	regexp.MustCompile(`\?page=[0-9]+`),
}

var (
	itemBlockClass     = regexp.MustCompile(`(post|article|item|card)s?`)
	detailContainClass = regexp.MustCompile(`(post|article|content)`)
	detailSuffixClass  = regexp.MustCompile(`(post|article|content)-detail`)
	singleClass        = regexp.MustCompile(`single`)
	contentBodyClass   = regexp.MustCompile(`(content|text|body)`)
)

// detectPageType classifies a page from its URL shape and HTML layout.
func detectPageType(url string, doc *goquery.Document) string {
	for _, re := range urlListPatterns {
		if re.MatchString(url) {
			return PageTypeList
		}
	}

	repeatedCandidates := []*goquery.Selection{
		findAllByClass(doc.Selection, "div", itemBlockClass),
		findAllByClass(doc.Selection, "li", itemBlockClass),
		doc.Find("article"),
	}
	for _, candidates := range repeatedCandidates {
		if candidates.Length() >= minRepeatedItems {
			return PageTypeList
		}
	}

	detailIndicators := []*goquery.Selection{
		findAllByClass(doc.Selection, "article", detailContainClass),
		findAllByClass(doc.Selection, "div", detailSuffixClass),
		findAllByID(doc.Selection, "div", detailSuffixClass),
		findAllByClass(doc.Selection, "div", singleClass),
		findAllByClass(doc.Selection, "section", detailContainClass),
	}
	for _, indicator := range detailIndicators {
		if indicator.Length() > 0 {
			return PageTypeDetail
		}
	}

	if doc.Find("h1").Length() == 1 {
		long := false
		findAllByClass(doc.Selection, "p", contentBodyClass).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if len(s.Text()) > minDetailContentLen {
				long = true
				return false
			}
			return true
		})
		if !long {
			findAllByClass(doc.Selection, "div", contentBodyClass).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if len(s.Text()) > minDetailContentLen {
					long = true
					return false
				}
				return true
			})
		}
		if long {
			return PageTypeDetail
		}
	}

	return PageTypeGeneric
}

type selectorCandidate struct {
	tag   string
	class *regexp.Regexp
}

var listContainerCandidates = []selectorCandidate{
	{"div", regexp.MustCompile(`(posts|articles|items|cards|list)s?-container`)},
	{"div", regexp.MustCompile(`(posts|articles|items|cards|list)s?`)},
	{"ul", regexp.MustCompile(`(posts|articles|items|cards|list)s?`)},
	{"section", regexp.MustCompile(`(posts|articles|items|cards|list)s?`)},
}

var listItemCandidates = []selectorCandidate{
	{"div", regexp.MustCompile(`(post|article|item|card)s?-item`)},
	{"div", regexp.MustCompile(`(post|article|item|card)s?`)},
	{"article", nil},
	{"li", regexp.MustCompile(`(post|article|item|card)s?`)},
}

// analyzeListPage infers the container, item, title, link, summary, and
// pagination selectors of a listing page.
func analyzeListPage(doc *goquery.Document) map[string]string {
	selectors := map[string]string{}

	var container *goquery.Selection
	for _, cand := range listContainerCandidates {
		if found := firstByClass(doc.Selection, cand.tag, cand.class); found != nil {
			container = found
			selectors["container"] = selectorName(cand.tag, found, true)
			break
		}
	}

	if container == nil {
		articles := doc.Find("article")
		if articles.Length() >= 2 {
			container = articles.First().Parent()
			selectors["container"] = selectorName(goquery.NodeName(container), container, true)
			selectors["item"] = "article"
		}
	}

	if container != nil {
		if _, ok := selectors["item"]; !ok {
			for _, cand := range listItemCandidates {
				items := findAllByClass(container, cand.tag, cand.class)
				if items.Length() > 1 {
					selectors["item"] = selectorName(cand.tag, items.First(), true)
					break
				}
			}
		}
	}

	if container != nil {
		if itemSel, ok := selectors["item"]; ok {
			items := container.Find(itemSel)
			probeItemFields(items, selectors)
		}
	}

	for _, cand := range []selectorCandidate{
		{"div", regexp.MustCompile(`pagination`)},
		{"ul", regexp.MustCompile(`pagination`)},
		{"nav", regexp.MustCompile(`pagination`)},
		{"div", regexp.MustCompile(`paging`)},
	} {
		if pagination := firstByClass(doc.Selection, cand.tag, cand.class); pagination != nil {
			selectors["pagination"] = selectorName(cand.tag, pagination, true)
			if pagination.Find("a").Length() > 0 {
				selectors["pagination_links"] = "a"
			}
			break
		}
	}

	return selectors
}

// probeItemFields checks the first items of a listing for a title, link,
// and summary element that every probed item contains.
func probeItemFields(items *goquery.Selection, selectors map[string]string) {
	probe := items
	if probe.Length() > 3 {
		probe = probe.Slice(0, 3)
	}
	if probe.Length() == 0 {
		return
	}

	titleCandidates := []selectorCandidate{
		{"h2", nil}, {"h3", nil}, {"h4", nil},
		{"div", regexp.MustCompile(`title`)},
		{"span", regexp.MustCompile(`title`)},
		{"a", nil},
	}
	for _, cand := range titleCandidates {
		if el, all := allItemsContain(probe, cand); all {
			selectors["title"] = selectorName(cand.tag, el, cand.class != nil)
			break
		}
	}

	if _, all := allItemsContain(probe, selectorCandidate{"a", nil}); all {
		selectors["link"] = "a"
	}

	summaryCandidates := []selectorCandidate{
		{"p", nil},
		{"div", regexp.MustCompile(`(summary|excerpt)`)},
		{"span", regexp.MustCompile(`(summary|excerpt)`)},
		{"div", regexp.MustCompile(`content`)},
	}
	for _, cand := range summaryCandidates {
		if el, all := allItemsContain(probe, cand); all {
			selectors["summary"] = selectorName(cand.tag, el, cand.class != nil)
			break
		}
	}
}

func allItemsContain(items *goquery.Selection, cand selectorCandidate) (*goquery.Selection, bool) {
	var first *goquery.Selection
	all := true
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		found := firstByClass(item, cand.tag, cand.class)
		if found == nil {
			all = false
			return false
		}
		if first == nil {
			first = found
		}
		return true
	})
	return first, all && first != nil
}

var detailContainerCandidates = []selectorCandidate{
	{"article", nil},
	{"div", regexp.MustCompile(`(post|article|content)-content`)},
	{"div", regexp.MustCompile(`(post|article|content)-detail`)},
	{"div", regexp.MustCompile(`(post|article|content)`)},
	{"section", regexp.MustCompile(`(post|article|content)`)},
}

// analyzeDetailPage infers the container, title, content, date, and
// author selectors of a detail page.
func analyzeDetailPage(doc *goquery.Document) map[string]string {
	selectors := map[string]string{}

	var container *goquery.Selection
	for _, cand := range detailContainerCandidates {
		if found := firstByClass(doc.Selection, cand.tag, cand.class); found != nil {
			container = found
			selectors["container"] = selectorName(cand.tag, found, cand.class != nil)
			break
		}
	}

	if container == nil {
		for _, class := range []string{"content", "entry-content", "post-content", "article-content"} {
			if found := doc.Find("div." + class); found.Length() > 0 {
				container = found.First()
				selectors["container"] = "div." + class
				break
			}
		}
	}

	if container == nil {
		return selectors
	}

	titleCandidates := []selectorCandidate{
		{"h1", nil}, {"h2", nil},
		{"div", regexp.MustCompile(`title`)},
		{"span", regexp.MustCompile(`title`)},
	}
	for _, cand := range titleCandidates {
		if found := firstByClass(doc.Selection, cand.tag, cand.class); found != nil {
			selectors["title"] = selectorName(cand.tag, found, cand.class != nil)
			break
		}
	}

	contentCandidates := []selectorCandidate{
		{"div", regexp.MustCompile(`content`)},
		{"div", regexp.MustCompile(`body`)},
		{"div", regexp.MustCompile(`text`)},
	}
	for _, cand := range contentCandidates {
		if found := firstByClass(container, cand.tag, cand.class); found != nil {
			selectors["content"] = selectorName(cand.tag, found, true)
			break
		}
	}
	if _, ok := selectors["content"]; !ok {
		selectors["content"] = selectors["container"]
	}

	dateCandidates := []selectorCandidate{
		{"time", nil},
		{"span", regexp.MustCompile(`date`)}, {"div", regexp.MustCompile(`date`)},
		{"span", regexp.MustCompile(`time`)}, {"div", regexp.MustCompile(`time`)},
		{"span", regexp.MustCompile(`published`)}, {"div", regexp.MustCompile(`published`)},
	}
	for _, cand := range dateCandidates {
		if found := firstByClass(container, cand.tag, cand.class); found != nil {
			selectors["date"] = selectorName(cand.tag, found, cand.class != nil)
			break
		}
	}

	authorCandidates := []selectorCandidate{
		{"span", regexp.MustCompile(`author`)}, {"div", regexp.MustCompile(`author`)},
		{"a", regexp.MustCompile(`author`)},
		{"div", regexp.MustCompile(`writer`)}, {"span", regexp.MustCompile(`writer`)},
	}
	for _, cand := range authorCandidates {
		if found := firstByClass(container, cand.tag, cand.class); found != nil {
			selectors["author"] = selectorName(cand.tag, found, cand.class != nil)
			break
		}
	}

	return selectors
}

var skipSections = map[string]struct{}{
	"wp-content": {}, "wp-includes": {}, "js": {}, "css": {}, "img": {}, "images": {},
}

// analyzeGenericPage records the page heading, navigation, and the most
// linked top-level path sections.
func analyzeGenericPage(doc *goquery.Document) map[string]string {
	selectors := map[string]string{}

	if h1 := doc.Find("h1"); h1.Length() > 0 {
		selectors["title"] = selectorName("h1", h1.First(), true)
	}

	navCandidates := []selectorCandidate{
		{"nav", nil},
		{"div", regexp.MustCompile(`nav`)},
		{"div", regexp.MustCompile(`menu`)},
		{"ul", regexp.MustCompile(`menu`)},
	}
	for _, cand := range navCandidates {
		if found := firstByClass(doc.Selection, cand.tag, cand.class); found != nil {
			selectors["navigation"] = selectorName(cand.tag, found, cand.class != nil)
			break
		}
	}

	sectionCounts := map[string]int{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "http") && !strings.HasPrefix(href, "/") {
			return
		}
		parts := pathParts(urlPath(href))
		if len(parts) == 0 {
			return
		}
		if _, skip := skipSections[parts[0]]; skip {
			return
		}
		sectionCounts[parts[0]]++
	})
	if len(sectionCounts) > 0 {
		sections := make([]string, 0, len(sectionCounts))
		for section := range sectionCounts {
			sections = append(sections, section)
		}
		sort.Slice(sections, func(i, j int) bool {
			if sectionCounts[sections[i]] != sectionCounts[sections[j]] {
				return sectionCounts[sections[i]] > sectionCounts[sections[j]]
			}
			return sections[i] < sections[j]
		})
		if len(sections) > 5 {
			sections = sections[:5]
		}
		selectors["main_sections"] = strings.Join(sections, ",")
	}

	return selectors
}

// firstByClass returns the first element with the tag whose class
// matches the pattern, or nil. A nil pattern matches any element of the
// tag.
func firstByClass(root *goquery.Selection, tag string, class *regexp.Regexp) *goquery.Selection {
	found := findAllByClass(root, tag, class)
	if found.Length() == 0 {
		return nil
	}
	return found.First()
}

func findAllByClass(root *goquery.Selection, tag string, class *regexp.Regexp) *goquery.Selection {
	all := root.Find(tag)
	if class == nil {
		return all
	}
	return all.FilterFunction(func(_ int, s *goquery.Selection) bool {
		attr, ok := s.Attr("class")
		return ok && class.MatchString(attr)
	})
}

func findAllByID(root *goquery.Selection, tag string, id *regexp.Regexp) *goquery.Selection {
	return root.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		attr, ok := s.Attr("id")
		return ok && id.MatchString(attr)
	})
}

// selectorName renders "tag" or "tag.class" using the element's first
// class token.
func selectorName(tag string, el *goquery.Selection, withClass bool) string {
	if !withClass || el == nil {
		return tag
	}
	attr, ok := el.Attr("class")
	if !ok {
		return tag
	}
	fields := strings.Fields(attr)
	if len(fields) == 0 {
		return tag
	}
	return tag + "." + fields[0]
}

type htmlPatternsFile struct {
	ListSelectors   map[string]map[string]string `json:"list_selectors"`
	DetailSelectors map[string]map[string]string `json:"detail_selectors"`
}

// Save writes the learned selectors to a JSON file.
func (f *HTMLPatternFinder) Save(path string) error {
	data, err := json.MarshalIndent(htmlPatternsFile{
		ListSelectors:   f.ListSelectors,
		DetailSelectors: f.DetailSelectors,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal html patterns: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create patterns dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write html patterns: %w", err)
	}
	f.logger.Info("html patterns saved",
		zap.String("path", path),
		zap.Int("list", len(f.ListSelectors)),
		zap.Int("detail", len(f.DetailSelectors)),
	)
	return nil
}

// Load restores selectors previously written by Save.
func (f *HTMLPatternFinder) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read html patterns: %w", err)
	}
	var file htmlPatternsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode html patterns: %w", err)
	}
	f.ListSelectors = file.ListSelectors
	f.DetailSelectors = file.DetailSelectors
	if f.ListSelectors == nil {
		f.ListSelectors = make(map[string]map[string]string)
	}
	if f.DetailSelectors == nil {
		f.DetailSelectors = make(map[string]map[string]string)
	}
	f.logger.Info("html patterns loaded", zap.String("path", path))
	return nil
}
