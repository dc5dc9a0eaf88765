// Package extract pulls structured content out of fetched HTML.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"smartcrawl/internal/crawler"
)

// SelectorProvider supplies the selectors learned for a page, keyed by
// field name (container, item, title, link, summary, content, date, author).
type SelectorProvider interface {
	SelectorsFor(url string, jobType crawler.JobType) map[string]string
}

// Extractor implements crawler.Extractor with goquery. Learned selectors
// are preferred; pages without them fall back to generic heuristics.
type Extractor struct {
	selectors SelectorProvider
	logger    *zap.Logger
}

// New creates an Extractor. The selector provider may be nil, in which
// case every page is extracted heuristically.
func New(selectors SelectorProvider, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{selectors: selectors, logger: logger}
}

// Extract parses the page and returns its structured content.
func (e *Extractor) Extract(_ context.Context, html, pageURL string, jobType crawler.JobType) (crawler.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.Document{}, fmt.Errorf("parse html: %w", err)
	}

	// Chrome, navigation, and sidebars never carry the main content.
	doc.Find("header, footer, nav, aside, script, style").Remove()

	var selectors map[string]string
	if e.selectors != nil {
		selectors = e.selectors.SelectorsFor(pageURL, jobType)
	}

	out := crawler.Document{URL: pageURL, Type: jobType}
	if jobType == crawler.JobTypeList {
		e.extractList(doc, selectors, pageURL, &out)
	} else {
		e.extractDetail(doc, selectors, &out)
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(desc) != "" {
		out.Metadata = map[string]string{"description": strings.TrimSpace(desc)}
	}
	return out, nil
}

func (e *Extractor) extractDetail(doc *goquery.Document, selectors map[string]string, out *crawler.Document) {
	container := doc.Selection
	if sel := selectors["container"]; sel != "" {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			container = found
		}
	}

	out.Title = e.title(doc, container, selectors["title"])

	if sel := selectors["content"]; sel != "" {
		out.Content = cleanText(container.Find(sel).First())
	}
	if out.Content == "" {
		out.Content = e.mainContent(doc, container, selectors["container"] != "")
	}

	out.Date = firstNonEmpty(
		selectorText(container, selectors["date"]),
		cleanText(doc.Find("time").First()),
		metaContent(doc, `meta[property="article:published_time"]`),
	)
	out.Author = firstNonEmpty(
		selectorText(container, selectors["author"]),
		cleanText(doc.Find(`[class*="author"]`).First()),
		metaContent(doc, `meta[name="author"]`),
	)
}

func (e *Extractor) extractList(doc *goquery.Document, selectors map[string]string, pageURL string, out *crawler.Document) {
	out.Title = e.title(doc, doc.Selection, selectors["title"])

	container := doc.Selection
	if sel := selectors["container"]; sel != "" {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			container = found
		}
	}

	itemSel := selectors["item"]
	if itemSel == "" {
		// Without learned selectors, headings that link somewhere are the
		// closest thing to list entries.
		doc.Find("h2, h3").Each(func(_ int, heading *goquery.Selection) {
			link := heading.Find("a").First()
			if link.Length() == 0 {
				link = heading.Closest("a")
			}
			href, _ := link.Attr("href")
			if href == "" {
				return
			}
			out.Items = append(out.Items, crawler.ListItem{
				Title: cleanText(heading),
				Link:  resolveLink(pageURL, href),
			})
		})
		return
	}

	container.Find(itemSel).Each(func(_ int, item *goquery.Selection) {
		entry := crawler.ListItem{
			Title:   selectorText(item, selectors["title"]),
			Summary: selectorText(item, selectors["summary"]),
		}
		linkSel := selectors["link"]
		if linkSel == "" {
			linkSel = "a"
		}
		if href, ok := item.Find(linkSel).First().Attr("href"); ok {
			entry.Link = resolveLink(pageURL, href)
		}
		if entry.Title == "" && entry.Link == "" {
			return
		}
		out.Items = append(out.Items, entry)
	})
}

func (e *Extractor) title(doc *goquery.Document, container *goquery.Selection, sel string) string {
	if sel != "" {
		if t := selectorText(container, sel); t != "" {
			return t
		}
	}
	if t := cleanText(doc.Find("title").First()); t != "" {
		return t
	}
	return cleanText(doc.Find("h1").First())
}

// mainContent returns the text of the largest article/div/section block,
// or the whole page text when no block stands out.
func (e *Extractor) mainContent(doc *goquery.Document, container *goquery.Selection, scoped bool) string {
	root := doc.Selection
	if scoped {
		root = container
	}
	best := ""
	root.Find("article, div, section").Each(func(_ int, block *goquery.Selection) {
		if text := cleanText(block); len(text) > len(best) {
			best = text
		}
	})
	if best != "" {
		return best
	}
	return cleanText(root)
}

func selectorText(root *goquery.Selection, sel string) string {
	if sel == "" {
		return ""
	}
	return cleanText(root.Find(sel).First())
}

func metaContent(doc *goquery.Document, sel string) string {
	content, _ := doc.Find(sel).Attr("content")
	return strings.TrimSpace(content)
}

func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolveLink(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
