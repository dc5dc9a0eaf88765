package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks pulls same-host anchor targets out of an HTML page.
// Relative hrefs are resolved against baseURL, fragments and javascript:
// pseudo-links are dropped, and duplicates within the page collapse to
// one entry in document order.
func ExtractLinks(html, baseURL, host string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		normalized, err := NormalizeURL(href, baseURL)
		if err != nil {
			return
		}
		if Host(normalized) != host {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})
	return links
}
