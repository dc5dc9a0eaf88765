package crawler

import (
	"encoding/xml"
	"strings"
)

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapEntries holds the outcome of parsing one sitemap document.
// Exactly one of nested/pages is populated for XML documents; the
// plain-text fallback only ever yields pages.
type sitemapEntries struct {
	nested []string
	pages  []string
}

// parseSitemap decodes a sitemap body. It first tries the two sitemap XML
// document types; on XML failure it falls back to treating the body as a
// newline-delimited URL list, skipping blank lines and # comments.
func parseSitemap(body string) sitemapEntries {
	trimmed := strings.TrimSpace(body)

	var index sitemapIndex
	if err := xml.Unmarshal([]byte(trimmed), &index); err == nil {
		var nested []string
		for _, sm := range index.Sitemaps {
			if loc := strings.TrimSpace(sm.Loc); loc != "" {
				nested = append(nested, loc)
			}
		}
		return sitemapEntries{nested: nested}
	}

	var set urlSet
	if err := xml.Unmarshal([]byte(trimmed), &set); err == nil {
		var pages []string
		for _, entry := range set.URLs {
			if loc := strings.TrimSpace(entry.Loc); loc != "" {
				pages = append(pages, loc)
			}
		}
		return sitemapEntries{pages: pages}
	}

	var pages []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pages = append(pages, line)
	}
	return sitemapEntries{pages: pages}
}
