package llmpage

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxPageChars   = 15000
	maxDetailChars = 5000
	maxDetailLinks = 3
)

var detailLinkWords = []string{"learn more", "details"}

// pageText returns the visible body text of an HTML document with whitespace
// collapsed, truncated to limit runes.
func pageText(doc *goquery.Document, limit int) string {
	doc.Find("script, style, noscript, svg, iframe").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return truncate(text, limit)
}

// detailLinks collects the targets of "learn more" / "details" anchors,
// resolved against base, in document order without repeats.
func detailLinks(doc *goquery.Document, base string, limit int) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if !containsAny(text, detailLinkWords) {
			return true
		}
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		abs := baseURL.ResolveReference(ref).String()
		if seen[abs] {
			return true
		}
		seen[abs] = true
		links = append(links, abs)
		return len(links) < limit
	})
	return links
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
