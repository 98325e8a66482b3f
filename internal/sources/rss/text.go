package rss

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText flattens an HTML fragment (typical of feed descriptions) to
// whitespace-collapsed plain text. Input that fails to parse is returned trimmed.
func HTMLToText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" || !strings.ContainsAny(fragment, "<&") {
		return collapseSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("br, p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
