package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText reduces HTML news content to whitespace-normalized text.
// Input that does not parse is returned with whitespace collapsed.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style, noscript").Remove()
	// Keep block boundaries from gluing words together
	doc.Find("p, div, br, li, h1, h2, h3, h4, h5, h6, td").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
