package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanDescription turns an HTML-ish description into plain text with one
// paragraph per line.
func CleanDescription(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseLines(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseLines(s)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return collapseLines(doc.Text())
}

func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
