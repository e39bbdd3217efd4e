package collyfetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// invisibleElements never contribute text.
const invisibleElements = "script, style, noscript, template"

// extractText decodes body using the detected encoding and returns its visible
// text. With a selector, only matched elements contribute; matched reports
// whether anything did. Without matches the full page text is returned.
func extractText(body []byte, contentType, selector string) (string, string, bool, error) {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", name, false, fmt.Errorf("decode %s body: %w", name, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return "", name, false, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(invisibleElements).Remove()

	if selector != "" {
		selection := doc.Find(selector)
		if selection.Length() > 0 {
			parts := make([]string, 0, selection.Length())
			selection.Each(func(_ int, s *goquery.Selection) {
				parts = append(parts, strings.Join(visibleLines(s.Nodes), " "))
			})
			return strings.Join(parts, "\n"), name, true, nil
		}
	}
	return strings.Join(visibleLines(doc.Nodes), "\n"), name, false, nil
}

// visibleLines collects trimmed, non-empty text nodes in document order.
func visibleLines(nodes []*html.Node) []string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if line := strings.TrimSpace(n.Data); line != "" {
				lines = append(lines, line)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return lines
}
