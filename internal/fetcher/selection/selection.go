// Package selection extracts bulletin text from an HTML document.
package selection

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSelector matches the first block of the alerts sidebar.
const DefaultSelector = "#progress-navigation--sidebar--content > div > div:nth-child(1)"

// Config controls which DOM nodes are read.
type Config struct {
	Selector string
	// UseParent reads the parent of each match instead of the match itself.
	UseParent bool
}

// Text returns the text of every node matching cfg.Selector, joined by a
// blank line. No matches yields an empty string.
func Text(html []byte, cfg Config) (string, error) {
	selector := strings.TrimSpace(cfg.Selector)
	if selector == "" {
		selector = DefaultSelector
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	matches := doc.Find(selector)
	if cfg.UseParent {
		matches = matches.Parent()
	}
	texts := make([]string, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, s.Text())
	})
	return strings.Join(texts, "\n\n"), nil
}
