// Package feed implements bulletin.Source for RSS and Atom alert feeds.
//
// Items are rendered into the same line layout the HTML sidebar uses, so the
// deterministic parser reads feeds without a separate code path:
//
//	<feed title>
//
//	<item title>: <category>, <category>
//	<item description>
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
)

// Config controls feed fetching.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads and renders a feed.
type Fetcher struct {
	parser *gofeed.Parser
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &Fetcher{parser: parser, logger: logger.Named("feed")}
}

// Fetch parses the feed at url and renders its items as bulletin text.
// A feed without items yields an empty string.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", bulletin.ErrFetch, url, err)
	}
	f.logger.Debug("parsed feed", zap.String("url", url), zap.Int("items", len(parsed.Items)))
	return Render(parsed), nil
}

// Render converts a parsed feed into banner-prefixed header/content lines.
func Render(parsed *gofeed.Feed) string {
	if parsed == nil || len(parsed.Items) == 0 {
		return ""
	}
	banner := oneLine(parsed.Title)
	if banner == "" {
		banner = "Alerts"
	}

	blocks := make([]string, 0, len(parsed.Items)+1)
	blocks = append(blocks, banner)
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		title := headerSafe(item.Title)
		body := item.Description
		if strings.TrimSpace(body) == "" {
			body = item.Content
		}
		content := oneLine(stripHTML(body))
		if title == "" && content == "" {
			continue
		}
		if title == "" {
			title = "Notice"
		}
		if content == "" {
			content = title
		}

		buses := make([]string, 0, len(item.Categories))
		for _, c := range item.Categories {
			if c = headerSafe(strings.ReplaceAll(c, ",", " ")); c != "" {
				buses = append(buses, c)
			}
		}
		header := title
		if len(buses) > 0 {
			header = title + ": " + strings.Join(buses, ", ")
		}
		blocks = append(blocks, header+"\n"+content)
	}
	if len(blocks) == 1 {
		return ""
	}
	return strings.Join(blocks, "\n\n")
}

// headerSafe removes characters that would split a header line.
func headerSafe(s string) string {
	return oneLine(strings.ReplaceAll(s, ":", " -"))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
