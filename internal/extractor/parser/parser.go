// Package parser implements the deterministic line-based bulletin parser.
//
// Input text is expected to look like
//
//	<banner line>
//	Route 5: 5, 5A
//	Buses delayed due to weather
//	Route 9: 9
//	Service suspended
//
// Blank lines are ignored. After the banner, lines alternate between a
// header ("title: bus, bus") and the content for that header.
package parser

import (
	"context"
	"strings"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
)

// bannerLines is the number of leading non-blank lines that precede bulletins.
const bannerLines = 1

// Parser implements bulletin.Extractor without any I/O.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Extract satisfies bulletin.Extractor. It never fails.
func (p *Parser) Extract(_ context.Context, text string) ([]bulletin.Record, error) {
	return Parse(text), nil
}

// Parse splits text into records. A trailing header with no content line is
// kept with empty content.
func Parse(text string) []bulletin.Record {
	lines := nonBlankLines(text)
	if len(lines) <= bannerLines {
		return []bulletin.Record{}
	}
	lines = lines[bannerLines:]

	records := make([]bulletin.Record, 0, (len(lines)+1)/2)
	for i := 0; i < len(lines); i += 2 {
		rec := parseHeader(lines[i])
		if i+1 < len(lines) {
			rec.Content = strings.TrimSpace(lines[i+1])
		}
		records = append(records, rec)
	}
	return records
}

func nonBlankLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// parseHeader reads "title: bus1, bus2". Only the segment between the first
// and second colon is treated as the bus list.
func parseHeader(line string) bulletin.Record {
	parts := strings.Split(line, ":")
	rec := bulletin.Record{
		Title: strings.TrimSpace(parts[0]),
		Buses: []string{},
	}
	if len(parts) < 2 {
		return rec
	}
	for _, token := range strings.Split(parts[1], ",") {
		if bus := strings.TrimSpace(token); bus != "" {
			rec.Buses = append(rec.Buses, bus)
		}
	}
	return rec
}
