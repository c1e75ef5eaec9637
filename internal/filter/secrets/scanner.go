// Package secrets detects credentials in chat messages and uploaded documents.
package secrets

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/filter"
)

type Detection struct {
	PatternName string
	Start       int // byte offsets
	End         int
}

// Scanner blocks messages containing secrets and redacts them from documents before indexing.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.SecretsFilterConfig
}

func NewScanner(cfg func() config.SecretsFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "secrets" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{PatternName: p.Name, Start: loc[0], End: loc[1]})
		}
	}
	return detections
}

// ScanRequest implements filter.Filter.
func (s *Scanner) ScanRequest(_ context.Context, in *filter.Input) filter.Result {
	detections := s.Scan(in.Message)
	if len(detections) == 0 {
		return filter.Result{Action: filter.ActionPass, FilterName: s.Name()}
	}
	return filter.Result{
		Action:     filter.ActionBlock,
		FilterName: s.Name(),
		Message:    fmt.Sprintf("Message blocked: it appears to contain a secret (%s)", detections[0].PatternName),
		Detections: len(detections),
	}
}

// Redact replaces every detected secret with a [REDACTED:<pattern>] marker. Overlapping
// detections collapse into the earliest one.
func (s *Scanner) Redact(text string) (string, int) {
	detections := s.Scan(text)
	if len(detections) == 0 {
		return text, 0
	}
	slices.SortStableFunc(detections, func(a, b Detection) int { return a.Start - b.Start })

	var b strings.Builder
	pos, n := 0, 0
	for _, d := range detections {
		if d.Start < pos {
			continue
		}
		b.WriteString(text[pos:d.Start])
		b.WriteString("[REDACTED:" + d.PatternName + "]")
		pos = d.End
		n++
	}
	b.WriteString(text[pos:])
	return b.String(), n
}
