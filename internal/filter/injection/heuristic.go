// Package injection scores chat messages against prompt-injection heuristics.
package injection

import (
	"context"
	"fmt"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/filter"
)

type Detection struct {
	RuleName string
	Severity float64
	Category string
	Start    int
	End      int
}

type Scanner struct {
	rules []Rule
	cfg   func() config.InjectionFilterConfig
}

func NewScanner(cfg func() config.InjectionFilterConfig) *Scanner {
	return &Scanner{rules: DefaultRules(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "injection" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan returns every rule match in text and the highest severity among them.
func (s *Scanner) Scan(text string) ([]Detection, float64) {
	var detections []Detection
	score := 0.0
	for _, r := range s.rules {
		for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				RuleName: r.Name,
				Severity: r.Severity,
				Category: r.Category,
				Start:    loc[0],
				End:      loc[1],
			})
			score = max(score, r.Severity)
		}
	}
	return detections, score
}

// ScanRequest implements filter.Filter. Scores at or above the block threshold block the
// turn; scores at or above the flag threshold only flag it.
func (s *Scanner) ScanRequest(_ context.Context, in *filter.Input) filter.Result {
	detections, score := s.Scan(in.Message)
	cfg := s.cfg()

	switch {
	case score >= cfg.BlockThreshold:
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: s.Name(),
			Message:    fmt.Sprintf("Message blocked: prompt injection detected (score %.2f)", score),
			Detections: len(detections),
			Score:      score,
		}
	case score >= cfg.FlagThreshold:
		return filter.Result{Action: filter.ActionFlag, FilterName: s.Name(), Detections: len(detections), Score: score}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: s.Name(), Score: score}
}
