// Package chart asks a model to turn retrieved data into a chart specification
// and to explain the result. Rendering is left to the client.
package chart

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

var chartTypes = map[string]bool{
	"bar":       true,
	"line":      true,
	"pie":       true,
	"scatter":   true,
	"histogram": true,
}

// Spec is the validated chart description returned to the client.
type Spec struct {
	ChartType string    `json:"chart_type"`
	Title     string    `json:"title"`
	XLabel    string    `json:"x_label"`
	YLabel    string    `json:"y_label"`
	XValues   []any     `json:"x_values,omitempty"`
	YValues   []float64 `json:"y_values"`
	Labels    []string  `json:"labels,omitempty"`
}

// SpecParseError reports a model reply that could not be turned into a Spec.
type SpecParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *SpecParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse chart spec: %s: %v", e.Reason, e.Err)
	}
	return "parse chart spec: " + e.Reason
}

func (e *SpecParseError) Unwrap() error { return e.Err }

// extractJSON pulls the JSON object out of a reply that may be fenced in a ``` block,
// with or without a language tag of any case.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if _, after, ok := strings.Cut(text, "```"); ok {
		after = strings.TrimLeftFunc(after, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
		})
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// ParseSpec decodes and validates a model reply. truncated is true when the
// labels, y_values and x_values arrays had to be cut to a common length.
func ParseSpec(raw string) (spec *Spec, truncated bool, err error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, false, &SpecParseError{Reason: "empty reply", Raw: raw}
	}

	var s Spec
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&s); err != nil {
		return nil, false, &SpecParseError{Reason: "invalid JSON", Raw: raw, Err: err}
	}

	s.ChartType = strings.ToLower(strings.TrimSpace(s.ChartType))
	if s.ChartType == "" {
		s.ChartType = "line"
	}
	if !chartTypes[s.ChartType] {
		return nil, false, &SpecParseError{Reason: fmt.Sprintf("unsupported chart_type %q", s.ChartType), Raw: raw}
	}
	if len(s.YValues) == 0 {
		return nil, false, &SpecParseError{Reason: "y_values is empty", Raw: raw}
	}
	if s.Title == "" {
		s.Title = "Data Visualization"
	}
	if s.XLabel == "" {
		s.XLabel = "X Axis"
	}
	if s.YLabel == "" {
		s.YLabel = "Y Axis"
	}

	return &s, s.normalize(), nil
}

// normalize truncates the data arrays to the shortest non-empty length.
func (s *Spec) normalize() bool {
	n := len(s.YValues)
	if len(s.Labels) > 0 {
		n = min(n, len(s.Labels))
	}
	if len(s.XValues) > 0 {
		n = min(n, len(s.XValues))
	}

	truncated := false
	if len(s.YValues) > n {
		s.YValues, truncated = s.YValues[:n], true
	}
	if len(s.Labels) > n {
		s.Labels, truncated = s.Labels[:n], true
	}
	if len(s.XValues) > n {
		s.XValues, truncated = s.XValues[:n], true
	}
	return truncated
}
