package chart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/types"
)

const (
	specSystemPrompt    = "You are a data visualization expert. Extract chart specifications from the provided data and return them in JSON format."
	explainSystemPrompt = "You are a helpful data analyst. Explain charts briefly and clearly."
)

const specPromptTemplate = `You are a data visualization expert. Extract data from the context and create chart specifications.

User Query: %s

Context Data:
%s

IMPORTANT INSTRUCTIONS:
1. Carefully extract ALL relevant numerical data from the context
2. For time-based data, include ALL time periods (months, quarters, etc.), not just one
3. Match the chart type to the user's request (bar, line, pie, scatter or histogram)
4. Ensure x_values, y_values, and labels arrays are the SAME length
5. For monthly data, use month names as labels (e.g., ["Jan 2024", "Feb 2024", ...])
6. Sort data chronologically if it's time-based

Respond ONLY with a JSON object in this exact format:
{
    "chart_type": "bar",
    "title": "Descriptive Title",
    "x_label": "X Axis Label",
    "y_label": "Y Axis Label",
    "x_values": [0, 1, 2, 3],
    "y_values": [100, 200, 300, 400],
    "labels": ["Label1", "Label2", "Label3", "Label4"]
}`

// Generator produces chart specs and explanations through the model invoker.
type Generator struct {
	invoker      provider.Invoker
	models       func() *config.ModelsConfig
	contextLimit func() int
	logger       *slog.Logger
}

func NewGenerator(invoker provider.Invoker, models func() *config.ModelsConfig, contextLimit func() int, logger *slog.Logger) *Generator {
	return &Generator{invoker: invoker, models: models, contextLimit: contextLimit, logger: logger}
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Generate asks the chart model for a spec built from contextText.
// Parse failures are returned as *SpecParseError.
func (g *Generator) Generate(ctx context.Context, query, contextText string) (*Spec, error) {
	route := g.models().ChartSpec
	ref, err := route.Ref()
	if err != nil {
		return nil, fmt.Errorf("resolve chart model: %w", err)
	}

	prompt := fmt.Sprintf(specPromptTemplate, query, truncateRunes(contextText, g.contextLimit()))
	raw, err := g.invoker.Invoke(ctx, ref, []types.Message{
		types.SystemMessage(specSystemPrompt),
		types.UserMessage(prompt),
	}, route.TemperatureOr(0.2))
	if err != nil {
		return nil, fmt.Errorf("request chart spec: %w", err)
	}

	spec, truncated, err := ParseSpec(raw)
	if err != nil {
		g.logger.Warn("chart spec rejected", "error", err)
		return nil, err
	}
	if truncated {
		g.logger.Warn("chart data arrays had different lengths, truncated to shortest",
			"points", len(spec.YValues), "chart_type", spec.ChartType)
	}
	return spec, nil
}

// Explain returns a short natural-language description of the chart.
func (g *Generator) Explain(ctx context.Context, query string, spec *Spec) (string, error) {
	route := g.models().Explainer
	ref, err := route.Ref()
	if err != nil {
		return "", fmt.Errorf("resolve explainer model: %w", err)
	}

	var points []string
	for i, y := range spec.YValues {
		label := fmt.Sprint(i)
		if i < len(spec.Labels) {
			label = spec.Labels[i]
		}
		points = append(points, fmt.Sprintf("%s: %g", label, y))
	}
	prompt := fmt.Sprintf(`The user asked: %s

A %s chart titled %q was generated (x axis: %s, y axis: %s) with these data points:
%s

In 2-3 sentences, explain what the chart shows and point out the most notable pattern.`,
		query, spec.ChartType, spec.Title, spec.XLabel, spec.YLabel, strings.Join(points, "\n"))

	text, err := g.invoker.Invoke(ctx, ref, []types.Message{
		types.SystemMessage(explainSystemPrompt),
		types.UserMessage(prompt),
	}, route.TemperatureOr(0.5))
	if err != nil {
		return "", fmt.Errorf("explain chart: %w", err)
	}
	return strings.TrimSpace(text), nil
}
