// Package intent labels a user message with the path that should answer it.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/types"
)

const systemPrompt = "You are a precise intent classifier. Respond with only one word: text, find_image, generate_chart, or generate_image."

const userPromptTemplate = `You are an intent classifier. Analyze the user's message and determine their intent.

User message: %q

Classify the intent as ONE of these:
1. "text" - User wants a text-based answer or conversation
2. "find_image" - User wants to find/retrieve an existing image from a dataset (e.g., "show me the diagram", "find the photo of", "what images do we have")
3. "generate_chart" - User wants a chart or visualization built from the data (e.g., "plot sales by month", "graph the trend", "make a bar chart")
4. "generate_image" - User wants to create/generate a new image or edit an existing one (e.g., "create an image of", "generate a picture", "draw me")

Respond with ONLY the classification word: text, find_image, generate_chart, or generate_image`

// chartKeywords force generate_chart regardless of what the model answers. Each stem
// takes its inflected forms so "plotted" or "visualized" still match.
var chartKeywords = regexp.MustCompile(`(?i)\b(` +
	`chart(s|ed|ing)?|` +
	`graph(s|ed|ing)?|` +
	`plot(s|ted|ting)?|` +
	`visuali[sz](e|es|ed|ing|ation|ations)|` +
	`trend(s|ed|line|lines)?|` +
	`histograms?|` +
	`scatter ?plots?|` +
	`(pie|bar|line|area|column) charts?` +
	`)\b`)

// Classifier combines a keyword override with a model call.
type Classifier struct {
	invoker provider.Invoker
	model   func() (types.ModelRef, float64, error)
	logger  *slog.Logger
}

// New returns a classifier. model is read on every call so config reloads apply.
func New(invoker provider.Invoker, model func() (types.ModelRef, float64, error), logger *slog.Logger) *Classifier {
	return &Classifier{invoker: invoker, model: model, logger: logger}
}

// HasChartKeyword reports whether the message names a chart or visualization.
func HasChartKeyword(message string) bool {
	return chartKeywords.MatchString(message)
}

// Classify never fails: an unusable model answer or a failed call yields IntentText.
func (c *Classifier) Classify(ctx context.Context, message string) types.Intent {
	if HasChartKeyword(message) {
		c.logger.Debug("intent forced by chart keyword")
		return types.IntentGenerateChart
	}

	ref, temperature, err := c.model()
	if err != nil {
		c.logger.Warn("intent classifier model unavailable, defaulting to text", "error", err)
		return types.IntentText
	}

	raw, err := c.invoker.Invoke(ctx, ref, []types.Message{
		types.SystemMessage(systemPrompt),
		types.UserMessage(fmt.Sprintf(userPromptTemplate, message)),
	}, temperature)
	if err != nil {
		c.logger.Warn("intent classification failed, defaulting to text", "error", err, "model", ref.String())
		return types.IntentText
	}

	in, ok := types.ParseIntent(raw)
	if !ok {
		c.logger.Debug("unrecognised intent label, defaulting to text", "label", raw)
		return types.IntentText
	}
	return in
}
