package config

import (
	"fmt"

	"github.com/af-corp/chorus/internal/types"
)

// ModelsConfig names the fixed-purpose models used outside of Chorus ensembles.
type ModelsConfig struct {
	Classifier ModelRoute     `yaml:"classifier"`
	ChartSpec  ModelRoute     `yaml:"chart_spec"`
	Explainer  ModelRoute     `yaml:"explainer"`
	Vision     ModelRoute     `yaml:"vision"`
	Image      ModelRoute     `yaml:"image_generation"`
	Embedding  EmbeddingRoute `yaml:"embedding"`
}

type ModelRoute struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// Ref validates the route and converts it to a ModelRef.
func (r ModelRoute) Ref() (types.ModelRef, error) {
	p, ok := types.ParseProvider(r.Provider)
	if !ok {
		return types.ModelRef{}, fmt.Errorf("unknown provider %q for model %q", r.Provider, r.Model)
	}
	ref := types.ModelRef{Provider: p, Model: r.Model}
	if err := ref.Validate(); err != nil {
		return types.ModelRef{}, err
	}
	return ref, nil
}

// TemperatureOr returns the configured temperature or def.
func (r ModelRoute) TemperatureOr(def float64) float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return def
}

type EmbeddingRoute struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{
		Classifier: ModelRoute{Provider: "openai", Model: "gpt-4o-mini"},
		ChartSpec:  ModelRoute{Provider: "openai", Model: "gpt-4o"},
		Explainer:  ModelRoute{Provider: "openai", Model: "gpt-4o-mini"},
		Vision:     ModelRoute{Provider: "openai", Model: "gpt-4o", MaxTokens: 500},
		Image:      ModelRoute{Provider: "openai", Model: "gpt-image-1"},
		Embedding:  EmbeddingRoute{Provider: "openai", Model: "text-embedding-3-small"},
	}
}
