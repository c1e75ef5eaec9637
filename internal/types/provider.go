package types

import (
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGroq      Provider = "groq"
)

// Providers lists every provider the registry knows how to build, in display order.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGroq}

func ParseProvider(s string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOpenAI:
		return ProviderOpenAI, true
	case ProviderAnthropic:
		return ProviderAnthropic, true
	case ProviderGroq:
		return ProviderGroq, true
	default:
		return "", false
	}
}

// ModelRef identifies one callable model on one provider.
type ModelRef struct {
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
}

// String renders the ref the way it is shown to evaluators and in vote records.
func (m ModelRef) String() string {
	return string(m.Provider) + " " + m.Model
}

// Validate checks the provider against the closed set and requires a model name.
func (m ModelRef) Validate() error {
	if _, ok := ParseProvider(string(m.Provider)); !ok {
		return fmt.Errorf("unknown provider %q", m.Provider)
	}
	if strings.TrimSpace(m.Model) == "" {
		return fmt.Errorf("model is required for provider %s", m.Provider)
	}
	return nil
}

// ChorusConfig is the responder and evaluator ensemble of a Chorus model.
type ChorusConfig struct {
	Responders []ModelRef `json:"responder_llms"`
	Evaluators []ModelRef `json:"evaluator_llms"`
}

// Validate requires at least one responder and a valid ref for every entry.
func (c ChorusConfig) Validate() error {
	if len(c.Responders) == 0 {
		return fmt.Errorf("at least one responder is required")
	}
	for i, r := range c.Responders {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("responder %d: %w", i, err)
		}
	}
	for i, e := range c.Evaluators {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("evaluator %d: %w", i, err)
		}
	}
	return nil
}

// Providers returns the distinct providers referenced by the config.
func (c ChorusConfig) Providers() []Provider {
	seen := make(map[Provider]bool)
	var out []Provider
	for _, refs := range [][]ModelRef{c.Responders, c.Evaluators} {
		for _, r := range refs {
			if !seen[r.Provider] {
				seen[r.Provider] = true
				out = append(out, r.Provider)
			}
		}
	}
	return out
}
