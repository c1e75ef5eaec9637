package config

import "time"

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	MaxTokens     int               `yaml:"max_tokens,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	// NoTemperaturePrefixes lists model name prefixes that reject an explicit temperature.
	NoTemperaturePrefixes []string `yaml:"no_temperature_prefixes,omitempty"`
}
