package models

import (
	"context"
	"fmt"
	"strings"
)

// ProviderConfig carries the connection settings of one adapter.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewProvider builds the adapter registered under name. Credentials left
// empty fall back to the vendor's usual environment variable.
func NewProvider(ctx context.Context, name string, cfg ProviderConfig, s Settings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, s), nil
	case "anthropic", "claude":
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model, s), nil
	case "gemini", "google":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, s)
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model, s)
	case "scripted":
		return NewScripted("", cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
