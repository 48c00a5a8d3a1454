package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Config selects and tunes the model behind the assistant.
type Config struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	Persona     string        `koanf:"persona"`
}

// Enabled reports whether a provider is configured.
func (c Config) Enabled() bool { return c.Provider != "" && c.Provider != "none" }

// NewModel builds the langchaingo model for cfg.Provider.
func NewModel(ctx context.Context, cfg Config) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "gemini", "googleai":
		opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(cfg.Model))
		}
		m, err := googleai.New(ctx, opts...)
		if err != nil {
			log.Error().Err(err).Str("model", cfg.Model).Msg("failed to create Gemini model")
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return m, nil
	case "anthropic":
		return anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model))
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		return ollama.New(ollama.WithServerURL(base), ollama.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
