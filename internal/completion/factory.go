package completion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config selects and configures a provider.
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	Logger            *zap.Logger
}

// New builds the Client for cfg.Provider, wrapped in a rate limiter when
// RequestsPerMinute is positive.
func New(ctx context.Context, cfg Config) (Client, error) {
	var (
		c   Client
		err error
	)
	switch cfg.Provider {
	case ProviderGroq, "":
		c, err = NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     orDefault(cfg.BaseURL, GroqBaseURL),
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			KnownModels: groqModels,
			Logger:      cfg.Logger,
		})
	case ProviderOpenAI:
		c, err = NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     orDefault(cfg.BaseURL, OpenAIBaseURL),
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			KnownModels: []string{cfg.Model},
			Logger:      cfg.Logger,
		})
	case ProviderGemini:
		c, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Logger:      cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("completion: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLimited(c, cfg.RequestsPerMinute), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
