package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/zulandar/fortysix/internal/conversation"
)

// geminiModels are offered by the `!models` command for the gemini provider.
var geminiModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.0-flash",
}

// generator abstracts the genai.Models method we use, enabling test fakes.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      *zap.Logger

	// For testing: inject a generator instead of the real API.
	Generator generator
}

// GeminiClient implements Client on top of Google's genai SDK.
type GeminiClient struct {
	gen         generator
	model       string
	timeout     time.Duration
	temperature float32
	maxTokens   int32
	log         *zap.Logger
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Generator == nil && cfg.APIKey == "" {
		return nil, fmt.Errorf("completion: gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = geminiModels[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	gen := cfg.Generator
	if gen == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("completion: create genai client: %w", err)
		}
		gen = client.Models
	}

	return &GeminiClient{
		gen:         gen,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		log:         log,
	}, nil
}

// Models returns the models offered for this provider.
func (c *GeminiClient) Models() []string {
	out := make([]string, len(geminiModels))
	copy(out, geminiModels)
	return out
}

// Complete sends the conversation to GenerateContent.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := genai.RoleUser
		if t.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	start := time.Now()
	resp, err := c.gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &Error{Kind: kindForStatus(apiErr.Code), Status: apiErr.Code, Err: err}
		}
		return "", wrapTransportErr(ctx, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &Error{Kind: KindService, Err: fmt.Errorf("no completion returned")}
	}
	c.log.Debug("completion done",
		zap.String("model", model),
		zap.Int("turns", len(req.Turns)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}
