// Package config provides YAML-based configuration loading for Forty Six.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "fortysix.yaml"

// DefaultSystemPrompt is sent when neither a prompt file nor bot.system_prompt is set.
const DefaultSystemPrompt = "You are a helpful AI assistant. Be friendly and concise."

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Pairing methods.
const (
	PairingCode = "code"
	PairingQR   = "qr"
)

// Config is the top-level Forty Six configuration, loaded from fortysix.yaml.
type Config struct {
	Bot         BotConfig         `yaml:"bot"`
	Commands    CommandsConfig    `yaml:"commands"`
	AI          AIConfig          `yaml:"ai"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Transport   TransportConfig   `yaml:"transport"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Status      StatusConfig      `yaml:"status"`
	Log         LogConfig         `yaml:"log"`
}

// BotConfig identifies the bot and its pairing number.
type BotConfig struct {
	Name             string `yaml:"name"`
	PhoneNumber      string `yaml:"phone_number"`
	PairingMethod    string `yaml:"pairing_method"`
	SystemPrompt     string `yaml:"system_prompt"`
	SystemPromptFile string `yaml:"system_prompt_file"`
	WelcomeMessage   bool   `yaml:"welcome_message"`
}

// CommandsConfig holds the command prefix.
type CommandsConfig struct {
	Prefix string `yaml:"prefix"`
}

// AIConfig configures the completion provider and the query gate.
type AIConfig struct {
	Provider           string  `yaml:"provider"`
	APIKey             string  `yaml:"api_key"`
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	TimeoutSec         int     `yaml:"timeout_sec"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	MaxHistory         int     `yaml:"max_history"`
	RequestsPerMinute  int     `yaml:"requests_per_minute"`
	QueryPrefixEnabled bool    `yaml:"query_prefix_enabled"`
	QueryPrefix        string  `yaml:"query_prefix"`
	InGroups           bool    `yaml:"in_groups"`
	InDirect           bool    `yaml:"in_direct"`
	SelfOnly           bool    `yaml:"self_only"`
}

// CredentialsConfig points at the credential directory.
type CredentialsConfig struct {
	Dir string `yaml:"dir"`
}

// TransportConfig holds the bridge endpoint.
type TransportConfig struct {
	BridgeURL string `yaml:"bridge_url"`
}

// ReconnectConfig holds supervisor timings in milliseconds.
type ReconnectConfig struct {
	BaseMs         int `yaml:"base_ms"`
	MaxMs          int `yaml:"max_ms"`
	PairingDelayMs int `yaml:"pairing_delay_ms"`
	PairingRetryMs int `yaml:"pairing_retry_ms"`
	RestartDelayMs int `yaml:"restart_delay_ms"`
}

// StatusConfig enables the local status server when Addr is set.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// defaultModels is the model used for each provider when ai.model is unset.
var defaultModels = map[string]string{
	"groq":   "llama-3.3-70b-versatile",
	"openai": "gpt-4o-mini",
	"gemini": "gemini-2.5-flash",
}

// DefaultModel returns the model used for provider when none is configured,
// or "" for an unknown provider.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// Default returns a Config with every option at its default value.
func Default() Config {
	return Config{
		Bot: BotConfig{
			Name:             "Forty Six",
			PairingMethod:    PairingCode,
			SystemPromptFile: "prompt.txt",
			WelcomeMessage:   true,
		},
		Commands: CommandsConfig{Prefix: "!"},
		AI: AIConfig{
			Provider:    "groq",
			Model:       DefaultModel("groq"),
			TimeoutSec:  60,
			Temperature: 0.7,
			MaxTokens:   1024,
			MaxHistory:  10,
			QueryPrefix: "?",
			InGroups:    true,
			InDirect:    true,
		},
		Credentials: CredentialsConfig{Dir: "./auth_info"},
		Transport:   TransportConfig{BridgeURL: "ws://127.0.0.1:8046/ws"},
		Reconnect: ReconnectConfig{
			BaseMs:         2000,
			MaxMs:          30000,
			PairingDelayMs: 5000,
			PairingRetryMs: 5000,
			RestartDelayMs: 15000,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML config file from path, applies environment overrides and
// returns a validated Config. A missing DefaultPath is not an error; the
// defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, for commands that only need a
// subset of the options (credential maintenance).
func LoadUnvalidated(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		data = nil
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are not applied.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	// Unmarshal over the defaults so absent keys keep them, including
	// booleans that default to true.
	// The model default depends on the provider, so it is filled in after.
	cfg := Default()
	cfg.AI.Model = ""
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults restores defaults for values explicitly set to empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Bot.Name == "" {
		c.Bot.Name = d.Bot.Name
	}
	if c.Bot.PairingMethod == "" {
		c.Bot.PairingMethod = d.Bot.PairingMethod
	}
	if c.Commands.Prefix == "" {
		c.Commands.Prefix = d.Commands.Prefix
	}
	if c.AI.Provider == "" {
		c.AI.Provider = d.AI.Provider
	}
	if c.AI.Model == "" {
		c.AI.Model = DefaultModel(c.AI.Provider)
	}
	if c.AI.QueryPrefix == "" {
		c.AI.QueryPrefix = d.AI.QueryPrefix
	}
	if c.AI.TimeoutSec == 0 {
		c.AI.TimeoutSec = d.AI.TimeoutSec
	}
	if c.AI.MaxHistory == 0 {
		c.AI.MaxHistory = d.AI.MaxHistory
	}
	if c.Credentials.Dir == "" {
		c.Credentials.Dir = d.Credentials.Dir
	}
	if c.Transport.BridgeURL == "" {
		c.Transport.BridgeURL = d.Transport.BridgeURL
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// applyEnv overlays environment variables. The first set variable in each
// list wins.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	first := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	if v, ok := first("FORTYSIX_PHONE_NUMBER", "PHONE_NUMBER"); ok {
		c.Bot.PhoneNumber = v
	}
	keyVars := []string{"FORTYSIX_AI_API_KEY", "GROQ_API_KEY", "GEMINI_API_KEY"}
	if c.AI.Provider == "gemini" {
		keyVars = []string{"FORTYSIX_AI_API_KEY", "GEMINI_API_KEY", "GROQ_API_KEY"}
	}
	if v, ok := first(keyVars...); ok {
		c.AI.APIKey = v
	}
	if v, ok := first("FORTYSIX_BRIDGE_URL"); ok {
		c.Transport.BridgeURL = v
	}
	if v, ok := first("FORTYSIX_CREDENTIALS_DIR"); ok {
		c.Credentials.Dir = v
	}
	if v, ok := first("FORTYSIX_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// Validate checks that all required fields are present and consistent.
func (c *Config) Validate() error {
	var errs []string
	switch c.Bot.PairingMethod {
	case PairingCode:
		if digitsOnly(c.Bot.PhoneNumber) == "" {
			errs = append(errs, "bot.phone_number is required for code pairing (set PHONE_NUMBER)")
		}
	case PairingQR:
	default:
		errs = append(errs, fmt.Sprintf("bot.pairing_method %q must be %q or %q", c.Bot.PairingMethod, PairingCode, PairingQR))
	}
	switch c.AI.Provider {
	case "groq", "openai", "gemini":
	default:
		errs = append(errs, fmt.Sprintf("ai.provider %q must be groq, openai or gemini", c.AI.Provider))
	}
	if c.AI.APIKey == "" {
		errs = append(errs, "ai.api_key is required (set GROQ_API_KEY)")
	}
	if c.AI.MaxHistory < 1 {
		errs = append(errs, "ai.max_history must be at least 1")
	}
	if c.AI.TimeoutSec < 1 {
		errs = append(errs, "ai.timeout_sec must be at least 1")
	}
	if c.AI.RequestsPerMinute < 0 {
		errs = append(errs, "ai.requests_per_minute must not be negative")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		errs = append(errs, "ai.temperature must be between 0 and 2")
	}
	if strings.TrimSpace(c.Commands.Prefix) != c.Commands.Prefix {
		errs = append(errs, "commands.prefix must not contain whitespace")
	}
	if c.AI.QueryPrefixEnabled && c.AI.QueryPrefix == c.Commands.Prefix {
		errs = append(errs, "ai.query_prefix must differ from commands.prefix")
	}
	if !strings.HasPrefix(c.Transport.BridgeURL, "ws://") && !strings.HasPrefix(c.Transport.BridgeURL, "wss://") {
		errs = append(errs, "transport.bridge_url must be a ws:// or wss:// URL")
	}
	r := c.Reconnect
	if r.BaseMs <= 0 || r.MaxMs <= 0 || r.PairingDelayMs < 0 || r.PairingRetryMs <= 0 || r.RestartDelayMs <= 0 {
		errs = append(errs, "reconnect timings must be positive")
	} else if r.MaxMs < r.BaseMs {
		errs = append(errs, "reconnect.max_ms must not be below reconnect.base_ms")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// PhoneDigits returns the configured phone number with everything but
// digits removed.
func (c *Config) PhoneDigits() string {
	return digitsOnly(c.Bot.PhoneNumber)
}

// ResolveSystemPrompt returns the prompt file contents when the file exists
// and is non-empty, else bot.system_prompt, else DefaultSystemPrompt.
func (c *Config) ResolveSystemPrompt() (string, error) {
	if c.Bot.SystemPromptFile != "" {
		data, err := os.ReadFile(c.Bot.SystemPromptFile)
		switch {
		case err == nil:
			if p := strings.TrimSpace(string(data)); p != "" {
				return p, nil
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return "", fmt.Errorf("config: read %s: %w", c.Bot.SystemPromptFile, err)
		}
	}
	if p := strings.TrimSpace(c.Bot.SystemPrompt); p != "" {
		return p, nil
	}
	return DefaultSystemPrompt, nil
}

// Durations.

func (r ReconnectConfig) Base() time.Duration { return ms(r.BaseMs) }
func (r ReconnectConfig) Max() time.Duration  { return ms(r.MaxMs) }
func (r ReconnectConfig) PairingDelay() time.Duration {
	return ms(r.PairingDelayMs)
}
func (r ReconnectConfig) PairingRetry() time.Duration {
	return ms(r.PairingRetryMs)
}
func (r ReconnectConfig) RestartDelay() time.Duration {
	return ms(r.RestartDelayMs)
}

// Timeout returns ai.timeout_sec as a duration.
func (a AIConfig) Timeout() time.Duration { return time.Duration(a.TimeoutSec) * time.Second }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
