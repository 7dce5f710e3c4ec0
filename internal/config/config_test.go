package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
bot:
  phone_number: "15550100046"
ai:
  api_key: gsk-test
`

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Commands.Prefix != "!" {
		t.Errorf("Commands.Prefix = %q, want %q", cfg.Commands.Prefix, "!")
	}
	if cfg.AI.QueryPrefixEnabled {
		t.Error("AI.QueryPrefixEnabled = true, want false")
	}
	if cfg.AI.QueryPrefix != "?" {
		t.Errorf("AI.QueryPrefix = %q, want %q", cfg.AI.QueryPrefix, "?")
	}
	if cfg.AI.Model != "llama-3.3-70b-versatile" {
		t.Errorf("AI.Model = %q, want llama-3.3-70b-versatile", cfg.AI.Model)
	}
	if !cfg.AI.InGroups || !cfg.AI.InDirect {
		t.Errorf("InGroups/InDirect = %v/%v, want true/true", cfg.AI.InGroups, cfg.AI.InDirect)
	}
	if cfg.AI.SelfOnly {
		t.Error("AI.SelfOnly = true, want false")
	}
	if cfg.Bot.Name != "Forty Six" {
		t.Errorf("Bot.Name = %q, want %q", cfg.Bot.Name, "Forty Six")
	}
	if !cfg.Bot.WelcomeMessage {
		t.Error("Bot.WelcomeMessage = false, want true")
	}
	if cfg.Credentials.Dir != "./auth_info" {
		t.Errorf("Credentials.Dir = %q, want ./auth_info", cfg.Credentials.Dir)
	}
	if cfg.AI.MaxHistory != 10 {
		t.Errorf("AI.MaxHistory = %d, want 10", cfg.AI.MaxHistory)
	}
	if got := cfg.Reconnect.Base(); got != 2*time.Second {
		t.Errorf("Reconnect.Base() = %v, want 2s", got)
	}
	if got := cfg.Reconnect.Max(); got != 30*time.Second {
		t.Errorf("Reconnect.Max() = %v, want 30s", got)
	}
	if got := cfg.Reconnect.RestartDelay(); got != 15*time.Second {
		t.Errorf("Reconnect.RestartDelay() = %v, want 15s", got)
	}
	if got := cfg.AI.Timeout(); got != time.Minute {
		t.Errorf("AI.Timeout() = %v, want 1m", got)
	}
}

func TestParse_ExplicitFalseBooleans(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
  in_groups: false
  in_direct: false
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.InGroups || cfg.AI.InDirect {
		t.Errorf("InGroups/InDirect = %v/%v, want false/false", cfg.AI.InGroups, cfg.AI.InDirect)
	}
}

func TestParse_EmptyPrefixRestoresDefault(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
commands:
  prefix: ""
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Commands.Prefix != "!" {
		t.Errorf("Commands.Prefix = %q, want %q", cfg.Commands.Prefix, "!")
	}
}

func TestParse_MissingPhoneNumber(t *testing.T) {
	_, err := Parse([]byte("ai:\n  api_key: k\n"))
	if err == nil {
		t.Fatal("expected error for missing phone number")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error %v does not wrap ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "bot.phone_number is required") {
		t.Errorf("error = %q, want it to mention bot.phone_number", err.Error())
	}
}

func TestParse_QRPairingNeedsNoPhone(t *testing.T) {
	_, err := Parse([]byte("bot:\n  pairing_method: qr\nai:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_MissingAPIKey(t *testing.T) {
	_, err := Parse([]byte("bot:\n  phone_number: \"123\"\n"))
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
	if !strings.Contains(err.Error(), "ai.api_key is required") {
		t.Errorf("error = %q, want it to mention ai.api_key", err.Error())
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	_, err := Parse([]byte(`
bot:
  pairing_method: carrier-pigeon
ai:
  provider: nope
  max_history: -1
transport:
  bridge_url: http://localhost
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"bot.pairing_method", "ai.provider", "ai.api_key", "ai.max_history", "transport.bridge_url"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error = %q, want it to mention %s", msg, want)
		}
	}
}

func TestParse_QueryPrefixCollidesWithCommandPrefix(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
  query_prefix_enabled: true
  query_prefix: "!"
`))
	if err == nil {
		t.Fatal("expected error for colliding prefixes")
	}
}

func TestParse_DefaultModelPerProvider(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     string
	}{
		{"groq", "", "llama-3.3-70b-versatile"},
		{"openai", "", "gpt-4o-mini"},
		{"gemini", "", "gemini-2.5-flash"},
		{"gemini", "gemini-2.5-pro", "gemini-2.5-pro"},
	}
	for _, tt := range tests {
		yml := "bot:\n  phone_number: \"15550100046\"\nai:\n  provider: " + tt.provider + "\n  api_key: k\n"
		if tt.model != "" {
			yml += "  model: " + tt.model + "\n"
		}
		cfg, err := Parse([]byte(yml))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.provider, err)
		}
		if cfg.AI.Model != tt.want {
			t.Errorf("provider %s, model %q: AI.Model = %q, want %q", tt.provider, tt.model, cfg.AI.Model, tt.want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("bot: [unterminated"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestPhoneDigits(t *testing.T) {
	cfg := Default()
	cfg.Bot.PhoneNumber = "+1 (555) 010-0046"
	if got := cfg.PhoneDigits(); got != "15550100046" {
		t.Errorf("PhoneDigits() = %q, want 15550100046", got)
	}
}

// --- Environment overrides ---

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PHONE_NUMBER":             "111",
		"FORTYSIX_PHONE_NUMBER":    "222",
		"GROQ_API_KEY":             "gsk",
		"FORTYSIX_BRIDGE_URL":      "ws://elsewhere/ws",
		"FORTYSIX_CREDENTIALS_DIR": "/tmp/creds",
		"FORTYSIX_LOG_LEVEL":       "   ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.applyEnv(lookup)

	if cfg.Bot.PhoneNumber != "222" {
		t.Errorf("PhoneNumber = %q, want 222 (FORTYSIX_ prefix wins)", cfg.Bot.PhoneNumber)
	}
	if cfg.AI.APIKey != "gsk" {
		t.Errorf("APIKey = %q, want gsk", cfg.AI.APIKey)
	}
	if cfg.Transport.BridgeURL != "ws://elsewhere/ws" {
		t.Errorf("BridgeURL = %q", cfg.Transport.BridgeURL)
	}
	if cfg.Credentials.Dir != "/tmp/creds" {
		t.Errorf("Credentials.Dir = %q", cfg.Credentials.Dir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, blank env must not override", cfg.Log.Level)
	}
}

func TestApplyEnv_GeminiKeyPreferredForGemini(t *testing.T) {
	env := map[string]string{"GROQ_API_KEY": "gsk", "GEMINI_API_KEY": "gem"}
	cfg := Default()
	cfg.AI.Provider = "gemini"
	cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.AI.APIKey != "gem" {
		t.Errorf("APIKey = %q, want gem", cfg.AI.APIKey)
	}
}

// --- System prompt resolution ---

func TestResolveSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "prompt.txt")

	cfg := Default()
	cfg.Bot.SystemPromptFile = promptFile

	got, err := cfg.ResolveSystemPrompt()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != DefaultSystemPrompt {
		t.Errorf("missing file and empty config: got %q, want default", got)
	}

	cfg.Bot.SystemPrompt = "from config"
	got, _ = cfg.ResolveSystemPrompt()
	if got != "from config" {
		t.Errorf("got %q, want %q", got, "from config")
	}

	if err := os.WriteFile(promptFile, []byte("  from file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, _ = cfg.ResolveSystemPrompt()
	if got != "from file" {
		t.Errorf("got %q, want %q", got, "from file")
	}
}

// --- Fixture-based tests using testdata/ files ---

func TestLoad_FullFixture(t *testing.T) {
	t.Setenv("FORTYSIX_PHONE_NUMBER", "")
	t.Setenv("PHONE_NUMBER", "")
	t.Setenv("FORTYSIX_AI_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FORTYSIX_BRIDGE_URL", "")
	t.Setenv("FORTYSIX_CREDENTIALS_DIR", "")
	t.Setenv("FORTYSIX_LOG_LEVEL", "")

	cfg, err := Load("testdata/valid_full.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bot.Name != "Test Bot" {
		t.Errorf("Bot.Name = %q", cfg.Bot.Name)
	}
	if cfg.Bot.WelcomeMessage {
		t.Error("Bot.WelcomeMessage = true, want false")
	}
	if cfg.PhoneDigits() != "15550100046" {
		t.Errorf("PhoneDigits() = %q", cfg.PhoneDigits())
	}
	if cfg.Commands.Prefix != "/" {
		t.Errorf("Commands.Prefix = %q", cfg.Commands.Prefix)
	}
	if cfg.AI.Provider != "gemini" || cfg.AI.MaxHistory != 4 || cfg.AI.RequestsPerMinute != 20 {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if !cfg.AI.QueryPrefixEnabled || cfg.AI.InGroups || !cfg.AI.SelfOnly {
		t.Errorf("gate options = %+v", cfg.AI)
	}
	if cfg.Transport.BridgeURL != "wss://bridge.internal/ws" {
		t.Errorf("BridgeURL = %q", cfg.Transport.BridgeURL)
	}
	if cfg.Reconnect.PairingRetry() != 3*time.Second {
		t.Errorf("PairingRetry() = %v", cfg.Reconnect.PairingRetry())
	}
	if cfg.Status.Addr != "127.0.0.1:9046" {
		t.Errorf("Status.Addr = %q", cfg.Status.Addr)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
}

func TestLoad_MinimalFixture(t *testing.T) {
	t.Setenv("FORTYSIX_LOG_LEVEL", "debug")
	cfg, err := Load("testdata/valid_minimal.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override debug", cfg.Log.Level)
	}
}

func TestLoad_MissingPhoneFixture(t *testing.T) {
	t.Setenv("FORTYSIX_PHONE_NUMBER", "")
	t.Setenv("PHONE_NUMBER", "")
	_, err := Load("testdata/missing_phone.yaml")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoad_MissingPhoneFixture_EnvSupplies(t *testing.T) {
	t.Setenv("FORTYSIX_PHONE_NUMBER", "")
	t.Setenv("PHONE_NUMBER", "15550100046")
	if _, err := Load("testdata/missing_phone.yaml"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAMLFixture(t *testing.T) {
	_, err := Load("testdata/invalid_yaml.yaml")
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestLoadUnvalidated_SkipsValidation(t *testing.T) {
	t.Setenv("FORTYSIX_AI_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := LoadUnvalidated("testdata/missing_phone.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Credentials.Dir != "./auth_info" {
		t.Errorf("Credentials.Dir = %q", cfg.Credentials.Dir)
	}
}
