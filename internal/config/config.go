package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"PhysioFlow/internal/session"
)

const (
	ProviderSynthetic = "synthetic"
	ProviderRemote    = "remote"
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Providers lists every reply provider name the factory understands.
var Providers = []string{ProviderSynthetic, ProviderRemote, ProviderGroq, ProviderAnthropic, ProviderOllama}

// DefaultCatalog is the canned reply set used by the synthetic provider.
var DefaultCatalog = []string{
	"I can help you track your exercise form and provide real-time feedback.",
	"Would you like me to suggest some exercises for your specific condition?",
	"Remember to maintain proper form during your exercises to prevent injury.",
	"I notice you've been making great progress with your rehabilitation program!",
	"Let me analyze your movement pattern to provide personalized recommendations.",
	"Based on your recent activity, I'd suggest focusing on strengthening your core muscles.",
}

// Duration wraps time.Duration so TOML files can use strings like "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds application configuration
type Config struct {
	Provider string `toml:"provider"`
	Debug    bool   `toml:"debug"`

	Greeting     string   `toml:"greeting"`
	ReplyTimeout Duration `toml:"reply_timeout"`
	SendHistory  bool     `toml:"send_history"`

	// Response cache in front of the provider; zero TTL disables it.
	CacheTTL Duration `toml:"cache_ttl"`

	Synthetic SyntheticConfig `toml:"synthetic"`
	Remote    RemoteConfig    `toml:"remote"`
	Groq      GroqConfig      `toml:"groq"`
	Anthropic AnthropicConfig `toml:"anthropic"`
	Ollama    OllamaConfig    `toml:"ollama"`
	Relay     RelayConfig     `toml:"relay"`

	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

type SyntheticConfig struct {
	Catalog []string `toml:"catalog"`
	Delay   Duration `toml:"delay"`
}

type RemoteConfig struct {
	Endpoint string   `toml:"endpoint"`
	Timeout  Duration `toml:"timeout"`
}

type GroqConfig struct {
	APIKey  string `toml:"-"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

type AnthropicConfig struct {
	APIKey    string `toml:"-"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

type OllamaConfig struct {
	Model   string `toml:"model"` // format "model:version"
	BaseURL string `toml:"base_url"`
}

type RelayConfig struct {
	Addr         string   `toml:"addr"`
	Upstream     string   `toml:"upstream"` // provider name the relay forwards prompts to
	AllowOrigins []string `toml:"allow_origins"`
}

// Default returns the configuration used when no file or flags override it.
func Default() Config {
	return Config{
		Provider:     ProviderSynthetic,
		Greeting:     session.DefaultGreeting,
		ReplyTimeout: Duration{30 * time.Second},
		Synthetic: SyntheticConfig{
			Catalog: append([]string(nil), DefaultCatalog...),
			Delay:   Duration{1500 * time.Millisecond},
		},
		Remote: RemoteConfig{
			Endpoint: "http://localhost:5001/get-groq-feedback",
			Timeout:  Duration{20 * time.Second},
		},
		Groq: GroqConfig{
			Model:   "llama3-70b-8192",
			BaseURL: "https://api.groq.com/openai/v1",
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Ollama: OllamaConfig{
			Model:   "llama3:latest",
			BaseURL: "http://localhost:11434",
		},
		Relay: RelayConfig{
			Addr:         ":5001",
			Upstream:     ProviderGroq,
			AllowOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173"},
		},
		LogDir:       "logs",
		DatabasePath: "physioflow.db",
	}
}

// Load builds a Config from defaults, an optional TOML file and the environment.
// A .env file in the working directory is loaded when present.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Groq.APIKey = os.Getenv("GROQ_API_KEY")
	c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if v := os.Getenv("PHYSIOFLOW_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("PHYSIOFLOW_REMOTE_URL"); v != "" {
		c.Remote.Endpoint = v
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		c.Groq.Model = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Relay.Addr = ":" + v
	}
}

// Validate checks the settings that would otherwise fail later at first use.
func (c Config) Validate() error {
	if !IsProvider(c.Provider) {
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.Relay.Upstream != "" && !IsProvider(c.Relay.Upstream) {
		return fmt.Errorf("unknown relay upstream: %s", c.Relay.Upstream)
	}
	if len(c.Synthetic.Catalog) == 0 {
		return fmt.Errorf("synthetic catalog must not be empty")
	}
	if c.ReplyTimeout.Duration < 0 {
		return fmt.Errorf("reply_timeout must not be negative")
	}
	return nil
}

// IsProvider reports whether name is a known provider.
func IsProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}
