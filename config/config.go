// Package config loads the service configuration from an optional YAML
// file with environment variable overrides for secrets and deploy
// specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address for the webhook server.
	ListenAddr string `yaml:"listen_addr"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	Slack struct {
		// BotToken authenticates against the chat API.
		BotToken string `yaml:"bot_token"`
		// BaseURL overrides the API endpoint, mainly for tests.
		BaseURL string `yaml:"base_url"`
	} `yaml:"slack"`

	Model struct {
		// Provider selects the generation backend, openai or anthropic.
		Provider string `yaml:"provider"`
		// Name overrides the provider's default model.
		Name string `yaml:"name"`
		// OpenAIAPIKey and AnthropicAPIKey default to the provider SDK's
		// own environment lookup when empty.
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
	} `yaml:"model"`

	Search struct {
		// TavilyAPIKey enables web search during the gathering phase.
		// Gathering degrades to model knowledge only when empty.
		TavilyAPIKey string `yaml:"tavily_api_key"`
		// MaxResults caps the results per search call.
		MaxResults int `yaml:"max_results"`
	} `yaml:"search"`

	Approval struct {
		// DeadlineWindow is how long a plan waits for a decision.
		DeadlineWindow time.Duration `yaml:"deadline_window"`
		// ReconcileInterval is the sweep cadence for expired runs.
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	} `yaml:"approval"`

	Store struct {
		// RetryMax is the retry count for transient database errors.
		RetryMax int `yaml:"retry_max"`
		// RetryBaseDelay is the first retry delay; it doubles per attempt.
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	} `yaml:"store"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	var cfg Config

	cfg.ListenAddr = ":8080"
	cfg.DatabasePath = "runbridge.db"
	cfg.Model.Provider = ProviderOpenAI
	cfg.Search.MaxResults = 5
	cfg.Approval.DeadlineWindow = 24 * time.Hour
	cfg.Approval.ReconcileInterval = 15 * time.Minute
	cfg.Store.RetryMax = 5
	cfg.Store.RetryBaseDelay = 100 * time.Millisecond

	return cfg
}

// Load builds the configuration from defaults, then the YAML file at path
// if it exists, then environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.ListenAddr, "RUNBRIDGE_ADDR")
	set(&c.DatabasePath, "RUNBRIDGE_DB")
	set(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	set(&c.Slack.BaseURL, "SLACK_BASE_URL")
	set(&c.Model.Provider, "RUNBRIDGE_MODEL_PROVIDER")
	set(&c.Model.Name, "RUNBRIDGE_MODEL_NAME")
	set(&c.Model.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Model.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	set(&c.Search.TavilyAPIKey, "TAVILY_API_KEY")
}

// Validate checks the fields no component can default for itself.
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token is required (slack.bot_token or SLACK_BOT_TOKEN)")
	}

	if c.Model.Provider != ProviderOpenAI && c.Model.Provider != ProviderAnthropic {
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	if c.Approval.DeadlineWindow <= 0 {
		return fmt.Errorf("approval deadline window must be positive")
	}

	if c.Approval.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}

	if c.Store.RetryMax < 0 {
		return fmt.Errorf("store retry max must not be negative")
	}

	return nil
}
