// Package config loads pipeline configuration from the environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Env selects where the browser runs.
const (
	EnvLocal  = "local"
	EnvRemote = "remote"
)

// ValidationError reports a config field that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the resolved runtime configuration.
type Config struct {
	Env      string `mapstructure:"env"`
	Model    string `mapstructure:"model"`
	Headless bool   `mapstructure:"headless"`
	Verbose  bool   `mapstructure:"verbose"`
	LogFile  string `mapstructure:"log_file"`

	OpenAIKey    string `mapstructure:"openai_api_key"`
	AnthropicKey string `mapstructure:"anthropic_api_key"`

	BrowserbaseAPIKey    string `mapstructure:"browserbase_api_key"`
	BrowserbaseProjectID string `mapstructure:"browserbase_project_id"`
	BrowserbaseSessionID string `mapstructure:"browserbase_session_id"`

	EnableCaching    bool   `mapstructure:"enable_caching"`
	RedisAddr        string `mapstructure:"redis_addr"`
	InferenceRetries int    `mapstructure:"inference_retries"`

	DOMSettleTimeout time.Duration `mapstructure:"dom_settle_timeout"`
}

// Load reads configuration with the precedence file < env. Environment
// variables use the BROWSERPILOT_ prefix except for the conventional
// provider keys, which are bound by their well-known names.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("env", EnvLocal)
	v.SetDefault("model", "gpt-4o")
	v.SetDefault("headless", false)
	v.SetDefault("verbose", false)
	v.SetDefault("enable_caching", true)
	v.SetDefault("inference_retries", 5)
	v.SetDefault("dom_settle_timeout", 30*time.Second)

	v.SetEnvPrefix("BROWSERPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envVar := range map[string]string{
		"openai_api_key":         "OPENAI_API_KEY",
		"anthropic_api_key":      "ANTHROPIC_API_KEY",
		"browserbase_api_key":    "BROWSERBASE_API_KEY",
		"browserbase_project_id": "BROWSERBASE_PROJECT_ID",
		"browserbase_session_id": "BROWSERBASE_SESSION_ID",
	} {
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvRemote:
	default:
		return &ValidationError{Field: "env", Reason: fmt.Sprintf("must be %q or %q, got %q", EnvLocal, EnvRemote, c.Env)}
	}
	if c.Model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if c.Env == EnvRemote {
		if c.BrowserbaseAPIKey == "" {
			return &ValidationError{Field: "browserbase_api_key", Reason: "required for remote env"}
		}
		if c.BrowserbaseProjectID == "" {
			return &ValidationError{Field: "browserbase_project_id", Reason: "required for remote env"}
		}
	}
	if c.InferenceRetries < 1 {
		return &ValidationError{Field: "inference_retries", Reason: "must be at least 1"}
	}
	if c.DOMSettleTimeout <= 0 {
		return &ValidationError{Field: "dom_settle_timeout", Reason: "must be positive"}
	}
	return nil
}

// APIKeyFor returns the provider key the chosen model needs, or an error
// naming the missing variable.
func (c *Config) APIKeyFor(model string) (string, error) {
	if strings.HasPrefix(model, "claude") {
		if c.AnthropicKey == "" {
			return "", &ValidationError{Field: "anthropic_api_key", Reason: "required for model " + model}
		}
		return c.AnthropicKey, nil
	}
	if c.OpenAIKey == "" {
		return "", &ValidationError{Field: "openai_api_key", Reason: "required for model " + model}
	}
	return c.OpenAIKey, nil
}
