// Package config loads cerechat settings from a YAML config file with
// environment fallbacks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the user-facing settings.
type Config struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
	Stream       bool   `mapstructure:"stream"`
	ContextLimit int    `mapstructure:"context_limit"`
}

const (
	defaultBaseURL      = "https://api.cerebras.ai/v1"
	defaultModel        = "llama3.1-8b"
	defaultContextLimit = 24
)

// Load reads the config file (optional) and applies defaults and the
// CEREBRAS_API_KEY environment fallback.
func Load() (*Config, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(configDir, "cerechat"))
	v.AddConfigPath(".")

	v.SetDefault("base_url", defaultBaseURL)
	v.SetDefault("model", defaultModel)
	v.SetDefault("stream", true)
	v.SetDefault("context_limit", defaultContextLimit)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("CEREBRAS_API_KEY")
	}

	return &cfg, nil
}

// expandEnv expands ${VAR} or $VAR in a string.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// Path returns where the config file should be located.
func Path() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cerechat", "config.yaml"), nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	content := fmt.Sprintf(`# cerechat configuration
api_key: %s
base_url: %s
model: %s
stream: %t
context_limit: %d

# Prepended to every request as a system turn when non-empty
system_prompt: %q
`, cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Stream, cfg.ContextLimit, cfg.SystemPrompt)

	return os.WriteFile(path, []byte(content), 0600)
}
