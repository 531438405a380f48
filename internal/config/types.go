package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warden configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Remote  RemoteConfig  `yaml:"remote"`
	Policy  PolicyConfig  `yaml:"policy"`
	API     APIConfig     `yaml:"api,omitempty"`

	// Path is the absolute path the config was loaded from. Not serialized.
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name             string   `yaml:"name"`
	TickInterval     Duration `yaml:"tick_interval"`
	TickJitter       Duration `yaml:"tick_jitter,omitempty"`
	LogLevel         string   `yaml:"log_level"`
	DBPath           string   `yaml:"db_path"`
	LockPath         string   `yaml:"lock_path"`
	OutcomeRetention Duration `yaml:"outcome_retention"`
}

// RemoteConfig defines how to reach the workspace provider API.
type RemoteConfig struct {
	BaseURL        string      `yaml:"base_url"`
	Token          string      `yaml:"token,omitempty"`
	TokenEnv       string      `yaml:"token_env,omitempty"`
	RequestTimeout Duration    `yaml:"request_timeout"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for remote calls.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

// PolicyConfig defines the lifecycle policy enforced on workspaces.
type PolicyConfig struct {
	Enabled       bool     `yaml:"enabled"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	IdleThreshold Duration `yaml:"idle_threshold"`
	ExcludedRepos []string `yaml:"excluded_repos,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with admin/full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Duration accepts Go duration strings ("30m", "1h15m") in YAML scalars.
// Bare integers are treated as nanoseconds, matching time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(v)
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v (line %d)", raw, value.Line)
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ResolveToken returns the provider API token, preferring the inline token
// over the token_env indirection. Empty means no credential is configured.
func (c *Config) ResolveToken() string {
	if c.Remote.Token != "" {
		return c.Remote.Token
	}
	if c.Remote.TokenEnv != "" {
		return os.Getenv(c.Remote.TokenEnv)
	}
	return ""
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "warden",
			TickInterval:     Duration(5 * time.Minute),
			TickJitter:       Duration(15 * time.Second),
			LogLevel:         "info",
			DBPath:           "./data/warden.db",
			LockPath:         "./data/warden.lock",
			OutcomeRetention: Duration(30 * 24 * time.Hour),
		},
		Remote: RemoteConfig{
			BaseURL:        "https://api.github.com",
			TokenEnv:       "WARDEN_TOKEN",
			RequestTimeout: Duration(30 * time.Second),
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   Duration(1 * time.Second),
			},
		},
		Policy: PolicyConfig{
			Enabled:       true,
			MaxConcurrent: 2,
			IdleThreshold: Duration(30 * time.Minute),
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8321",
		},
	}
}
