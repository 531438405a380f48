package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/codespace-tools/warden/internal/policy"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// ${ENV_VAR} references inside the file are expanded before parsing;
// references to unset variables are left intact so validation can report them.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.Path = absPath

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

// expandEnvVars substitutes ${VAR} with the environment value when set.
// Unset variables are preserved literally so validate() can flag them.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.TickJitter < 0 {
		return fmt.Errorf("service.tick_jitter must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Service.DBPath == "" {
		return fmt.Errorf("service.db_path is required")
	}

	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if envVarPattern.MatchString(cfg.Remote.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.Remote.Token)
		return fmt.Errorf("remote.token: environment variable ${%s} is not set", matches[1])
	}
	if cfg.Remote.RequestTimeout <= 0 {
		return fmt.Errorf("remote.request_timeout must be positive")
	}
	if cfg.Remote.Retry.MaxAttempts < 1 {
		return fmt.Errorf("remote.retry.max_attempts must be at least 1")
	}
	if cfg.Remote.Retry.BaseDelay <= 0 {
		return fmt.Errorf("remote.retry.base_delay must be positive")
	}

	// The eviction policy does not clamp; the cap is enforced here.
	if cfg.Policy.MaxConcurrent < 1 {
		return fmt.Errorf("policy.max_concurrent must be at least 1")
	}
	if cfg.Policy.IdleThreshold < 0 {
		return fmt.Errorf("policy.idle_threshold must not be negative (0 disables idle eviction)")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if envVarPattern.MatchString(tok.Token) {
				matches := envVarPattern.FindStringSubmatch(tok.Token)
				return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}

// Rules returns the immutable policy snapshot handed to the eviction policy
// for a single enforcement cycle.
func (c *Config) Rules() policy.Rules {
	excluded := make([]string, len(c.Policy.ExcludedRepos))
	copy(excluded, c.Policy.ExcludedRepos)
	return policy.Rules{
		Enabled:       c.Policy.Enabled,
		MaxConcurrent: c.Policy.MaxConcurrent,
		IdleThreshold: c.Policy.IdleThreshold.Std(),
		ExcludedRepos: excluded,
	}
}
