package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
service:
  name: warden
  tick_interval: 2m
  tick_jitter: 5s
  log_level: debug
  db_path: ./data/warden.db
remote:
  base_url: https://api.github.com
  token_env: WARDEN_TOKEN
  request_timeout: 10s
  retry:
    max_attempts: 4
    base_delay: 2s
policy:
  enabled: true
  max_concurrent: 3
  idle_threshold: 45m
  excluded_repos:
    - org/protected
`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.TickInterval.Std() != 2*time.Minute {
		t.Errorf("tick_interval = %v", cfg.Service.TickInterval.Std())
	}
	if cfg.Service.TickJitter.Std() != 5*time.Second {
		t.Errorf("tick_jitter = %v", cfg.Service.TickJitter.Std())
	}
	if cfg.Remote.Retry.MaxAttempts != 4 {
		t.Errorf("max_attempts = %d", cfg.Remote.Retry.MaxAttempts)
	}
	if cfg.Remote.Retry.BaseDelay.Std() != 2*time.Second {
		t.Errorf("base_delay = %v", cfg.Remote.Retry.BaseDelay.Std())
	}
	if cfg.Policy.MaxConcurrent != 3 || cfg.Policy.IdleThreshold.Std() != 45*time.Minute {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if len(cfg.Policy.ExcludedRepos) != 1 || cfg.Policy.ExcludedRepos[0] != "org/protected" {
		t.Errorf("excluded_repos = %v", cfg.Policy.ExcludedRepos)
	}
	if !filepath.IsAbs(cfg.Path) {
		t.Errorf("Path should be absolute, got %q", cfg.Path)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	// A minimal config inherits everything else from Defaults.
	cfg, err := Load(writeConfig(t, "service:\n  log_level: info\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.TickInterval.Std() != 5*time.Minute {
		t.Errorf("default tick_interval = %v", cfg.Service.TickInterval.Std())
	}
	if cfg.Remote.BaseURL != "https://api.github.com" {
		t.Errorf("default base_url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Policy.MaxConcurrent != 2 {
		t.Errorf("default max_concurrent = %d", cfg.Policy.MaxConcurrent)
	}
	if cfg.API.Enabled {
		t.Error("API should default to disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "service: [broken"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("WARDEN_TEST_TOKEN_VALUE", "secret-token")

	cfg, err := Load(writeConfig(t, `
remote:
  token: ${WARDEN_TEST_TOKEN_VALUE}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.Token != "secret-token" {
		t.Errorf("token = %q", cfg.Remote.Token)
	}
}

func TestLoadUnsetEnvVarFailsValidation(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
remote:
  token: ${WARDEN_DEFINITELY_UNSET_VAR}
`))
	if err == nil || !strings.Contains(err.Error(), "WARDEN_DEFINITELY_UNSET_VAR") {
		t.Fatalf("expected unset-variable error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "zero tick interval",
			mutate:  func(cfg *Config) { cfg.Service.TickInterval = 0 },
			wantErr: "tick_interval",
		},
		{
			name:    "negative jitter",
			mutate:  func(cfg *Config) { cfg.Service.TickJitter = Duration(-time.Second) },
			wantErr: "tick_jitter",
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Service.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "empty db path",
			mutate:  func(cfg *Config) { cfg.Service.DBPath = "" },
			wantErr: "db_path",
		},
		{
			name:    "empty base url",
			mutate:  func(cfg *Config) { cfg.Remote.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(cfg *Config) { cfg.Remote.Retry.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "zero max concurrent",
			mutate:  func(cfg *Config) { cfg.Policy.MaxConcurrent = 0 },
			wantErr: "max_concurrent",
		},
		{
			name:    "negative idle threshold",
			mutate:  func(cfg *Config) { cfg.Policy.IdleThreshold = Duration(-time.Minute) },
			wantErr: "idle_threshold",
		},
		{
			name: "api enabled without listen",
			mutate: func(cfg *Config) {
				cfg.API.Enabled = true
				cfg.API.Listen = ""
			},
			wantErr: "api.listen",
		},
		{
			name: "api token without scopes",
			mutate: func(cfg *Config) {
				cfg.API.Enabled = true
				cfg.API.Auth.Tokens = []APIToken{{Token: "tok"}}
			},
			wantErr: "scopes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	t.Parallel()

	if err := validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv("WARDEN_TEST_RESOLVE", "from-env")

	cfg := Defaults()
	cfg.Remote.Token = "inline"
	cfg.Remote.TokenEnv = "WARDEN_TEST_RESOLVE"
	if got := cfg.ResolveToken(); got != "inline" {
		t.Errorf("inline token should win, got %q", got)
	}

	cfg.Remote.Token = ""
	if got := cfg.ResolveToken(); got != "from-env" {
		t.Errorf("expected env token, got %q", got)
	}

	cfg.Remote.TokenEnv = "WARDEN_TEST_RESOLVE_UNSET"
	if got := cfg.ResolveToken(); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}

func TestRulesSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Policy.ExcludedRepos = []string{"org/a"}

	rules := cfg.Rules()
	rules.ExcludedRepos[0] = "mutated"

	if cfg.Policy.ExcludedRepos[0] != "org/a" {
		t.Error("Rules() must copy the exclusion list")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{"duration string", "tick_interval: 90s", 90 * time.Second, false},
		{"compound duration", "tick_interval: 1h15m", 75 * time.Minute, false},
		{"bare integer nanoseconds", "tick_interval: 1000000000", time.Second, false},
		{"garbage string", "tick_interval: soonish", 0, true},
		{"wrong type", "tick_interval: [1, 2]", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s ServiceConfig
			err := yaml.Unmarshal([]byte(tt.yaml), &s)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if s.TickInterval.Std() != tt.want {
				t.Fatalf("got %v, want %v", s.TickInterval.Std(), tt.want)
			}
		})
	}
}
