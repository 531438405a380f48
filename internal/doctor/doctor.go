// Package doctor validates warden configuration and environment before the
// daemon starts enforcing anything.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codespace-tools/warden/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host environment.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCredential(r)
	d.validateStorage(r)
	d.validateAPIConfig(r)
	d.warnPolicySharpEdges(r)
	d.warnTiming(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCredential checks that a provider token is resolvable. A missing
// token is a warning, not an error: the daemon runs and reports skipped
// cycles until one is configured.
func (d *Doctor) validateCredential(r *Result) {
	if d.cfg.Remote.Token == "" && d.cfg.Remote.TokenEnv == "" {
		d.addWarning(r, "remote", "token",
			"no token or token_env configured; every cycle will be skipped")
		return
	}
	if d.cfg.ResolveToken() == "" {
		d.addWarning(r, "remote", "token_env",
			fmt.Sprintf("environment variable %s is not set; every cycle will be skipped", d.cfg.Remote.TokenEnv))
	}
}

// validateStorage checks that the database directory is writable.
func (d *Doctor) validateStorage(r *Result) {
	dir := filepath.Dir(d.cfg.Service.DBPath)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Created on first open; check the parent instead.
			if _, perr := os.Stat(filepath.Dir(dir)); perr != nil {
				d.addError(r, "service", "db_path",
					fmt.Sprintf("database directory %s and its parent do not exist", dir))
			}
			return
		}
		d.addError(r, "service", "db_path", fmt.Sprintf("cannot stat database directory: %v", err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "service", "db_path", fmt.Sprintf("%s is not a directory", dir))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "auth",
			"api.enabled is true but no api_key or tokens configured; all requests would be rejected")
	}
	if !strings.HasPrefix(d.cfg.API.Listen, "127.0.0.1:") && !strings.HasPrefix(d.cfg.API.Listen, "localhost:") {
		d.addWarning(r, "api", "listen",
			fmt.Sprintf("listening on %s exposes the control API beyond localhost", d.cfg.API.Listen))
	}
}

// warnPolicySharpEdges flags exclusion patterns likely to over-match.
// Exclusion uses substring containment, so "org/repo" also excludes
// "org/repo-fork".
func (d *Doctor) warnPolicySharpEdges(r *Result) {
	patterns := d.cfg.Policy.ExcludedRepos
	for i, p := range patterns {
		if p == "" {
			d.addWarning(r, "policy", "excluded_repos", "empty exclusion pattern is ignored")
			continue
		}
		if !strings.Contains(p, "/") {
			d.addWarning(r, "policy", "excluded_repos",
				fmt.Sprintf("pattern %q has no owner prefix and matches any repository containing it", p))
		}
		for j, q := range patterns {
			if i == j || q == "" {
				continue
			}
			if strings.Contains(q, p) {
				d.addWarning(r, "policy", "excluded_repos",
					fmt.Sprintf("pattern %q is a substring of %q; the broader pattern already covers it", p, q))
			}
		}
	}
}

func (d *Doctor) warnTiming(r *Result) {
	if d.cfg.Service.TickInterval.Std() < time.Minute {
		d.addWarning(r, "service", "tick_interval",
			fmt.Sprintf("interval %s is aggressive and may burn provider rate limit", d.cfg.Service.TickInterval.Std()))
	}
	idle := d.cfg.Policy.IdleThreshold.Std()
	if idle > 0 && idle < d.cfg.Service.TickInterval.Std() {
		d.addWarning(r, "policy", "idle_threshold",
			"idle_threshold is shorter than tick_interval; workspaces may overstay the threshold by up to one tick")
	}
}

// FormatHuman renders a result for terminal output.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
