package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codespace-tools/warden/internal/api"
	"github.com/codespace-tools/warden/internal/auth"
	"github.com/codespace-tools/warden/internal/config"
	"github.com/codespace-tools/warden/internal/doctor"
	"github.com/codespace-tools/warden/internal/engine"
	"github.com/codespace-tools/warden/internal/events"
	"github.com/codespace-tools/warden/internal/gh"
	"github.com/codespace-tools/warden/internal/ledger"
	"github.com/codespace-tools/warden/internal/lock"
	"github.com/codespace-tools/warden/internal/log"
	"github.com/codespace-tools/warden/internal/outcome"
	"github.com/codespace-tools/warden/internal/retry"
	"github.com/codespace-tools/warden/internal/scheduler"
	"github.com/codespace-tools/warden/internal/storage"
	"github.com/codespace-tools/warden/internal/tui/watch"
)

const version = "0.3.0"

const defaultConfigPath = "./warden.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "workspace":
		os.Exit(runWorkspaceNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "sweep":
		os.Exit(runSweep(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("warden version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`warden - workspace lifecycle enforcement daemon

Usage:
  warden <noun> <action> [flags]

System Commands:
  system start        Start the daemon in foreground
  sweep               Run one enforcement cycle and exit

Workspace Commands:
  workspace stop <id>      Stop a workspace now
  workspace activity <id>  Record activity on a workspace

Config Commands:
  config check        Validate syntax, policy, and integrity
  config lock         Authorize current config (update integrity hashes)

Monitoring:
  watch               Live terminal monitor (requires api.enabled)

General:
  version             Show version information
  help                Show this help message
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 || args[0] == "help" {
		fmt.Fprintln(os.Stderr, "Usage: warden system start [--config <path>]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || args[0] == "help" {
		fmt.Fprintln(os.Stderr, "Usage: warden config <check|lock> [--config <path>] [--json]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runWorkspaceNoun(args []string) int {
	if len(args) < 1 || args[0] == "help" {
		fmt.Fprintln(os.Stderr, "Usage: warden workspace <stop|activity> <id> [--config <path>]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "stop":
		return runWorkspaceAction(args[1:], "stop")
	case "activity":
		return runWorkspaceAction(args[1:], "activity")
	default:
		fmt.Fprintf(os.Stderr, "Unknown workspace action: %s\n", args[0])
		return 1
	}
}

// --- WIRING ---

// buildEngine assembles the enforcement stack from a loaded config. The
// returned cleanup closes the database.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, *outcome.Log, *sql.DB, error) {
	db, err := storage.OpenSQLite(ctx, cfg.Service.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	client := gh.NewClient(cfg.Remote.BaseURL, cfg.Remote.RequestTimeout.Std())
	retrier := retry.New(
		retry.WithMaxAttempts(cfg.Remote.Retry.MaxAttempts),
		retry.WithBaseDelay(cfg.Remote.Retry.BaseDelay.Std()),
	)
	led := ledger.NewStore(db)
	outcomes := outcome.NewLog(db)
	hub := events.NewHub(256)

	eng := engine.New(client, led, cfg, retrier, hub, outcomes)
	return eng, outcomes, db, nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return config.Load(configPath)
}

// --- ACTIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("warden starting", "version", version, "config", cfg.Path)

	if warning, err := config.VerifyIntegrity(cfg.Path); err != nil {
		logger.Error("config integrity check failed", "error", err)
		return 1
	} else if warning != "" {
		logger.Warn(warning)
	}

	lockPath := cfg.Service.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(filepath.Dir(cfg.Service.DBPath), "warden.lock")
	}
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, outcomes, db, err := buildEngine(ctx, cfg)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Service.DBPath)

	sched := scheduler.New(
		cfg.Service.TickInterval.Std(),
		cfg.Service.TickJitter.Std(),
		cfg.Service.OutcomeRetention.Std(),
		eng, outcomes,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	sched.Start(ctx)
	defer sched.Stop()

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}
		apiServer := api.New(apiConfig, eng, outcomes, cfg.Rules, eng.Hub(), log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("warden running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("warden stopped")
	return 0
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := context.Background()
	eng, _, db, err := buildEngine(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := eng.PeriodicCheck(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}

	stats := eng.Stats()
	if stats.Skipped {
		fmt.Println("Sweep skipped (policy disabled or no credential)")
		return 0
	}
	fmt.Printf("Sweep complete: %d listed, %d running, %d stopped, %d failed\n",
		stats.Listed, stats.Running, stats.Stopped, stats.Failed)
	return 0
}

func runWorkspaceAction(args []string, action string) int {
	fs := flag.NewFlagSet("workspace "+action, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: warden workspace %s <id>\n", action)
		return 1
	}
	workspaceID := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := context.Background()
	eng, _, db, err := buildEngine(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		return 1
	}
	defer db.Close()

	switch action {
	case "stop":
		if err := eng.ManualStop(ctx, workspaceID); err != nil {
			fmt.Fprintf(os.Stderr, "Stop failed: %v\n", err)
			return 1
		}
		fmt.Printf("Workspace %s stopped\n", workspaceID)
	case "activity":
		if err := eng.ActivityEvent(ctx, workspaceID); err != nil {
			fmt.Fprintf(os.Stderr, "Activity check failed: %v\n", err)
			return 1
		}
		fmt.Printf("Activity recorded for %s\n", workspaceID)
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if warning, err := config.VerifyIntegrity(cfg.Path); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, doctor.Issue{Category: "integrity", Message: err.Error()})
	} else if warning != "" {
		result.Warnings = append(result.Warnings, doctor.Issue{Category: "integrity", Message: warning})
	}

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to format result: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	// Must parse before locking; never authorize an unloadable config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if err := config.Lock(cfg.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Config locked: %s\n", cfg.Path)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8321", "Warden API base URL")
	apiKey := fs.String("api-key", os.Getenv("WARDEN_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "An API key is required (--api-key or WARDEN_API_KEY)")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}
