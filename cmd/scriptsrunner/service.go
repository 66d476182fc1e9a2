package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/scriptsrunner/internal/api"
	"github.com/mattjoyce/scriptsrunner/internal/config"
	"github.com/mattjoyce/scriptsrunner/internal/dispatch"
	"github.com/mattjoyce/scriptsrunner/internal/doctor"
	"github.com/mattjoyce/scriptsrunner/internal/lock"
	"github.com/mattjoyce/scriptsrunner/internal/log"
	"github.com/mattjoyce/scriptsrunner/internal/state"
	"github.com/mattjoyce/scriptsrunner/internal/storage"
	"github.com/mattjoyce/scriptsrunner/internal/supervisor"
	"github.com/mattjoyce/scriptsrunner/internal/tui/watch"
)

const shutdownTimeout = 15 * time.Second

// localRuntime bundles what a process needs to drive scripts locally.
type localRuntime struct {
	cfg   *config.Config
	lock  *lock.PIDLock
	db    *sql.DB
	store *state.Store
	orch  *dispatch.Orchestrator
}

func (rt *localRuntime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.lock != nil {
		_ = rt.lock.Release()
	}
}

// openRuntime takes the instance lock, opens the state database and builds
// an orchestrator over a real supervisor.
func openRuntime(ctx context.Context, cfg *config.Config, opts dispatch.Options) (*localRuntime, error) {
	rt := &localRuntime{cfg: cfg}

	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	rt.lock = pidLock

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.db = db
	rt.store = state.NewStore(db)

	if opts.Notifier == nil {
		notifier, err := buildNotifier(cfg.Runner)
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts.Notifier = notifier
	}

	sup := supervisor.New(supervisor.Options{
		Shell:           cfg.Runner.Shell,
		TerminalCommand: cfg.Runner.TerminalCommand,
		MaxOutputBytes:  cfg.Runner.MaxOutputBytes,
		KillGrace:       cfg.Runner.KillGrace,
	})
	rt.orch = dispatch.New(sup, rt.store, opts)
	if err := rt.orch.Init(ctx, cfg.Settings); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func buildNotifier(rc config.RunnerConfig) (dispatch.Notifier, error) {
	notifiers := dispatch.MultiNotifier{dispatch.LogNotifier{}}
	if rc.NotifyCommand != "" {
		cmd, err := dispatch.NewCommandNotifier(rc.NotifyCommand)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, cmd)
	}
	return notifiers, nil
}

func setupLogging(cfg *config.Config) {
	log.Setup(log.Options{
		Level:      cfg.Service.LogLevel,
		Format:     cfg.Service.LogFormat,
		File:       cfg.Service.LogFile,
		MaxSizeMB:  cfg.Service.LogMaxSizeMB,
		MaxBackups: cfg.Service.LogMaxBackups,
		MaxAgeDays: cfg.Service.LogMaxAgeDays,
	})
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	setupLogging(cfg)
	logger := log.WithComponent("main")
	logger.Info("scriptsrunner starting", "version", version, "config", cfg.SourcePath, "state", cfg.State.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, dispatch.Options{})
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Error("another instance is running", "lock", lock.PathFor(cfg.State.Path), "error", err)
		} else {
			logger.Error("startup failed", "error", err)
		}
		return 1
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		apiServer := api.New(
			api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.Auth.APIKey},
			rt.orch,
			rt.orch.Hub(),
			rt.orch.Metrics().Handler(),
			log.WithComponent("api"),
		)
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	} else {
		logger.Warn("API disabled; scripts can only be driven from this process")
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.orch.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		return nil
	})

	logger.Info("scriptsrunner running (press Ctrl+C to stop)")

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("scriptsrunner stopped")
	return 0
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	OK     bool          `json:"ok"`
	Checks []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := collectStatus(*configPath)

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := okMark(c.OK)
			fmt.Printf("%s %-8s %s\n", mark, c.Name, c.Detail)
		}
	}
	if !report.OK {
		return 1
	}
	return 0
}

func collectStatus(configPath string) statusReport {
	report := statusReport{OK: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.OK = false
		}
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		add("config", false, err.Error())
		return report
	}
	source := cfg.SourcePath
	if source == "" {
		source = "built-in defaults"
	}
	add("config", true, source)

	if _, err := os.Stat(cfg.State.Path); err != nil {
		add("database", false, fmt.Sprintf("%s: %v", cfg.State.Path, err))
	} else {
		add("database", true, cfg.State.Path)
	}

	lockPath := lock.PathFor(cfg.State.Path)
	if pid, ok := lock.HolderPID(lockPath); ok && supervisor.Alive(pid) {
		add("lock", true, fmt.Sprintf("held by pid %d", pid))
	} else {
		add("lock", true, "not held (service not running)")
	}

	if !cfg.API.Enabled {
		add("api", true, "disabled")
		return report
	}
	c := newAPIClient(apiURLFor(cfg), apiKeyFor(cfg, ""))
	var health api.HealthzResponse
	if err := c.do(context.Background(), "GET", "/healthz", nil, &health); err != nil {
		add("api", false, err.Error())
		return report
	}
	add("api", health.Status == "ok", fmt.Sprintf("%s, running %d/%d, queued %d",
		health.Status, health.Running, health.MaxConcurrent, health.Queued))
	return report
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, effectiveSettings(cfg)).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// effectiveSettings prefers the stored settings when a database already
// exists; the config only seeds a fresh one.
func effectiveSettings(cfg *config.Config) state.Settings {
	if _, err := os.Stat(cfg.State.Path); err != nil {
		return cfg.Settings
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return cfg.Settings
	}
	defer db.Close()
	settings, err := state.NewStore(db).LoadSettings(ctx, cfg.Settings)
	if err != nil {
		return cfg.Settings
	}
	return settings
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	shown := *cfg
	if shown.API.Auth.APIKey != "" {
		shown.API.Auth.APIKey = "********"
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(shown, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(shown)
		fmt.Print(string(data))
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv(apiKeyEnv), "API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url, key, err := resolveAPI(*configPath, *apiURL, *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(url, key))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// apiURLFor derives a client URL from api.listen. Wildcard hosts are
// reached over loopback.
func apiURLFor(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.API.Listen)
	if err != nil {
		return "http://" + cfg.API.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func apiKeyFor(cfg *config.Config, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(apiKeyEnv); env != "" {
		return env
	}
	return cfg.API.Auth.APIKey
}

// resolveAPI fills the API URL and key from the config when not given.
func resolveAPI(configPath, apiURL, apiKey string) (string, string, error) {
	if apiURL != "" && apiKey != "" {
		return apiURL, apiKey, nil
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		if apiURL != "" {
			return apiURL, apiKey, nil
		}
		return "", "", err
	}
	if apiURL == "" {
		apiURL = apiURLFor(cfg)
	}
	return apiURL, apiKeyFor(cfg, apiKey), nil
}
