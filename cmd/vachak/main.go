// Command vachak is the main entry point for the Vachak speech synthesis server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vachaklabs/vachak/internal/app"
	"github.com/vachaklabs/vachak/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vachak: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vachak: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vachak starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, applyConfigChange(application, logLevel))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, application.Backends())

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Config hot reload ───────────────────────────────────────────────────────────

// applyConfigChange folds a reloaded config into the running process. Only the
// log level and the rewrite stage apply live; every other section is reported
// so the operator knows a restart is needed.
func applyConfigChange(application *app.App, logLevel *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RewriteChanged {
			if err := application.UpdateRewrite(d.NewRewrite); err != nil {
				slog.Error("rewrite config rejected, keeping previous stage", "err", err)
			}
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, backends []string) {
	primary := cfg.Synthesis.Provider.Name
	switch {
	case cfg.Synthesis.Provider.Region != "":
		primary += " / " + cfg.Synthesis.Provider.Region
	case cfg.Synthesis.Provider.BaseURL != "":
		primary += " / " + cfg.Synthesis.Provider.BaseURL
	}

	fallbacks := ""
	if len(backends) > 1 {
		fallbacks = strings.Join(backends[1:], ", ")
	}

	rewrite := ""
	if cfg.Rewrite.Enabled {
		rewrite = cfg.Rewrite.Provider + " / " + cfg.Rewrite.Model
	}

	tls := "(plain http)"
	if cfg.Server.TLS != nil {
		tls = "enabled"
	}

	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        Vachak — startup summary        ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Backend", primary)
	printRow("Fallbacks", fallbacks)
	printRow("Cache", fmt.Sprintf("%d / %s", cfg.Cache.MaxEntries, cfg.Cache.TTL.Std()))
	printRow("Rewrite", rewrite)
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("TLS", tls)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned [slog.LevelVar] lets the
// config watcher change verbosity without a restart.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
