package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gateway/internal/app"
	"gateway/internal/config"
)

var (
	configFile = flag.String("config", "configs/gateway.yaml", "config file path")
	logLevel   = flag.String("log-level", "info", "log level")
	watch      = flag.Bool("watch", true, "reload routes when the config file changes")
)

func main() {
	flag.Parse()

	setupLogging(*logLevel)

	cfg, err := config.NewLoader(*configFile).Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	gw, err := app.New(cfg, slog.Default())
	if err != nil {
		slog.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		slog.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	if *watch {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path: *configFile,
			OnChange: func(next *config.Config) {
				if err := gw.Reload(next); err != nil {
					slog.Error("reload rejected", "error", err)
				}
			},
		})
		if err != nil {
			slog.Error("failed to create config watcher", "error", err)
			os.Exit(1)
		}
		if err := watcher.Start(); err != nil {
			slog.Error("failed to watch config", "error", err)
			os.Exit(1)
		}
		defer watcher.Close()
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to stop gateway", "error", err)
		os.Exit(1)
	}
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogging(level string) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})))
}
