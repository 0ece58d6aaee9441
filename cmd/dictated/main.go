package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/runtime"
)

var version = "0.1.0-dev"

const defaultConfigPath = "dictation.yaml"

func main() {
	var (
		configPath  string
		envFile     string
		console     bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file (empty for defaults)")
	flag.StringVar(&envFile, "env-file", ".env", "Optional file of LOQA_* overrides loaded before the config")
	flag.BoolVar(&console, "console", false, "Read control commands (start, stop, keyboard on|off, quit) from stdin")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", slog.String("path", envFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath, configPath == defaultConfigPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))

	var opts []runtime.Option
	if console {
		opts = append(opts, runtime.WithConsole(os.Stdin))
	}
	rt := runtime.New(cfg, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// loadConfig reads the config at path. When writeDefaults is set and the
// file does not exist yet, the defaults are written there first.
func loadConfig(path string, writeDefaults bool) (config.Config, error) {
	if writeDefaults {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := config.Save(path, config.Default()); err != nil {
				return config.Config{}, err
			}
			slog.Info("wrote default config", slog.String("path", path))
		}
	}
	return config.Load(path)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
