package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"TrendWatcher/internal/app"
	"TrendWatcher/internal/config"
	"TrendWatcher/internal/logging"
)

// Options are the command-line flags; env vars fill in unset flags.
type Options struct {
	Config      string `short:"c" long:"config" env:"TRENDWATCHER_CONFIG" description:"Path to YAML configuration"`
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" description:"Log level: debug, info, warn, error"`
	RefreshOnce bool   `long:"refresh-once" description:"Refresh every subscription once and exit"`
}

func main() {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg := config.Load(opts.Config)
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if opts.RefreshOnce {
		report, err := application.RefreshOnce(ctx)
		if err != nil {
			logger.Error("refresh failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("refreshed %d subscriptions: %d succeeded, %d failed, %d skipped\n",
			report.Total, report.Succeeded, report.Failed, report.Skipped)
		return
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
