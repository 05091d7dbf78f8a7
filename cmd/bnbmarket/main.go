// Command bnbmarket is the entry point of the BNB Smart Chain prediction
// market client. Without a command it loads the configuration and runs the
// configured mode; with one it runs that command and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/bnbmarket/internal/app"
	"github.com/alanyoungcy/bnbmarket/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Usage = usage
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	command, args := flag.Arg(0), flag.Args()
	if len(args) > 0 {
		args = args[1:]
	}
	switch command {
	case "":
	case "serve", "server":
		cfg.Mode, command = "server", ""
	case "watch":
		cfg.Mode, command = "watch", ""
	default:
		mode, ok := app.CommandMode(command)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
			usage()
			os.Exit(2)
		}
		cfg.Mode = mode
	}

	// Commands print to stdout, so their logs go to stderr.
	logOut := os.Stdout
	if command != "" {
		logOut = os.Stderr
	}
	logger = slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)

	if command != "" {
		err := application.Command(ctx, command, args)
		application.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
			if errors.Is(err, app.ErrUsage) {
				os.Exit(2)
			}
			os.Exit(1)
		}
		return
	}

	logger.Info("bnbmarket starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	err = application.Run(ctx)
	application.Close()
	if err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("bnbmarket stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: bnbmarket [-config file] [serve | watch | command [flags]]\n\nflags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(out, "\ncommands:\n")
	for _, c := range app.Commands() {
		fmt.Fprintf(out, "  %-14s %s\n", c[0], c[1])
	}
}
