// Package app provides the top-level application lifecycle for the
// bnbmarket client. It wires storage, the backend, the keystore wallet and
// the betting services together and starts the goroutines of the configured
// mode, or runs a single command.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/bnbmarket/internal/config"
	"github.com/alanyoungcy/bnbmarket/internal/crypto"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	// out receives command output.
	out io.Writer
	// prompt builds a secret prompt for a label.
	prompt func(label string) func() (string, error)
	// approver decides wallet prompts when auto-approve is off; nil asks on
	// the terminal.
	approver wallet.Approver
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
		prompt: crypto.TerminalPrompt,
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. Resources are released by Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		w, err := a.wireWallet(ctx, deps)
		if err != nil {
			return err
		}
		return a.ServerMode(ctx, deps, w)
	case "watch":
		return a.WatchMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

func (a *App) wireWallet(ctx context.Context, deps *Dependencies) (*Wallet, error) {
	w, cleanup, err := WireWallet(ctx, a.cfg, deps, WalletOptions{
		Prompt:   a.prompt("key password: "),
		Approver: a.approver,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire wallet: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return w, nil
}
