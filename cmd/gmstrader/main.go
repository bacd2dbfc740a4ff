// Command gmstrader runs the Deriv digit trading bot. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and starts the
// session in the configured mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/GmsLightVision/Gms-Trader/internal/app"
	"github.com/GmsLightVision/Gms-Trader/internal/config"
	"github.com/GmsLightVision/Gms-Trader/internal/crypto"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML or YAML configuration file (defaults when empty)")
	encryptOut := flag.String("encrypt-token", "", "prompt for the API token and a password and write the sealed token to this file")
	flag.Parse()

	if *encryptOut != "" {
		if err := encryptToken(*encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sealed token written to %s\n", *encryptOut)
		return
	}

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gms trader starting",
		slog.String("mode", cfg.Mode),
		slog.String("market", cfg.Trading.Market),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("gms trader stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func encryptToken(out string) error {
	token, err := prompt("Deriv API token: ")
	if err != nil {
		return err
	}
	password, err := prompt("Password: ")
	if err != nil {
		return err
	}
	confirm, err := prompt("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	return crypto.WriteTokenFile(out, token, password)
}

var stdin = bufio.NewReader(os.Stdin)

// prompt reads a line without echo when stdin is a terminal.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
