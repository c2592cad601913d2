package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sendsol",
		Usage: "Send SOL from a local keypair to a fixed recipient",
		Description: `A command-line driver for the sendsol payment flow.

Configuration comes from the environment (SOLANA_RPC_URL is required). The send
command waits for balance and network data, submits a single transfer and
reports its outcome. Failed transfers are never retried.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before:  loadConfig,
		Commands: []*cli.Command{
			sendCommand(),
			balanceCommand(),
			referenceCommand(),
			recipientCommand(),
			validateCommand(),
			watchCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Path to a solana-keygen keypair file",
				EnvVars: []string{"SENDSOL_KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address while the command runs (e.g., :9102)",
				EnvVars: []string{"METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output (implies --json)",
			},
		},
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
