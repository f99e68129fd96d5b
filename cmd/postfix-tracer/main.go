// postfix-tracer reconstructs per-message delivery transactions from Postfix
// mail logs and reports them as text, JSON, or OpenTelemetry spans.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mrzor/postfix-tracer/internal/config"
	"github.com/urfave/cli/v3"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "postfix-tracer",
		Usage:   "Correlate Postfix log lines into per-message transactions",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Writer:  stdout,

		// Attribute expressions may contain commas.
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Mail log to read, - for stdin (env POSTFIX_TRACER_INPUT)",
			},
			&cli.StringFlag{
				Name:    "report",
				Aliases: []string{"r"},
				Usage:   "Comma-separated reporters: summary, spam, detail, json, otel (env POSTFIX_TRACER_REPORT)",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: `Only report transactions matching this expression, e.g. 'status == "spam"' (env POSTFIX_TRACER_FILTER)`,
			},
			&cli.StringSliceFlag{
				Name:    "attribute",
				Aliases: []string{"a"},
				Usage:   "Custom span attribute NAME=EXPR, repeatable; appended to POSTFIX_TRACER_ATTRIBUTES",
			},
			&cli.StringFlag{
				Name:    "trace-id",
				Aliases: []string{"t"},
				Usage:   "Expression giving each span's trace ID, e.g. message_id (env POSTFIX_TRACER_TRACE_ID)",
			},
			&cli.StringFlag{
				Name:  "removal",
				Usage: "What a non-final queue removal does: mark, drop or all (env POSTFIX_TRACER_REMOVAL)",
			},
			&cli.IntFlag{
				Name:  "retain-lines",
				Usage: "Lines a finalized transaction stays reachable for late lines (env POSTFIX_TRACER_RETAIN_LINES)",
			},
			&cli.IntFlag{
				Name:  "idle-lines",
				Usage: "Evict unfinished transactions idle for this many lines, 0 disables (env POSTFIX_TRACER_IDLE_LINES)",
			},
			&cli.IntFlag{
				Name:  "max-transactions",
				Usage: "Upper bound on tracked transactions, 0 disables (env POSTFIX_TRACER_MAX_TRANSACTIONS)",
			},
			&cli.IntFlag{
				Name:  "sweep-every",
				Usage: "Run expiry every this many lines, 0 disables (env POSTFIX_TRACER_SWEEP_EVERY)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9154 (env POSTFIX_TRACER_METRICS_ADDR)",
			},
			&cli.BoolFlag{
				Name:  "forward-dns",
				Usage: "Resolve relay hostnames seen in the log to learn more IP to name pairs (env POSTFIX_TRACER_FORWARD_DNS)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (env POSTFIX_TRACER_LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json (env POSTFIX_TRACER_LOG_FORMAT)",
			},
			&cli.StringFlag{
				Name:  "log-output",
				Usage: "stderr, stdout or a file path (env POSTFIX_TRACER_LOG_OUTPUT)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "Load environment defaults from this file if it exists",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(ctx, cfg, cmd.Root().Writer)
		},
	}
}

// loadConfig resolves configuration: .env file, then environment, then flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return nil, err
	}

	envCfg, err := config.ParseEnvConfig()
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, envCfg); err != nil {
		return nil, err
	}

	return config.New(envCfg, cmd.StringSlice("attribute"))
}

// applyFlags overrides env values with the flags given on the command line.
func applyFlags(cmd *cli.Command, cfg *config.EnvConfig) error {
	texts := map[string]*string{
		"file":         &cfg.Input,
		"report":       &cfg.Report,
		"filter":       &cfg.Filter,
		"trace-id":     &cfg.TraceID,
		"removal":      &cfg.Removal,
		"metrics-addr": &cfg.MetricsAddr,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"log-output":   &cfg.LogOutput,
	}
	for name, dst := range texts {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}

	counts := map[string]*uint64{
		"retain-lines": &cfg.RetainLines,
		"idle-lines":   &cfg.IdleLines,
		"sweep-every":  &cfg.SweepEvery,
	}
	for name, dst := range counts {
		if !cmd.IsSet(name) {
			continue
		}
		n := int64(cmd.Int(name))
		if n < 0 {
			return fmt.Errorf("--%s must not be negative", name)
		}
		*dst = uint64(n)
	}

	if cmd.IsSet("max-transactions") {
		cfg.MaxTransactions = int(cmd.Int("max-transactions"))
	}
	if cmd.IsSet("forward-dns") {
		cfg.ForwardDNS = cmd.Bool("forward-dns")
	}
	return nil
}
