package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/app"
	"github.com/rovshanmuradov/position-monitor/internal/config"
	"github.com/rovshanmuradov/position-monitor/internal/logger"
	"github.com/rovshanmuradov/position-monitor/internal/report"
)

const usage = `Usage:
  monitor run  --mode {advise|execute} --interval <seconds> --account <id> [--config file]
  monitor once --account <id> [--config file]
  monitor export --journal <file> [--format csv|json] [--out dir] [--position id] [--verdict v]
                 [--since RFC3339] [--until RFC3339] [--actionable] [--daily YYYY-MM-DD]
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return app.ExitConfig
	}

	cmd := args[0]
	if cmd != "run" && cmd != "once" && cmd != "export" {
		if cmd == "-h" || cmd == "--help" || cmd == "help" {
			fmt.Fprint(stdout, usage)
			return app.ExitOK
		}
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return app.ExitConfig
	}

	fs := newFlagSet(cmd, stderr)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return app.ExitOK
		}
		return app.ExitConfig
	}
	if cmd == "export" {
		return runExport(fs, stdout, stderr)
	}

	configFile, _ := fs.GetString("config")
	envFile, _ := fs.GetString("env-file")
	account, _ := fs.GetString("account")
	cfg, err := config.Load(config.Options{
		File:    configFile,
		EnvFile: envFile,
		Account: account,
		Flags:   fs,
	})
	if err != nil {
		fmt.Fprintf(stderr, "monitor: %v\n", err)
		return app.ExitCode(err)
	}
	if lvl, _ := fs.GetString("log-level"); fs.Changed("log-level") {
		cfg.Log.Level = lvl
	}

	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "monitor: %v\n", err)
		return app.ExitConfig
	}
	defer func() {
		_ = log.Sync()
		_ = closeLog()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting position monitor",
		zap.String("command", cmd),
		zap.String("account", cfg.Account),
		zap.String("mode", string(cfg.Monitor.Mode)),
		zap.Duration("interval", cfg.Monitor.Interval))

	runner, err := app.NewRunner(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize monitor", zap.Error(err))
		return app.ExitCode(err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	if cmd == "once" {
		out, err := runner.Once(ctx)
		if rerr := report.NewRenderer(report.DefaultPalette()).Outcome(stdout, out); rerr != nil {
			log.Warn("Failed to print outcome", zap.Error(rerr))
		}
		if err != nil {
			log.Error("Poll failed", zap.Error(err))
		}
		return app.ExitCode(err)
	}

	err = runner.Run(ctx)
	log.Info("Position monitor stopped", zap.Int("exit_code", app.ExitCode(err)))
	return app.ExitCode(err)
}

func newFlagSet(cmd string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of monitor %s:\n", cmd)
		fs.PrintDefaults()
	}

	fs.String("log-level", "info", "log level: debug, info, warn, error")
	if cmd == "export" {
		fs.String("journal", "", "NDJSON event journal to read")
		fs.String("format", "csv", "csv or json")
		fs.String("out", ".", "output directory")
		fs.String("position", "", "only this position id")
		fs.String("verdict", "", "only this verdict")
		fs.String("since", "", "only recommendations at or after this RFC3339 time")
		fs.String("until", "", "only recommendations before this RFC3339 time")
		fs.Bool("actionable", false, "drop hold verdicts")
		fs.String("daily", "", "write the daily report for this date (YYYY-MM-DD) instead")
		return fs
	}

	fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("env-file", ".env", "dotenv file loaded before the environment is read")
	fs.String("account", "", "account id from the accounts section")
	if cmd == "run" {
		fs.String("mode", "advise", "advise or execute")
		fs.String("interval", "15", "poll interval in seconds")
	}
	return fs
}
