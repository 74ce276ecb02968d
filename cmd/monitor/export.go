package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/app"
	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/export"
	"github.com/rovshanmuradov/position-monitor/internal/logger"
)

func runExport(fs *pflag.FlagSet, stdout, stderr io.Writer) int {
	opts, journal, daily, err := exportOptions(fs)
	if err != nil {
		fmt.Fprintf(stderr, "monitor export: %v\n", err)
		return app.ExitConfig
	}

	level, _ := fs.GetString("log-level")
	log, closeLog, err := logger.New(logger.Config{Level: level, Format: "pretty"})
	if err != nil {
		fmt.Fprintf(stderr, "monitor export: %v\n", err)
		return app.ExitConfig
	}
	defer func() {
		_ = log.Sync()
		_ = closeLog()
	}()

	entries, skipped, err := export.ReadJournalFile(journal, log)
	if err != nil {
		fmt.Fprintf(stderr, "monitor export: %v\n", err)
		return app.ExitConfig
	}
	if skipped > 0 {
		log.Warn("Skipped undecodable journal lines", zap.Int("skipped", skipped))
	}

	exporter := export.NewExporter(log)
	var path string
	if !daily.IsZero() {
		path, err = exporter.ExportDailyReport(entries, daily, opts.OutputDir)
	} else {
		path, err = exporter.ExportRecommendations(entries, opts)
	}
	if err != nil {
		fmt.Fprintf(stderr, "monitor export: %v\n", err)
		return 1
	}
	if path != "" {
		fmt.Fprintln(stdout, path)
	}
	return app.ExitOK
}

func exportOptions(fs *pflag.FlagSet) (export.Options, string, time.Time, error) {
	var opts export.Options

	journal, _ := fs.GetString("journal")
	if journal == "" {
		return opts, "", time.Time{}, fmt.Errorf("--journal is required")
	}

	format, _ := fs.GetString("format")
	f, err := export.ParseFormat(format)
	if err != nil {
		return opts, "", time.Time{}, err
	}
	opts.Format = f
	opts.OutputDir, _ = fs.GetString("out")
	opts.PositionFilter, _ = fs.GetString("position")
	opts.OnlyActionable, _ = fs.GetBool("actionable")

	if v, _ := fs.GetString("verdict"); v != "" {
		verdict, err := domain.ParseVerdict(v)
		if err != nil {
			return opts, "", time.Time{}, err
		}
		opts.VerdictFilter = verdict
	}

	for _, bound := range []struct {
		flag string
		dst  *time.Time
	}{
		{"since", &opts.StartTime},
		{"until", &opts.EndTime},
	} {
		v, _ := fs.GetString(bound.flag)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, "", time.Time{}, fmt.Errorf("--%s: %w", bound.flag, err)
		}
		*bound.dst = t
	}

	var daily time.Time
	if v, _ := fs.GetString("daily"); v != "" {
		daily, err = time.Parse(time.DateOnly, v)
		if err != nil {
			return opts, "", time.Time{}, fmt.Errorf("--daily: %w", err)
		}
	}
	return opts, journal, daily, nil
}
