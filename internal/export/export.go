package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
)

// Format is the export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Options configures an export.
type Options struct {
	Format         Format
	StartTime      time.Time
	EndTime        time.Time
	PositionFilter string
	VerdictFilter  domain.Verdict
	OnlyActionable bool // drop hold verdicts
	OutputDir      string
}

// Exporter writes recommendation history to files.
type Exporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter creates an exporter.
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ExportRecommendations writes the entries matching options and returns the
// output path.
func (e *Exporter) ExportRecommendations(entries []monitor.HistoryEntry, options Options) (string, error) {
	filtered := filterEntries(entries, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no recommendations match the export criteria")
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TS.Before(filtered[j].TS)
	})

	if err := os.MkdirAll(options.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, e.filename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = e.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Recommendations exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

func filterEntries(entries []monitor.HistoryEntry, options Options) []monitor.HistoryEntry {
	var filtered []monitor.HistoryEntry
	for _, entry := range entries {
		rec := entry.Recommendation
		if !options.StartTime.IsZero() && entry.TS.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !entry.TS.Before(options.EndTime) {
			continue
		}
		if options.PositionFilter != "" && rec.PositionID != options.PositionFilter {
			continue
		}
		if options.VerdictFilter != "" && rec.Verdict != options.VerdictFilter {
			continue
		}
		if options.OnlyActionable && rec.Verdict == domain.VerdictHold {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func (e *Exporter) filename(options Options) string {
	prefix := "recommendations_all"
	if options.VerdictFilter != "" {
		prefix = "recommendations_" + string(options.VerdictFilter)
	}
	if options.PositionFilter != "" {
		prefix += "_" + options.PositionFilter
	}
	return fmt.Sprintf("%s_%s.%s", prefix, e.now().UTC().Format("20060102_150405"), options.Format)
}

func exportToCSV(entries []monitor.HistoryEntry, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(monitor.CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, entry := range entries {
		if err := writer.Write(entry.ToCSV()); err != nil {
			return fmt.Errorf("failed to write recommendation: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return file.Close()
}

func (e *Exporter) exportToJSON(entries []monitor.HistoryEntry, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	data := struct {
		ExportTime time.Time              `json:"export_time"`
		Count      int                    `json:"count"`
		Summary    Summary                `json:"summary"`
		Entries    []monitor.HistoryEntry `json:"entries"`
	}{
		ExportTime: e.now().UTC(),
		Count:      len(entries),
		Summary:    Summarize(entries),
		Entries:    entries,
	}
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return file.Close()
}

// Summary holds statistics over exported recommendations.
type Summary struct {
	Total         int                    `json:"total"`
	ByVerdict     map[domain.Verdict]int `json:"by_verdict"`
	Positions     int                    `json:"positions"`
	AvgConfidence decimal.Decimal        `json:"avg_confidence"`
	AvgDissent    decimal.Decimal        `json:"avg_dissent"`
	StartDate     time.Time              `json:"start_date"`
	EndDate       time.Time              `json:"end_date"`
}

// Summarize computes a Summary. entries must be sorted by time.
func Summarize(entries []monitor.HistoryEntry) Summary {
	summary := Summary{
		Total:     len(entries),
		ByVerdict: make(map[domain.Verdict]int, len(domain.Verdicts)),
	}
	if len(entries) == 0 {
		return summary
	}

	summary.StartDate = entries[0].TS
	summary.EndDate = entries[len(entries)-1].TS

	positions := make(map[string]bool)
	confidence := decimal.Zero
	dissent := 0
	for _, entry := range entries {
		rec := entry.Recommendation
		positions[rec.PositionID] = true
		summary.ByVerdict[rec.Verdict]++
		confidence = confidence.Add(rec.AggregateConfidence)
		dissent += rec.DissentCount
	}

	n := decimal.NewFromInt(int64(len(entries)))
	summary.Positions = len(positions)
	summary.AvgConfidence = confidence.DivRound(n, 6)
	summary.AvgDissent = decimal.NewFromInt(int64(dissent)).DivRound(n, 6)
	return summary
}

// DailyReport is the recommendations of one UTC day.
type DailyReport struct {
	Date            time.Time              `json:"date"`
	Count           int                    `json:"count"`
	Summary         Summary                `json:"summary"`
	HourlyBreakdown []HourlyStats          `json:"hourly_breakdown"`
	Entries         []monitor.HistoryEntry `json:"entries"`
}

// HourlyStats counts verdicts within one hour.
type HourlyStats struct {
	Hour        int `json:"hour"`
	Count       int `json:"count"`
	Holds       int `json:"holds"`
	ExitPartial int `json:"exit_partial"`
	ExitFull    int `json:"exit_full"`
}

// ExportDailyReport writes the report for the UTC day containing date. It
// returns an empty path when the day has no recommendations.
func (e *Exporter) ExportDailyReport(entries []monitor.HistoryEntry, date time.Time, outputDir string) (string, error) {
	date = date.UTC()
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	filtered := filterEntries(entries, Options{StartTime: startOfDay, EndTime: startOfDay.Add(24 * time.Hour)})
	if len(filtered) == 0 {
		e.logger.Info("No recommendations for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TS.Before(filtered[j].TS)
	})

	report := DailyReport{
		Date:            startOfDay,
		Count:           len(filtered),
		Summary:         Summarize(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered),
		Entries:         filtered,
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))
	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	e.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("count", len(filtered)))
	return outputPath, file.Close()
}

func hourlyBreakdown(entries []monitor.HistoryEntry) []HourlyStats {
	hourly := make(map[int]*HourlyStats)
	for _, entry := range entries {
		hour := entry.TS.UTC().Hour()
		stats, ok := hourly[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			hourly[hour] = stats
		}
		stats.Count++
		switch entry.Recommendation.Verdict {
		case domain.VerdictExitPartial:
			stats.ExitPartial++
		case domain.VerdictExitFull:
			stats.ExitFull++
		default:
			stats.Holds++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourly[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
